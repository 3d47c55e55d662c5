// Package scheduler runs the recurring maintenance jobs: inactive session
// reaping, monthly usage rollups and bookkeeping cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"leadflow/internal/metrics"
	"leadflow/internal/services"
	"leadflow/internal/store"
)

const (
	JobReapInactive = "reap_inactive"
	JobUsageRollup  = "usage_rollup"
	JobCleanup      = "cleanup"

	reapSpec    = "*/5 * * * *"
	rollupSpec  = "0 3 * * *"
	cleanupSpec = "30 4 * * 0"

	retention     = 7 * 24 * time.Hour
	jobTimeout    = 10 * time.Minute
	leaderRetry   = time.Minute
	statusOK      = "ok"
	statusFailed  = "failed"
)

type Options struct {
	Inactivity time.Duration
	Location   *time.Location
	Leader     Leader
}

// Scheduler owns the cron runner. Only the elected leader starts it.
type Scheduler struct {
	st         *store.Stores
	sessions   *services.SessionManager
	usage      *services.UsageAccountant
	inactivity time.Duration
	loc        *time.Location
	leader     Leader
	cron       *cron.Cron
	now        func() time.Time
}

func New(st *store.Stores, engine *services.Engine, opts Options) (*Scheduler, error) {
	if st == nil || engine == nil {
		return nil, fmt.Errorf("scheduler needs stores and engine")
	}
	if opts.Inactivity <= 0 {
		return nil, fmt.Errorf("inactivity threshold must be positive, got %s", opts.Inactivity)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	leader := opts.Leader
	if leader == nil {
		leader = soloLeader{}
	}

	s := &Scheduler{
		st:         st,
		sessions:   engine.Sessions,
		usage:      engine.Usage,
		inactivity: opts.Inactivity,
		loc:        loc,
		leader:     leader,
		now:        time.Now,
	}
	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, job := range []struct {
		spec string
		name string
		fn   func(context.Context) (string, error)
	}{
		{reapSpec, JobReapInactive, s.reap},
		{rollupSpec, JobUsageRollup, s.rollup},
		{cleanupSpec, JobCleanup, s.cleanup},
	} {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.Run(context.Background(), job.name, job.fn) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return s, nil
}

// Start blocks until ctx is done. It keeps trying to become leader and runs
// the cron jobs while it is.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(leaderRetry)
	defer ticker.Stop()

	leading := false
	for {
		ok, err := s.leader.TryAcquire(ctx)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("Scheduler leader election failed")
		case ok && !leading:
			leading = true
			s.cron.Start()
			log.Info().Str("timezone", s.loc.String()).Dur("inactivity", s.inactivity).Msg("Scheduler started")
		case !ok && leading:
			leading = false
			<-s.cron.Stop().Done()
			log.Warn().Msg("Scheduler leadership lost, jobs paused")
		case !ok:
			log.Debug().Msg("Another process owns the scheduler")
		}

		select {
		case <-ctx.Done():
			if leading {
				<-s.cron.Stop().Done()
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.leader.Release(releaseCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to release scheduler leadership")
				}
				cancel()
			}
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Run executes one job with job_runs bookkeeping and metrics. It is also the
// entry point of the one-shot CLI commands.
func (s *Scheduler) Run(ctx context.Context, name string, fn func(context.Context) (string, error)) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	started := s.now()
	run, err := s.st.Jobs.Start(ctx, name, store.Now())
	if err != nil {
		log.Warn().Err(err).Str("job", name).Msg("Failed to record job start")
	}

	detail, jobErr := fn(ctx)
	status := statusOK
	if jobErr != nil {
		status = statusFailed
		detail = jobErr.Error()
		log.Error().Err(jobErr).Str("job", name).Msg("Scheduled job failed")
	} else {
		log.Info().Str("job", name).Str("detail", detail).Dur("duration", time.Since(started)).Msg("Scheduled job finished")
	}
	metrics.RecordJob(name, time.Since(started), jobErr)

	if run != nil {
		if err := s.st.Jobs.Finish(ctx, run.ID, status, detail, store.Now()); err != nil {
			log.Warn().Err(err).Str("job", name).Msg("Failed to record job result")
		}
	}
	return jobErr
}

func (s *Scheduler) ReapInactive(ctx context.Context) error {
	return s.Run(ctx, JobReapInactive, s.reap)
}

func (s *Scheduler) Rollup(ctx context.Context) error {
	return s.Run(ctx, JobUsageRollup, s.rollup)
}

func (s *Scheduler) Cleanup(ctx context.Context) error {
	return s.Run(ctx, JobCleanup, s.cleanup)
}

func (s *Scheduler) reap(ctx context.Context) (string, error) {
	n, err := s.sessions.ReapInactive(ctx, s.inactivity)
	return fmt.Sprintf("closed %d sessions", n), err
}

func (s *Scheduler) rollup(ctx context.Context) (string, error) {
	n, err := s.usage.Rollup(ctx, s.now())
	return fmt.Sprintf("%d company summaries", n), err
}

func (s *Scheduler) cleanup(ctx context.Context) (string, error) {
	cutoff := store.Now().Add(-retention)
	runs, err := s.st.Jobs.PurgeBefore(ctx, cutoff)
	if err != nil {
		return "", fmt.Errorf("purge job runs: %w", err)
	}
	evs, err := s.st.Events.PurgeBefore(ctx, cutoff)
	if err != nil {
		return "", fmt.Errorf("purge processed events: %w", err)
	}
	return fmt.Sprintf("removed %d job runs, %d processed events", runs, evs), nil
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
