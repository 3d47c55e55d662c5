package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"leadflow/internal/scheduler"
)

var reapMinutes int

var reapCmd = &cobra.Command{
	Use:   "reap-inactive",
	Short: "Close sessions idle longer than the inactivity threshold, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, s *scheduler.Scheduler) error { return s.ReapInactive(ctx) })
	},
}

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Rebuild the monthly usage summaries, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, s *scheduler.Scheduler) error { return s.Rollup(ctx) })
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove job runs and processed-event markers older than 7 days, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, s *scheduler.Scheduler) error { return s.Cleanup(ctx) })
	},
}

func init() {
	reapCmd.Flags().IntVar(&reapMinutes, "minutes", 0, "inactivity threshold in minutes (default INACTIVITY_MINUTES)")
}

func runJob(fn func(context.Context, *scheduler.Scheduler) error) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if reapMinutes > 0 {
		cfg.InactivityMinutes = reapMinutes
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := scheduler.New(a.stores, a.engine, scheduler.Options{
		Inactivity: time.Duration(cfg.InactivityMinutes) * time.Minute,
		Location:   loc,
	})
	if err != nil {
		return err
	}
	return fn(ctx, s)
}
