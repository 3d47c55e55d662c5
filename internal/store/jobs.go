package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type JobStore struct {
	db *sqlx.DB
}

func (s *JobStore) Start(ctx context.Context, job string, at time.Time) (*models.JobRun, error) {
	run := &models.JobRun{ID: NewID(), Job: job, StartedAt: at, Status: "running"}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO job_runs (id, job, started_at, status, detail)
		VALUES (:id, :job, :started_at, :status, :detail)`, run)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *JobStore) Finish(ctx context.Context, id, status, detail string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE job_runs SET status = ?, detail = ?, finished_at = ? WHERE id = ?`),
		status, detail, at, id)
	return err
}

func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]models.JobRun, error) {
	var out []models.JobRun
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM job_runs ORDER BY started_at DESC LIMIT ?`), limit)
	return out, err
}

func (s *JobStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM job_runs WHERE started_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
