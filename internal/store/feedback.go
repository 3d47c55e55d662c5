package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type FeedbackStore struct {
	db *sqlx.DB
}

// Upsert keeps one Feedback row per session. A later rating replaces the
// earlier one; an existing comment survives a rating without one.
func (s *FeedbackStore) Upsert(ctx context.Context, f *models.Feedback) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	now := Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO feedback
		(id, session_id, user_id, company_id, rating, comment, created_at, updated_at)
		VALUES (:id, :session_id, :user_id, :company_id, :rating, :comment, :created_at, :updated_at)
		ON CONFLICT (session_id) DO UPDATE SET
			rating = excluded.rating,
			comment = COALESCE(excluded.comment, feedback.comment),
			updated_at = excluded.updated_at`, f)
	if err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

func (s *FeedbackStore) GetBySession(ctx context.Context, sessionID string) (*models.Feedback, error) {
	var f models.Feedback
	if err := s.db.GetContext(ctx, &f, s.db.Rebind(`SELECT * FROM feedback WHERE session_id = ?`), sessionID); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}
