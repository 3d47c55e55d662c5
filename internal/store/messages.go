package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type MessageStore struct {
	db *sqlx.DB
}

// Append inserts a message. Messages are never updated afterwards except for
// the one-time audio transcription rewrite in AudioStore.Complete.
func (s *MessageStore) Append(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Now()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO messages
		(id, company_id, user_id, session_id, text, direction, kind, transport_message_id, created_at)
		VALUES (:id, :company_id, :user_id, :session_id, :text, :direction, :kind, :transport_message_id, :created_at)`, m)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := s.db.GetContext(ctx, &m, s.db.Rebind(`SELECT * FROM messages WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// LastN returns the newest n messages of a session in chronological order.
func (s *MessageStore) LastN(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) recent ORDER BY created_at ASC`), sessionID, n)
	return out, err
}

// LastNForPair is LastN across all sessions of a (user, company) pair.
func (s *MessageStore) LastNForPair(ctx context.Context, userID, companyID string, n int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM (
			SELECT * FROM messages WHERE user_id = ? AND company_id = ? ORDER BY created_at DESC LIMIT ?
		) recent ORDER BY created_at ASC`), userID, companyID, n)
	return out, err
}

// ListBySession returns the whole transcript in chronological order.
func (s *MessageStore) ListBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var out []models.Message
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM messages WHERE session_id = ? ORDER BY created_at ASC`), sessionID)
	return out, err
}
