package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type AudioStore struct {
	db *sqlx.DB
}

func (s *AudioStore) Create(ctx context.Context, a *models.AudioMessage) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	now := Now()
	a.Status = models.AudioPending
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO audio_messages
		(id, message_id, blob_key, duration_seconds, status, created_at, updated_at)
		VALUES (:id, :message_id, :blob_key, :duration_seconds, :status, :created_at, :updated_at)`, a)
	if err != nil {
		return fmt.Errorf("insert audio message: %w", err)
	}
	return nil
}

func (s *AudioStore) Get(ctx context.Context, id string) (*models.AudioMessage, error) {
	var a models.AudioMessage
	if err := s.db.GetContext(ctx, &a, s.db.Rebind(`SELECT * FROM audio_messages WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Transition moves the row from one status to the next. It fails with
// ErrInvalidAudioStatus when the move is not monotonic or the row is not in from.
func (s *AudioStore) Transition(ctx context.Context, id string, from, to models.AudioStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidAudioStatus, from, to)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE audio_messages SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(to), Now(), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := affected(res); n == 0 {
		return fmt.Errorf("%w: %s is not %s", models.ErrInvalidAudioStatus, id, from)
	}
	return nil
}

// Complete stores the transcription and rewrites the parent message text in
// the same transaction. Only a processing row can complete, so the rewrite
// happens once.
func (s *AudioStore) Complete(ctx context.Context, id, messageID, transcription string, duration int, at time.Time) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE audio_messages SET
			status = ?, transcription = ?, duration_seconds = ?, updated_at = ?
			WHERE id = ? AND status = ?`),
			string(models.AudioCompleted), transcription, duration, at, id, string(models.AudioProcessing))
		if err != nil {
			return err
		}
		if n, _ := affected(res); n == 0 {
			return fmt.Errorf("%w: %s is not processing", models.ErrInvalidAudioStatus, id)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE messages SET text = ? WHERE id = ?`), transcription, messageID)
		return err
	})
}

// Fail marks a non-terminal row as failed.
func (s *AudioStore) Fail(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE audio_messages SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		string(models.AudioFailed), reason, at, id, string(models.AudioPending), string(models.AudioProcessing))
	return err
}

// SetBlobKey records where the raw audio was stored.
func (s *AudioStore) SetBlobKey(ctx context.Context, id, key string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE audio_messages SET blob_key = ?, updated_at = ? WHERE id = ?`), key, Now(), id)
	return err
}
