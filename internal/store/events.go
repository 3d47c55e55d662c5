package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// EventStore records processed inbound transport message ids.
type EventStore struct {
	db *sqlx.DB
}

// MarkProcessed returns true the first time messageID is seen.
func (s *EventStore) MarkProcessed(ctx context.Context, messageID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO processed_events (message_id, received_at) VALUES (?, ?)
		ON CONFLICT (message_id) DO NOTHING`), messageID, at)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

func (s *EventStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM processed_events WHERE received_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
