// Package store holds the sqlx repositories. Queries are written with `?`
// placeholders and rebound for the active driver, so the same statements run
// on postgres and sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

// Now returns the current UTC time at the precision both databases keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NewID() string {
	return uuid.NewString()
}

// Stores bundles every repository over one connection.
type Stores struct {
	DB        *sqlx.DB
	Companies *CompanyStore
	Users     *UserStore
	Policies  *PolicyStore
	Sessions  *SessionStore
	Messages  *MessageStore
	Audio     *AudioStore
	Tickets   *TicketStore
	Prompts   *PromptStore
	Usage     *UsageStore
	Feedback  *FeedbackStore
	Events    *EventStore
	Jobs      *JobStore
}

func New(db *sqlx.DB) *Stores {
	return &Stores{
		DB:        db,
		Companies: &CompanyStore{db: db},
		Users:     &UserStore{db: db},
		Policies:  &PolicyStore{db: db},
		Sessions:  &SessionStore{db: db},
		Messages:  &MessageStore{db: db},
		Audio:     &AudioStore{db: db},
		Tickets:   &TicketStore{db: db},
		Prompts:   &PromptStore{db: db},
		Usage:     &UsageStore{db: db},
		Feedback:  &FeedbackStore{db: db},
		Events:    &EventStore{db: db},
		Jobs:      &JobStore{db: db},
	}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// withTx runs fn in a transaction and commits when it returns nil.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
