package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// advisoryLockKey identifies the scheduler owner among processes sharing a
// postgres database.
const advisoryLockKey int64 = 0x6c65616466 // "leadf"

// Leader decides which process runs the scheduler.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewLeader returns an advisory-lock leader for postgres and a leader that
// always wins for sqlite, which only supports a single process.
func NewLeader(db *sqlx.DB) Leader {
	if db.DriverName() == "postgres" {
		return &advisoryLeader{db: db}
	}
	return soloLeader{}
}

type soloLeader struct{}

func (soloLeader) TryAcquire(context.Context) (bool, error) { return true, nil }
func (soloLeader) Release(context.Context) error            { return nil }

// advisoryLeader holds a session-level advisory lock on a dedicated
// connection for as long as it leads.
type advisoryLeader struct {
	db   *sqlx.DB
	mu   sync.Mutex
	conn *sql.Conn
}

func (l *advisoryLeader) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		if err := l.conn.PingContext(ctx); err == nil {
			return true, nil
		}
		log.Warn().Msg("Lost scheduler leadership connection")
		l.conn.Close()
		l.conn = nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("leader connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&ok); err != nil {
		conn.Close()
		return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *advisoryLeader) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	return err
}
