package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type SessionStore struct {
	db *sqlx.DB
}

const openSessionRetries = 3

// GetOrOpen returns the open session of the pair, creating it when none
// exists, and bumps last_activity. The partial unique index on open sessions
// makes concurrent callers converge on one row. created reports whether this
// call inserted it.
func (s *SessionStore) GetOrOpen(ctx context.Context, userID, companyID string, at time.Time) (*models.Session, bool, error) {
	for attempt := 0; attempt < openSessionRetries; attempt++ {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO sessions (id, user_id, company_id, started_at, last_activity)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, company_id) WHERE ended_at IS NULL DO NOTHING`),
			NewID(), userID, companyID, at, at)
		if err != nil {
			return nil, false, fmt.Errorf("open session: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return nil, false, err
		}
		created := n == 1

		if !created {
			if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET last_activity = ?
				WHERE user_id = ? AND company_id = ? AND ended_at IS NULL AND last_activity < ?`),
				at, userID, companyID, at); err != nil {
				return nil, false, fmt.Errorf("touch session: %w", err)
			}
		}

		sess, err := s.OpenForPair(ctx, userID, companyID)
		if errors.Is(err, models.ErrNotFound) {
			// closed by a concurrent reap between insert and read
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return sess, created, nil
	}
	return nil, false, fmt.Errorf("open session for user %s company %s: conflict persisted after %d attempts", userID, companyID, openSessionRetries)
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.GetContext(ctx, &sess, s.db.Rebind(`SELECT * FROM sessions WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *SessionStore) OpenForPair(ctx context.Context, userID, companyID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, s.db.Rebind(`SELECT * FROM sessions
		WHERE user_id = ? AND company_id = ? AND ended_at IS NULL`), userID, companyID)
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// CountOpenForPair exists for invariant checks.
func (s *SessionStore) CountOpenForPair(ctx context.Context, userID, companyID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND company_id = ? AND ended_at IS NULL`), userID, companyID)
	return n, err
}

// Touch moves last_activity forward on an open session.
func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET last_activity = ?
		WHERE id = ? AND ended_at IS NULL AND last_activity < ?`), at, id, at)
	return err
}

// SetLastActivity overwrites last_activity unconditionally. Used by operators
// and tests to backdate sessions.
func (s *SessionStore) SetLastActivity(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET last_activity = ? WHERE id = ?`), at, id)
	return err
}

// Close ends the session. It returns false when the session was already closed.
func (s *SessionStore) Close(ctx context.Context, id string, cause models.CloseCause, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET ended_at = ?, close_cause = ?
		WHERE id = ? AND ended_at IS NULL`), at, string(cause), id)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// ListInactive returns open sessions whose last activity is before cutoff.
func (s *SessionStore) ListInactive(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var out []models.Session
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM sessions
		WHERE ended_at IS NULL AND last_activity < ? ORDER BY last_activity`), cutoff)
	return out, err
}

// LatestClosedForPair returns the most recently ended session of the pair.
func (s *SessionStore) LatestClosedForPair(ctx context.Context, userID, companyID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, s.db.Rebind(`SELECT * FROM sessions
		WHERE user_id = ? AND company_id = ? AND ended_at IS NOT NULL
		ORDER BY ended_at DESC LIMIT 1`), userID, companyID)
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// MarkFeedbackRequested flips feedback_requested once per session.
func (s *SessionStore) MarkFeedbackRequested(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET feedback_requested = TRUE, feedback_requested_at = ?
		WHERE id = ? AND feedback_requested = FALSE`), at, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// RecordFeedbackResponse stores the button reply. commentRequested is set
// when the user asked to leave a comment.
func (s *SessionStore) RecordFeedbackResponse(ctx context.Context, id string, response models.FeedbackRating, commentRequested bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET
		feedback_response = ?, feedback_received_at = ?, feedback_comment_requested = ?
		WHERE id = ?`), string(response), at, commentRequested, id)
	return err
}

// FindAwaitingComment returns the latest session of the pair whose comment
// window opened at or after since.
func (s *SessionStore) FindAwaitingComment(ctx context.Context, userID, companyID string, since time.Time) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, s.db.Rebind(`SELECT * FROM sessions
		WHERE user_id = ? AND company_id = ? AND feedback_comment_requested = TRUE AND feedback_received_at >= ?
		ORDER BY feedback_received_at DESC LIMIT 1`), userID, companyID, since)
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// SaveFeedbackComment captures the comment and closes the comment window.
func (s *SessionStore) SaveFeedbackComment(ctx context.Context, id, comment string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET feedback_comment = ?, feedback_comment_requested = FALSE
		WHERE id = ? AND feedback_comment_requested = TRUE`), comment, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// MarkFarewellSent returns true only for the first caller.
func (s *SessionStore) MarkFarewellSent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET farewell_sent = TRUE WHERE id = ? AND farewell_sent = FALSE`), id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

func (s *SessionStore) IncrementAnalysisAttempts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET analysis_attempts = analysis_attempts + 1 WHERE id = ?`), id)
	return err
}

func (s *SessionStore) SaveAnalysis(ctx context.Context, id string, result *models.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET analysis_results = ? WHERE id = ?`), result, id)
	return err
}

// MarkLeadNotified guards the lead email: only the first caller gets true.
func (s *SessionStore) MarkLeadNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET lead_notified_at = ? WHERE id = ? AND lead_notified_at IS NULL`), at, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}
