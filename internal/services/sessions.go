package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/events"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

// SessionManager owns the session lifecycle of every (user, company) pair.
type SessionManager struct {
	st       *store.Stores
	locks    *PairLocks
	analyzer *Analyzer
	feedback *FeedbackCollector
	outbox   *Outbox
	events   Publisher
}

func NewSessionManager(st *store.Stores, locks *PairLocks, analyzer *Analyzer, feedback *FeedbackCollector, outbox *Outbox, pub Publisher) *SessionManager {
	return &SessionManager{
		st:       st,
		locks:    locks,
		analyzer: analyzer,
		feedback: feedback,
		outbox:   outbox,
		events:   publisherOrNop(pub),
	}
}

// GetOrOpen returns the open session of the pair, creating it if needed.
func (m *SessionManager) GetOrOpen(ctx context.Context, userID, companyID string) (*models.Session, bool, error) {
	sess, created, err := m.st.Sessions.GetOrOpen(ctx, userID, companyID, store.Now())
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info().Str("sessionID", sess.ID).Str("userID", userID).Str("companyID", companyID).Msg("Session opened")
	}
	return sess, created, nil
}

func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	return m.st.Sessions.Touch(ctx, sessionID, store.Now())
}

// Close ends a session and starts its follow-ups: analysis and the feedback
// request. Closing an already closed session is a no-op that returns false.
func (m *SessionManager) Close(ctx context.Context, sessionID string, cause models.CloseCause) (bool, error) {
	closed, err := m.st.Sessions.Close(ctx, sessionID, cause, store.Now())
	if err != nil {
		return false, err
	}
	if !closed {
		return false, nil
	}
	sess, err := m.st.Sessions.Get(ctx, sessionID)
	if err != nil {
		return true, fmt.Errorf("reload closed session: %w", err)
	}

	metrics.SessionsClosedTotal.WithLabelValues(string(cause)).Inc()
	log.Info().Str("sessionID", sessionID).Str("cause", string(cause)).Msg("Session closed")
	m.events.Publish(sess.CompanyID, events.SessionClosed, map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"cause":      string(cause),
		"started_at": sess.StartedAt,
		"ended_at":   sess.EndedAt,
	})

	if m.analyzer != nil {
		m.analyzer.Enqueue(sess.ID)
	}
	if m.feedback != nil {
		if err := m.feedback.Request(ctx, sess); err != nil {
			log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Feedback request failed")
		}
	}
	return true, nil
}

// CloseNow closes a session on behalf of an operator, serialized with the
// pair's inbound events.
func (m *SessionManager) CloseNow(ctx context.Context, sessionID string, cause models.CloseCause) (bool, error) {
	sess, err := m.st.Sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	unlock := m.locks.Lock(sess.UserID, sess.CompanyID)
	defer unlock()
	return m.Close(ctx, sessionID, cause)
}

// ReapInactive closes every open session idle for longer than threshold and
// returns how many it closed.
func (m *SessionManager) ReapInactive(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := store.Now().Add(-threshold)
	stale, err := m.st.Sessions.ListInactive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list inactive sessions: %w", err)
	}

	closed := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		ok, err := m.reapOne(ctx, s, cutoff)
		if err != nil {
			log.Error().Err(err).Str("sessionID", s.ID).Msg("Failed to reap session")
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 || len(stale) > 0 {
		log.Info().Int("candidates", len(stale)).Int("closed", closed).Dur("threshold", threshold).Msg("Inactive sessions reaped")
	}
	return closed, nil
}

func (m *SessionManager) reapOne(ctx context.Context, s models.Session, cutoff time.Time) (bool, error) {
	unlock := m.locks.Lock(s.UserID, s.CompanyID)
	defer unlock()

	cur, err := m.st.Sessions.Get(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if !cur.IsOpen() || !cur.LastActivity.Before(cutoff) {
		return false, nil
	}

	if first, err := m.st.Sessions.MarkFarewellSent(ctx, cur.ID); err == nil && first {
		m.sendInactivityNotice(ctx, cur)
	}
	return m.Close(ctx, cur.ID, models.CloseInactivity)
}

func (m *SessionManager) sendInactivityNotice(ctx context.Context, sess *models.Session) {
	msgs, err := m.st.Messages.LastN(ctx, sess.ID, 1)
	if err != nil || len(msgs) == 0 {
		return
	}
	user, err := m.st.Users.Get(ctx, sess.UserID)
	if err != nil {
		return
	}
	company, err := m.st.Companies.Get(ctx, sess.CompanyID)
	if err != nil {
		return
	}
	if err := m.outbox.Text(ctx, company, user, nil, localize(userLanguage(user.LanguageCode), msgInactivityClosed)); err != nil {
		log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Failed to send inactivity notice")
	}
}
