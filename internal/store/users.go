package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type UserStore struct {
	db *sqlx.DB
}

// Upsert creates the user for chatNumber if absent. The name is only filled
// when it was previously null.
func (s *UserStore) Upsert(ctx context.Context, chatNumber string, name *string, at time.Time) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO users (id, chat_number, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chat_number) DO UPDATE SET
			name = COALESCE(users.name, excluded.name),
			updated_at = excluded.updated_at`),
		NewID(), chatNumber, name, at, at)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetByChatNumber(ctx, chatNumber)
}

func (s *UserStore) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT * FROM users WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *UserStore) GetByChatNumber(ctx context.Context, chatNumber string) (*models.User, error) {
	var u models.User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT * FROM users WHERE chat_number = ?`), chatNumber); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// RecordInteraction upserts the (user, company) pair and bumps last_interaction.
func (s *UserStore) RecordInteraction(ctx context.Context, userID, companyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO user_company_interactions
		(id, user_id, company_id, first_interaction, last_interaction)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, company_id) DO UPDATE SET last_interaction = excluded.last_interaction`),
		NewID(), userID, companyID, at, at)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

func (s *UserStore) GetInteraction(ctx context.Context, userID, companyID string) (*models.UserCompanyInteraction, error) {
	var i models.UserCompanyInteraction
	err := s.db.GetContext(ctx, &i, s.db.Rebind(`SELECT * FROM user_company_interactions
		WHERE user_id = ? AND company_id = ?`), userID, companyID)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

// SetPolicyWaiting flags the user as waiting for policy acceptance and
// buffers the message that triggered the prompt. An existing buffer is kept.
func (s *UserStore) SetPolicyWaiting(ctx context.Context, userID string, pending *string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET
		waiting_policy_acceptance = TRUE,
		pending_message_text = COALESCE(pending_message_text, ?),
		updated_at = ?
		WHERE id = ?`), pending, at, userID)
	return err
}

// IncrementRefusals returns the refusal count after the increment.
func (s *UserStore) IncrementRefusals(ctx context.Context, userID string, at time.Time) (int, error) {
	var n int
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET policy_refusals = policy_refusals + 1, updated_at = ? WHERE id = ?`), at, userID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &n, tx.Rebind(`SELECT policy_refusals FROM users WHERE id = ?`), userID)
	})
	return n, err
}

// ClearPolicyWaiting drops the buffered message and resets the refusal counter.
func (s *UserStore) ClearPolicyWaiting(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET
		waiting_policy_acceptance = FALSE, pending_message_text = NULL, policy_refusals = 0, updated_at = ?
		WHERE id = ?`), at, userID)
	return err
}

// AcceptPolicy appends a PolicyAcceptance, stores the accepted version on the
// user and returns the message buffered while waiting, if any.
func (s *UserStore) AcceptPolicy(ctx context.Context, userID string, policy *models.PolicyVersion, at time.Time) (*string, error) {
	var pending *string
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &pending, tx.Rebind(`SELECT pending_message_text FROM users WHERE id = ?`), userID); err != nil {
			return notFound(err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO policy_acceptances (id, user_id, policy_version_id, accepted_at)
			VALUES (?, ?, ?, ?)`), NewID(), userID, policy.ID, at); err != nil {
			return fmt.Errorf("insert policy acceptance: %w", err)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET
			policy_accepted = TRUE, policy_version = ?, policy_accepted_at = ?,
			waiting_policy_acceptance = FALSE, pending_message_text = NULL, policy_refusals = 0, updated_at = ?
			WHERE id = ?`), policy.Version, at, at, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *UserStore) SetLanguage(ctx context.Context, userID, code string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET
		language_code = ?, waiting_language_selection = FALSE, updated_at = ? WHERE id = ?`), code, at, userID)
	return err
}

func (s *UserStore) SetWaitingLanguage(ctx context.Context, userID string, waiting bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET waiting_language_selection = ?, updated_at = ? WHERE id = ?`), waiting, at, userID)
	return err
}
