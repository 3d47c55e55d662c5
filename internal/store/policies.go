package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type PolicyStore struct {
	db *sqlx.DB
}

func (s *PolicyStore) Create(ctx context.Context, p *models.PolicyVersion) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Now()
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if p.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE policy_versions SET active = FALSE WHERE active = TRUE`); err != nil {
				return err
			}
		}
		_, err := tx.NamedExecContext(ctx, `INSERT INTO policy_versions (id, version, title, body, active, created_at)
			VALUES (:id, :version, :title, :body, :active, :created_at)`, p)
		if err != nil {
			return fmt.Errorf("insert policy version: %w", err)
		}
		return nil
	})
}

// Active returns the single active policy, or ErrNotFound.
func (s *PolicyStore) Active(ctx context.Context) (*models.PolicyVersion, error) {
	var p models.PolicyVersion
	if err := s.db.GetContext(ctx, &p, `SELECT * FROM policy_versions WHERE active = TRUE`); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Activate makes id the only active policy.
func (s *PolicyStore) Activate(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE policy_versions SET active = FALSE WHERE active = TRUE`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE policy_versions SET active = TRUE WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := affected(res); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (s *PolicyStore) ListAcceptances(ctx context.Context, userID string) ([]models.PolicyAcceptance, error) {
	var out []models.PolicyAcceptance
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM policy_acceptances WHERE user_id = ? ORDER BY accepted_at`), userID)
	return out, err
}
