package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type PromptStore struct {
	db *sqlx.DB
}

func (s *PromptStore) Create(ctx context.Context, p *models.ImageAnalysisPrompt) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Now()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO image_analysis_prompts
		(id, company_id, category_id, name, template, is_default, model, max_tokens, created_at)
		VALUES (:id, :company_id, :category_id, :name, :template, :is_default, :model, :max_tokens, :created_at)`, p)
	return err
}

// ForCategory returns the prompt configured for the category, preferring the
// default one.
func (s *PromptStore) ForCategory(ctx context.Context, companyID, categoryID string) (*models.ImageAnalysisPrompt, error) {
	var p models.ImageAnalysisPrompt
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT * FROM image_analysis_prompts
		WHERE company_id = ? AND category_id = ?
		ORDER BY is_default DESC, created_at ASC LIMIT 1`), companyID, categoryID)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
