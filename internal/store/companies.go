package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type CompanyStore struct {
	db *sqlx.DB
}

func (s *CompanyStore) Create(ctx context.Context, c *models.Company) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = Now()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO companies
		(id, name, phone_number_id, wa_access_token, contact_email, active, subscription_start, subscription_end, created_at)
		VALUES (:id, :name, :phone_number_id, :wa_access_token, :contact_email, :active, :subscription_start, :subscription_end, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *CompanyStore) Get(ctx context.Context, id string) (*models.Company, error) {
	var c models.Company
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`SELECT * FROM companies WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *CompanyStore) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Company, error) {
	var c models.Company
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`SELECT * FROM companies WHERE phone_number_id = ?`), phoneNumberID)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// MarkCredentialsExpired stamps the first expiry. It returns false when the
// company was already marked.
func (s *CompanyStore) MarkCredentialsExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE companies SET credentials_expired_at = ?
		WHERE id = ? AND credentials_expired_at IS NULL`), at, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// UpdateAccessToken stores new transport credentials and clears the expiry mark.
func (s *CompanyStore) UpdateAccessToken(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE companies SET wa_access_token = ?, credentials_expired_at = NULL WHERE id = ?`), token, id)
	if err != nil {
		return err
	}
	if n, _ := affected(res); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *CompanyStore) AddAdmin(ctx context.Context, a *models.CompanyAdmin) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO company_admins (id, company_id, name, email)
		VALUES (:id, :company_id, :name, :email)`, a)
	return err
}

func (s *CompanyStore) ListAdmins(ctx context.Context, companyID string) ([]models.CompanyAdmin, error) {
	var admins []models.CompanyAdmin
	err := s.db.SelectContext(ctx, &admins, s.db.Rebind(`SELECT * FROM company_admins WHERE company_id = ? ORDER BY name`), companyID)
	return admins, err
}

// ListKnowledge returns sections in display order.
func (s *CompanyStore) ListKnowledge(ctx context.Context, companyID string) ([]models.KnowledgeSection, error) {
	var sections []models.KnowledgeSection
	err := s.db.SelectContext(ctx, &sections, s.db.Rebind(`SELECT * FROM knowledge_sections
		WHERE company_id = ? ORDER BY position, created_at`), companyID)
	return sections, err
}

// ReplaceKnowledge swaps the whole knowledge base of a company atomically.
func (s *CompanyStore) ReplaceKnowledge(ctx context.Context, companyID string, sections []models.KnowledgeSection) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM knowledge_sections WHERE company_id = ?`), companyID); err != nil {
			return fmt.Errorf("clear knowledge: %w", err)
		}
		now := Now()
		for i := range sections {
			sec := &sections[i]
			sec.ID = NewID()
			sec.CompanyID = companyID
			sec.Position = i
			sec.CreatedAt = now
			if _, err := tx.NamedExecContext(ctx, `INSERT INTO knowledge_sections (id, company_id, title, content, position, created_at)
				VALUES (:id, :company_id, :title, :content, :position, :created_at)`, sec); err != nil {
				return fmt.Errorf("insert knowledge section: %w", err)
			}
		}
		return nil
	})
}

func (s *CompanyStore) CreateCategory(ctx context.Context, c *models.TicketCategory) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO ticket_categories
		(id, company_id, name, description, prompt_instructions, request_photos, active)
		VALUES (:id, :company_id, :name, :description, :prompt_instructions, :request_photos, :active)`, c)
	return err
}

// ListCategories returns the active ticket categories of a company.
func (s *CompanyStore) ListCategories(ctx context.Context, companyID string) ([]models.TicketCategory, error) {
	var cats []models.TicketCategory
	err := s.db.SelectContext(ctx, &cats, s.db.Rebind(`SELECT * FROM ticket_categories
		WHERE company_id = ? AND active = TRUE ORDER BY name`), companyID)
	return cats, err
}
