package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type UsageStore struct {
	db *sqlx.DB
}

func (s *UsageStore) Insert(ctx context.Context, r *models.LLMUsageRecord) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = Now()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO llm_usage_records
		(id, company_id, session_id, purpose, model, input_tokens, output_tokens, total_tokens, cached, estimated,
		 input_cost, output_cost, total_cost, created_at)
		VALUES (:id, :company_id, :session_id, :purpose, :model, :input_tokens, :output_tokens, :total_tokens, :cached, :estimated,
		 :input_cost, :output_cost, :total_cost, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// UsageTotals aggregates usage records over a window.
type UsageTotals struct {
	CompanyID      string  `db:"company_id"`
	TotalRequests  int     `db:"total_requests"`
	CachedRequests int     `db:"cached_requests"`
	InputTokens    int64   `db:"input_tokens"`
	OutputTokens   int64   `db:"output_tokens"`
	TotalTokens    int64   `db:"total_tokens"`
	InputCost      float64 `db:"input_cost"`
	OutputCost     float64 `db:"output_cost"`
	TotalCost      float64 `db:"total_cost"`
}

const totalsColumns = `COUNT(*) AS total_requests,
	COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0) AS cached_requests,
	COALESCE(SUM(input_tokens), 0) AS input_tokens,
	COALESCE(SUM(output_tokens), 0) AS output_tokens,
	COALESCE(SUM(total_tokens), 0) AS total_tokens,
	COALESCE(SUM(input_cost), 0) AS input_cost,
	COALESCE(SUM(output_cost), 0) AS output_cost,
	COALESCE(SUM(total_cost), 0) AS total_cost`

// TotalsByCompany groups records created in [from, to) by company.
func (s *UsageStore) TotalsByCompany(ctx context.Context, from, to time.Time) ([]UsageTotals, error) {
	var out []UsageTotals
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT company_id, `+totalsColumns+`
		FROM llm_usage_records WHERE created_at >= ? AND created_at < ?
		GROUP BY company_id ORDER BY company_id`), from, to)
	return out, err
}

// Totals aggregates one company's records created in [from, to).
func (s *UsageStore) Totals(ctx context.Context, companyID string, from, to time.Time) (*UsageTotals, error) {
	var t UsageTotals
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`SELECT `+totalsColumns+`
		FROM llm_usage_records WHERE company_id = ? AND created_at >= ? AND created_at < ?`), companyID, from, to)
	if err != nil {
		return nil, err
	}
	t.CompanyID = companyID
	return &t, nil
}

// ListRecords returns a company's records created in [from, to), oldest first.
func (s *UsageStore) ListRecords(ctx context.Context, companyID string, from, to time.Time) ([]models.LLMUsageRecord, error) {
	var out []models.LLMUsageRecord
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM llm_usage_records
		WHERE company_id = ? AND created_at >= ? AND created_at < ? ORDER BY created_at`), companyID, from, to)
	return out, err
}

func (s *UsageStore) CountForCompany(ctx context.Context, companyID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM llm_usage_records WHERE company_id = ?`), companyID)
	return n, err
}

// UpsertSummary writes the monthly totals. An unchanged row is left as is,
// updated_at included.
func (s *UsageStore) UpsertSummary(ctx context.Context, m *models.LLMMonthlySummary) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO llm_monthly_summaries
		(id, company_id, year, month, total_requests, cached_requests, input_tokens, output_tokens, total_tokens,
		 input_cost, output_cost, total_cost, updated_at)
		VALUES (:id, :company_id, :year, :month, :total_requests, :cached_requests, :input_tokens, :output_tokens, :total_tokens,
		 :input_cost, :output_cost, :total_cost, :updated_at)
		ON CONFLICT (company_id, year, month) DO UPDATE SET
			total_requests = excluded.total_requests,
			cached_requests = excluded.cached_requests,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			input_cost = excluded.input_cost,
			output_cost = excluded.output_cost,
			total_cost = excluded.total_cost,
			updated_at = excluded.updated_at
		WHERE llm_monthly_summaries.total_requests <> excluded.total_requests
			OR llm_monthly_summaries.cached_requests <> excluded.cached_requests
			OR llm_monthly_summaries.total_tokens <> excluded.total_tokens
			OR llm_monthly_summaries.input_tokens <> excluded.input_tokens
			OR llm_monthly_summaries.output_tokens <> excluded.output_tokens
			OR llm_monthly_summaries.total_cost <> excluded.total_cost`, m)
	if err != nil {
		return fmt.Errorf("upsert monthly summary: %w", err)
	}
	return nil
}

func (s *UsageStore) GetSummary(ctx context.Context, companyID string, year, month int) (*models.LLMMonthlySummary, error) {
	var m models.LLMMonthlySummary
	err := s.db.GetContext(ctx, &m, s.db.Rebind(`SELECT * FROM llm_monthly_summaries WHERE company_id = ? AND year = ? AND month = ?`),
		companyID, year, month)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// DeleteStaleSummaries removes summaries of the month whose company no longer
// has records in it, so a rollup is a pure function of the record table.
func (s *UsageStore) DeleteStaleSummaries(ctx context.Context, year, month int, keep []string) error {
	query := `DELETE FROM llm_monthly_summaries WHERE year = ? AND month = ?`
	args := []interface{}{year, month}
	if len(keep) > 0 {
		q, inArgs, err := sqlx.In(` AND company_id NOT IN (?)`, keep)
		if err != nil {
			return err
		}
		query += q
		args = append(args, inArgs...)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}
