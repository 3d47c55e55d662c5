package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

// Rate is the price of a model in USD per million tokens.
type Rate struct {
	Input  float64
	Output float64
}

const (
	defaultRateModel = "gpt-4o-mini"
	cachedMultiplier = 0.5
	usageCacheTTL    = 15 * time.Minute
)

var defaultRates = map[string]Rate{
	"gpt-4o-mini":  {Input: 0.15, Output: 0.60},
	"gpt-4o":       {Input: 2.50, Output: 10.00},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60},
	"gpt-4.1":      {Input: 2.00, Output: 8.00},
	"whisper-1":    {Input: 0, Output: 0},
}

// UsageAccountant records every LLM call and answers usage queries.
type UsageAccountant struct {
	usage *store.UsageStore
	rates map[string]Rate
	loc   *time.Location
	memo  *cache.Cache
}

func NewUsageAccountant(usage *store.UsageStore, loc *time.Location) *UsageAccountant {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageAccountant{
		usage: usage,
		rates: defaultRates,
		loc:   loc,
		memo:  cache.New(usageCacheTTL, 2*usageCacheTTL),
	}
}

// RateFor resolves a model to its rate. Versioned names such as
// "gpt-4o-mini-2024-07-18" match their longest known prefix; unknown models
// are billed at the default model's rate.
func (a *UsageAccountant) RateFor(model string) Rate {
	if r, ok := a.rates[model]; ok {
		return r
	}
	best := ""
	for name := range a.rates {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return a.rates[best]
	}
	return a.rates[defaultRateModel]
}

// Cost prices a call. Cached calls cost half.
func (a *UsageAccountant) Cost(model string, inputTokens, outputTokens int, cached bool) (in, out, total float64) {
	r := a.RateFor(model)
	in = float64(inputTokens) * r.Input / 1e6
	out = float64(outputTokens) * r.Output / 1e6
	if cached {
		in *= cachedMultiplier
		out *= cachedMultiplier
	}
	return in, out, in + out
}

// EstimateTokens approximates a token count from characters.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// UsageInput describes one finished LLM call.
type UsageInput struct {
	CompanyID   string
	SessionID   *string
	Purpose     string
	Model       string
	Usage       *llm.Usage
	InputChars  int
	OutputChars int
}

// Record persists the usage row of one call. Missing provider counters are
// replaced by the character estimate.
func (a *UsageAccountant) Record(ctx context.Context, in UsageInput) (*models.LLMUsageRecord, error) {
	rec := &models.LLMUsageRecord{
		CompanyID: in.CompanyID,
		SessionID: in.SessionID,
		Purpose:   in.Purpose,
		Model:     in.Model,
		CreatedAt: store.Now(),
	}
	if in.Usage != nil && in.Usage.TotalTokens > 0 {
		rec.InputTokens = in.Usage.PromptTokens
		rec.OutputTokens = in.Usage.CompletionTokens
		rec.TotalTokens = in.Usage.TotalTokens
		rec.Cached = in.Usage.Cached()
	} else {
		rec.InputTokens = EstimateTokens(in.InputChars)
		rec.OutputTokens = EstimateTokens(in.OutputChars)
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
		rec.Estimated = true
	}
	rec.InputCost, rec.OutputCost, rec.TotalCost = a.Cost(in.Model, rec.InputTokens, rec.OutputTokens, rec.Cached)

	if err := a.usage.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CompanyUsage summarizes usage between two calendar dates, both inclusive.
type CompanyUsage struct {
	CompanyID        string  `json:"company_id"`
	StartDate        string  `json:"start_date"`
	EndDate          string  `json:"end_date"`
	Days             int     `json:"days"`
	TotalRequests    int     `json:"total_requests"`
	CachedRequests   int     `json:"cached_requests"`
	CachedPercent    float64 `json:"cached_percent"`
	InputTokens      int64   `json:"tokens_in"`
	OutputTokens     int64   `json:"tokens_out"`
	TotalTokens      int64   `json:"tokens_total"`
	TotalCost        float64 `json:"total_cost"`
	DailyAvgRequests float64 `json:"daily_avg_requests"`
	DailyAvgTokens   float64 `json:"daily_avg_tokens"`
	DailyAvgCost     float64 `json:"daily_avg_cost"`
}

// DailyUsage is one zero-filled row of a daily series.
type DailyUsage struct {
	Date     string  `json:"date"`
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

func (a *UsageAccountant) dayStart(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// CompanyUsage is memoized for 15 minutes per (company, range).
func (a *UsageAccountant) CompanyUsage(ctx context.Context, companyID string, start, end time.Time) (*CompanyUsage, error) {
	from := a.dayStart(start)
	last := a.dayStart(end)
	if last.Before(from) {
		return nil, fmt.Errorf("end date %s is before start date %s", last.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	key := fmt.Sprintf("usage:%s:%s:%s", companyID, from.Format("2006-01-02"), last.Format("2006-01-02"))
	if v, ok := a.memo.Get(key); ok {
		return v.(*CompanyUsage), nil
	}

	to := last.AddDate(0, 0, 1)
	totals, err := a.usage.Totals(ctx, companyID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}

	days := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days++
	}
	u := &CompanyUsage{
		CompanyID:      companyID,
		StartDate:      from.Format("2006-01-02"),
		EndDate:        last.Format("2006-01-02"),
		Days:           days,
		TotalRequests:  totals.TotalRequests,
		CachedRequests: totals.CachedRequests,
		InputTokens:    totals.InputTokens,
		OutputTokens:   totals.OutputTokens,
		TotalTokens:    totals.TotalTokens,
		TotalCost:      roundCost(totals.TotalCost),
	}
	if u.TotalRequests > 0 {
		u.CachedPercent = math.Round(float64(u.CachedRequests)*10000/float64(u.TotalRequests)) / 100
	}
	u.DailyAvgRequests = float64(u.TotalRequests) / float64(days)
	u.DailyAvgTokens = float64(u.TotalTokens) / float64(days)
	u.DailyAvgCost = roundCost(u.TotalCost / float64(days))

	a.memo.Set(key, u, cache.DefaultExpiration)
	return u, nil
}

// DailySeries returns one row per local day for the last `days` days ending
// today, oldest first.
func (a *UsageAccountant) DailySeries(ctx context.Context, companyID string, days int, now time.Time) ([]DailyUsage, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	today := a.dayStart(now)
	from := today.AddDate(0, 0, -(days - 1))
	to := today.AddDate(0, 0, 1)

	records, err := a.usage.ListRecords(ctx, companyID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}

	series := make([]DailyUsage, 0, days)
	index := make(map[string]int, days)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		index[date] = len(series)
		series = append(series, DailyUsage{Date: date})
	}
	for _, r := range records {
		i, ok := index[r.CreatedAt.In(a.loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		series[i].Requests++
		series[i].Tokens += int64(r.TotalTokens)
		series[i].Cost += r.TotalCost
	}
	for i := range series {
		series[i].Cost = roundCost(series[i].Cost)
	}
	return series, nil
}

// RollupMonth rebuilds the monthly summaries of one local month from the
// record table and returns the number of companies written.
func (a *UsageAccountant) RollupMonth(ctx context.Context, year int, month time.Month) (int, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, a.loc)
	to := from.AddDate(0, 1, 0)

	totals, err := a.usage.TotalsByCompany(ctx, from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("usage totals by company: %w", err)
	}

	now := store.Now()
	keep := make([]string, 0, len(totals))
	for _, t := range totals {
		summary := &models.LLMMonthlySummary{
			CompanyID:      t.CompanyID,
			Year:           year,
			Month:          int(month),
			TotalRequests:  t.TotalRequests,
			CachedRequests: t.CachedRequests,
			InputTokens:    t.InputTokens,
			OutputTokens:   t.OutputTokens,
			TotalTokens:    t.TotalTokens,
			InputCost:      roundCost(t.InputCost),
			OutputCost:     roundCost(t.OutputCost),
			TotalCost:      roundCost(t.TotalCost),
			UpdatedAt:      now,
		}
		if err := a.usage.UpsertSummary(ctx, summary); err != nil {
			return 0, err
		}
		keep = append(keep, t.CompanyID)
	}
	if err := a.usage.DeleteStaleSummaries(ctx, year, int(month), keep); err != nil {
		return 0, fmt.Errorf("delete stale summaries: %w", err)
	}

	log.Info().Int("year", year).Int("month", int(month)).Int("companies", len(keep)).Msg("Usage rollup finished")
	return len(keep), nil
}

// Rollup runs the current month and, during the first five days of a month,
// the previous one too.
func (a *UsageAccountant) Rollup(ctx context.Context, now time.Time) (int, error) {
	local := now.In(a.loc)
	total, err := a.RollupMonth(ctx, local.Year(), local.Month())
	if err != nil {
		return total, err
	}
	if local.Day() <= 5 {
		prev := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, a.loc).AddDate(0, -1, 0)
		n, err := a.RollupMonth(ctx, prev.Year(), prev.Month())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func roundCost(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
