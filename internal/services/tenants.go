package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/events"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const knowledgeCacheTTL = time.Hour

// TenantRegistry resolves inbound phone ids to companies and serves their
// prompt material.
type TenantRegistry struct {
	companies        *store.CompanyStore
	knowledge        *cache.Cache
	defaultCompanyID string
	fallbackToken    string
	events           Publisher
}

func NewTenantRegistry(companies *store.CompanyStore, defaultCompanyID, fallbackToken string, pub Publisher) (*TenantRegistry, error) {
	if companies == nil {
		return nil, fmt.Errorf("company store cannot be nil")
	}
	return &TenantRegistry{
		companies:        companies,
		knowledge:        cache.New(knowledgeCacheTTL, 2*knowledgeCacheTTL),
		defaultCompanyID: defaultCompanyID,
		fallbackToken:    fallbackToken,
		events:           publisherOrNop(pub),
	}, nil
}

// Resolve returns the company owning phoneNumberID. Unknown numbers fall back
// to the default company when one is configured; otherwise nil is returned.
func (r *TenantRegistry) Resolve(ctx context.Context, phoneNumberID string) (*models.Company, error) {
	company, err := r.companies.GetByPhoneNumberID(ctx, phoneNumberID)
	if err == nil {
		if !company.Active {
			log.Warn().Str("companyID", company.ID).Str("phoneNumberID", phoneNumberID).Msg("Inbound message for inactive company")
			return nil, nil
		}
		return company, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("resolve tenant %s: %w", phoneNumberID, err)
	}

	log.Warn().Str("phoneNumberID", phoneNumberID).Msg("Unknown tenant phone number id")
	if r.defaultCompanyID == "" {
		return nil, nil
	}
	company, err = r.companies.Get(ctx, r.defaultCompanyID)
	if errors.Is(err, models.ErrNotFound) {
		log.Error().Str("companyID", r.defaultCompanyID).Msg("Default company does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load default company: %w", err)
	}
	return company, nil
}

// GetKnowledge returns the company's knowledge sections, cached until the
// next ReplaceKnowledge.
func (r *TenantRegistry) GetKnowledge(ctx context.Context, company *models.Company) (*models.Knowledge, error) {
	if v, ok := r.knowledge.Get(company.ID); ok {
		return v.(*models.Knowledge), nil
	}
	sections, err := r.companies.ListKnowledge(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("load knowledge for %s: %w", company.ID, err)
	}
	k := &models.Knowledge{CompanyName: company.Name, Sections: sections}
	r.knowledge.Set(company.ID, k, cache.DefaultExpiration)
	return k, nil
}

// ReplaceKnowledge swaps the sections of a company and drops the cached copy.
func (r *TenantRegistry) ReplaceKnowledge(ctx context.Context, companyID string, sections []models.KnowledgeSection) error {
	if _, err := r.companies.Get(ctx, companyID); err != nil {
		return err
	}
	if err := r.companies.ReplaceKnowledge(ctx, companyID, sections); err != nil {
		return err
	}
	r.knowledge.Delete(companyID)
	log.Info().Str("companyID", companyID).Int("sections", len(sections)).Msg("Knowledge replaced")
	return nil
}

func (r *TenantRegistry) Categories(ctx context.Context, companyID string) ([]models.TicketCategory, error) {
	return r.companies.ListCategories(ctx, companyID)
}

// Credentials returns the transport credentials used to reply on behalf of
// the company.
func (r *TenantRegistry) Credentials(company *models.Company) whatsapp.Credentials {
	token := company.AccessToken
	if token == "" {
		token = r.fallbackToken
	}
	return whatsapp.Credentials{PhoneNumberID: company.PhoneNumberID, AccessToken: token}
}

// CredentialsExpired stamps the company and publishes an alert the first
// time its token is rejected.
func (r *TenantRegistry) CredentialsExpired(ctx context.Context, company *models.Company, cause error) {
	first, err := r.companies.MarkCredentialsExpired(ctx, company.ID, store.Now())
	if err != nil {
		log.Error().Err(err).Str("companyID", company.ID).Msg("Failed to mark credentials expired")
		return
	}
	if !first {
		return
	}
	log.Error().Bool("critical", true).Err(cause).Str("companyID", company.ID).Str("company", company.Name).
		Msg("Transport credentials expired; outbound messages are being dropped")
	r.events.Publish(company.ID, events.CredentialsExpired, map[string]interface{}{
		"company_name":    company.Name,
		"phone_number_id": company.PhoneNumberID,
		"error":           cause.Error(),
	})
}

// Recipients lists the notification addresses of a company: its admins with
// an email, or the contact email when there are none.
func (r *TenantRegistry) Recipients(ctx context.Context, company *models.Company) ([]string, error) {
	admins, err := r.companies.ListAdmins(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range admins {
		addr := strings.TrimSpace(a.Email)
		if addr == "" || seen[strings.ToLower(addr)] {
			continue
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, addr)
	}
	if len(out) == 0 && strings.TrimSpace(company.ContactEmail) != "" {
		out = append(out, strings.TrimSpace(company.ContactEmail))
	}
	return out, nil
}
