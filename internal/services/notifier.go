package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/email"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
)

// Email kinds, used as the metrics label.
const (
	EmailLead        = "lead"
	EmailNewTicket   = "new_ticket"
	EmailTicketImage = "ticket_image"
)

// NotifyResult counts per-recipient outcomes of one notification.
type NotifyResult struct {
	Sent   int
	Failed int
}

// Notifier renders and sends tenant notification emails. Every recipient
// gets an independent send.
type Notifier struct {
	mailer  Mailer
	tenants *TenantRegistry
	baseURL string
}

func NewNotifier(mailer Mailer, tenants *TenantRegistry, baseURL string) *Notifier {
	return &Notifier{mailer: mailer, tenants: tenants, baseURL: strings.TrimRight(baseURL, "/")}
}

type leadEmailData struct {
	CompanyName string
	Contact     string
	Phone       string
	Level       string
	SessionID   string
	StartedAt   string
	EndedAt     string
	Analysis    *models.AnalysisResult
}

type ticketEmailData struct {
	CompanyName string
	Contact     string
	Phone       string
	Category    string
	Caption     string
	Description string
	ImageURL    string
	Ticket      *models.Ticket
}

func contactName(user *models.User) string {
	if user.Name != nil && strings.TrimSpace(*user.Name) != "" {
		return strings.TrimSpace(*user.Name)
	}
	return user.ChatNumber
}

// Lead sends the lead notification of an analyzed session.
func (n *Notifier) Lead(ctx context.Context, company *models.Company, user *models.User, sess *models.Session, analysis *models.AnalysisResult) NotifyResult {
	data := leadEmailData{
		CompanyName: company.Name,
		Contact:     contactName(user),
		Phone:       user.ChatNumber,
		Level:       strings.ToUpper(string(analysis.PurchaseInterestLevel)),
		SessionID:   sess.ID,
		StartedAt:   sess.StartedAt.Format(time.RFC3339),
		Analysis:    analysis,
	}
	if sess.EndedAt != nil {
		data.EndedAt = sess.EndedAt.Format(time.RFC3339)
	}
	return n.notify(ctx, EmailLead, company, leadEmail, data)
}

// NewTicket announces a ticket created from an image.
func (n *Notifier) NewTicket(ctx context.Context, company *models.Company, user *models.User, ticket *models.Ticket, category *models.TicketCategory, image *models.TicketImage) NotifyResult {
	data := ticketEmailData{
		CompanyName: company.Name,
		Contact:     contactName(user),
		Phone:       user.ChatNumber,
		Category:    "-",
		Ticket:      ticket,
	}
	if category != nil {
		data.Category = category.Name
	}
	if image != nil {
		data.Caption = image.Caption
		data.Description = image.AIDescription
		data.ImageURL = n.mediaURL(image.BlobKey)
	}
	return n.notify(ctx, EmailNewTicket, company, newTicketEmail, data)
}

// TicketImage announces an image appended to an existing ticket.
func (n *Notifier) TicketImage(ctx context.Context, company *models.Company, user *models.User, ticket *models.Ticket, image *models.TicketImage) NotifyResult {
	data := ticketEmailData{
		CompanyName: company.Name,
		Contact:     contactName(user),
		Phone:       user.ChatNumber,
		Caption:     image.Caption,
		Description: image.AIDescription,
		ImageURL:    n.mediaURL(image.BlobKey),
		Ticket:      ticket,
	}
	return n.notify(ctx, EmailTicketImage, company, ticketImageEmail, data)
}

func (n *Notifier) mediaURL(key string) string {
	if key == "" || n.baseURL == "" {
		return ""
	}
	return n.baseURL + "/api/media/" + key
}

func (n *Notifier) notify(ctx context.Context, kind string, company *models.Company, tmpl emailTemplate, data interface{}) NotifyResult {
	if n.mailer == nil {
		log.Warn().Str("kind", kind).Str("companyID", company.ID).Msg("Email is not configured; notification skipped")
		return NotifyResult{}
	}
	recipients, err := n.tenants.Recipients(ctx, company)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Str("companyID", company.ID).Msg("Failed to resolve notification recipients")
		return NotifyResult{}
	}
	if len(recipients) == 0 {
		log.Warn().Str("kind", kind).Str("companyID", company.ID).Msg("Company has no notification recipients")
		return NotifyResult{}
	}

	msg, err := render(tmpl, data)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to render notification")
		return NotifyResult{}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result NotifyResult
	)
	for _, to := range recipients {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			m := msg
			m.To = []string{to}
			_, err := n.mailer.Send(ctx, m)
			metrics.RecordEmail(kind, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				log.Error().Err(err).Str("kind", kind).Str("companyID", company.ID).Str("to", to).Msg("Notification email failed")
				return
			}
			result.Sent++
		}(to)
	}
	wg.Wait()

	log.Info().Str("kind", kind).Str("companyID", company.ID).Int("sent", result.Sent).Int("failed", result.Failed).Msg("Notification dispatched")
	return result
}

func render(tmpl emailTemplate, data interface{}) (email.Message, error) {
	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return email.Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.text.Execute(&text, data); err != nil {
		return email.Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := tmpl.html.Execute(&html, data); err != nil {
		return email.Message{}, fmt.Errorf("render html: %w", err)
	}
	return email.Message{
		Subject: strings.TrimSpace(subject.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
