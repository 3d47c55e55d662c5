package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"leadflow/internal/events"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const ticketTitleLimit = 200

var urgencyKeywords = []string{"urgente", "urgent", "emergencia", "emergency", "fuga", "leak"}

// TicketOutcome tells the pipeline what happened to an image.
type TicketOutcome struct {
	Ticket    *models.Ticket
	Created   bool
	Appended  bool
	Duplicate bool
}

// TicketDetail is a ticket with its images and comments.
type TicketDetail struct {
	Ticket   *models.Ticket         `json:"ticket"`
	Images   []models.TicketImage   `json:"images"`
	Comments []models.TicketComment `json:"comments"`
}

// TicketEngine turns analyzed images into tickets.
type TicketEngine struct {
	tickets  *store.TicketStore
	notifier *Notifier
	events   Publisher
}

func NewTicketEngine(tickets *store.TicketStore, notifier *Notifier, pub Publisher) *TicketEngine {
	return &TicketEngine{tickets: tickets, notifier: notifier, events: publisherOrNop(pub)}
}

// TicketTitle is the first non-empty line of the description, capped at 200
// characters.
func TicketTitle(description string) string {
	title := ""
	for _, line := range strings.Split(description, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}
	if title == "" {
		title = "Image report"
	}
	if r := []rune(title); len(r) > ticketTitleLimit {
		title = string(r[:ticketTitleLimit])
	}
	return title
}

// TicketPriority is medium unless the text carries an urgency keyword.
func TicketPriority(texts ...string) models.TicketPriority {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, kw := range urgencyKeywords {
			if strings.Contains(lower, kw) {
				return models.PriorityHigh
			}
		}
	}
	return models.PriorityMedium
}

func categoriesMatch(ticketCategory *string, detected *models.TicketCategory) bool {
	if ticketCategory == nil || detected == nil {
		return true
	}
	return *ticketCategory == detected.ID
}

// HandleImage appends the image to a matching open ticket of the session or
// opens a new ticket. An image already attached in this session is ignored.
func (e *TicketEngine) HandleImage(ctx context.Context, company *models.Company, user *models.User, sess *models.Session, img *ImageAnalysis) (*TicketOutcome, error) {
	open, err := e.tickets.ListOpenForSession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}

	image := &models.TicketImage{
		BlobKey:       img.BlobKey,
		Caption:       img.Caption,
		AIDescription: img.Description,
		MediaID:       img.MediaID,
	}

	for i := range open {
		t := &open[i]
		if !categoriesMatch(t.CategoryID, img.Category) {
			continue
		}
		image.TicketID = t.ID
		added, err := e.tickets.AddImage(ctx, image)
		if err != nil {
			return nil, err
		}
		if !added {
			log.Debug().Str("ticketID", t.ID).Str("mediaID", img.MediaID).Msg("Image already attached; ignored")
			return &TicketOutcome{Ticket: t, Duplicate: true}, nil
		}
		log.Info().Str("ticketID", t.ID).Str("mediaID", img.MediaID).Msg("Image appended to ticket")
		e.notifier.TicketImage(ctx, company, user, t, image)
		e.events.Publish(company.ID, events.TicketImageAdded, map[string]interface{}{
			"ticket_id": t.ID,
			"image_id":  image.ID,
			"media_id":  img.MediaID,
			"blob_key":  img.BlobKey,
		})
		return &TicketOutcome{Ticket: t, Appended: true}, nil
	}

	seen, err := e.tickets.SessionHasMedia(ctx, sess.ID, img.MediaID)
	if err != nil {
		return nil, fmt.Errorf("check duplicate media: %w", err)
	}
	if seen {
		log.Debug().Str("sessionID", sess.ID).Str("mediaID", img.MediaID).Msg("Image already attached in session; ignored")
		return &TicketOutcome{Duplicate: true}, nil
	}

	ticket := &models.Ticket{
		CompanyID:   company.ID,
		UserID:      user.ID,
		SessionID:   &sess.ID,
		Title:       TicketTitle(img.Description),
		Description: img.Description,
		Status:      models.TicketNew,
		Priority:    TicketPriority(img.Caption, img.Description),
	}
	if img.Category != nil {
		ticket.CategoryID = &img.Category.ID
	}
	if err := e.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	image.TicketID = ticket.ID
	if _, err := e.tickets.AddImage(ctx, image); err != nil {
		return nil, err
	}

	metrics.TicketsCreatedTotal.Inc()
	log.Info().Str("ticketID", ticket.ID).Str("sessionID", sess.ID).Str("priority", string(ticket.Priority)).Msg("Ticket created")
	e.notifier.NewTicket(ctx, company, user, ticket, img.Category, image)
	data := map[string]interface{}{
		"ticket_id":  ticket.ID,
		"session_id": sess.ID,
		"user_id":    user.ID,
		"title":      ticket.Title,
		"priority":   string(ticket.Priority),
	}
	if ticket.CategoryID != nil {
		data["category_id"] = *ticket.CategoryID
	}
	e.events.Publish(company.ID, events.TicketCreated, data)
	return &TicketOutcome{Ticket: ticket, Created: true}, nil
}

// Update applies an operator edit.
func (e *TicketEngine) Update(ctx context.Context, id string, change store.TicketChange) (*models.Ticket, error) {
	ticket, err := e.tickets.Apply(ctx, id, change, store.Now())
	if err != nil {
		return nil, err
	}
	log.Info().Str("ticketID", id).Str("status", string(ticket.Status)).Str("actor", change.Actor).Msg("Ticket updated")
	e.events.Publish(ticket.CompanyID, events.TicketUpdated, map[string]interface{}{
		"ticket_id":   ticket.ID,
		"status":      string(ticket.Status),
		"priority":    string(ticket.Priority),
		"assigned_to": ticket.AssignedTo,
	})
	return ticket, nil
}

// AddComment appends an operator comment.
func (e *TicketEngine) AddComment(ctx context.Context, id, author, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("comment body cannot be empty")
	}
	if _, err := e.tickets.Get(ctx, id); err != nil {
		return err
	}
	return e.tickets.AddComment(ctx, id, author, body)
}

// Detail loads a ticket with its images and comments.
func (e *TicketEngine) Detail(ctx context.Context, id string) (*TicketDetail, error) {
	ticket, err := e.tickets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	images, err := e.tickets.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	comments, err := e.tickets.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: ticket, Images: images, Comments: comments}, nil
}
