package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"leadflow/internal/models"
)

type TicketStore struct {
	db *sqlx.DB
}

func (s *TicketStore) Create(ctx context.Context, t *models.Ticket) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = Now()
	}
	t.UpdatedAt = t.CreatedAt
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO tickets
		(id, company_id, user_id, session_id, category_id, title, description, status, priority, assigned_to, created_at, updated_at)
		VALUES (:id, :company_id, :user_id, :session_id, :category_id, :title, :description, :status, :priority, :assigned_to, :created_at, :updated_at)`, t)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	if err := s.db.GetContext(ctx, &t, s.db.Rebind(`SELECT * FROM tickets WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListOpenForSession returns non-terminal tickets of a session, newest first.
func (s *TicketStore) ListOpenForSession(ctx context.Context, sessionID string) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM tickets
		WHERE session_id = ? AND status NOT IN (?, ?) ORDER BY created_at DESC`),
		sessionID, string(models.TicketResolved), string(models.TicketClosed))
	return out, err
}

func (s *TicketStore) CountForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM tickets WHERE session_id = ?`), sessionID)
	return n, err
}

// AddImage inserts the image unless the ticket already holds this media id.
// It reports whether a row was written.
func (s *TicketStore) AddImage(ctx context.Context, img *models.TicketImage) (bool, error) {
	if img.ID == "" {
		img.ID = NewID()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = Now()
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO ticket_images
		(id, ticket_id, blob_key, caption, ai_description, media_id, created_at)
		VALUES (:id, :ticket_id, :blob_key, :caption, :ai_description, :media_id, :created_at)
		ON CONFLICT (ticket_id, media_id) DO NOTHING`, img)
	if err != nil {
		return false, fmt.Errorf("insert ticket image: %w", err)
	}
	n, err := affected(res)
	if err != nil || n == 0 {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`UPDATE tickets SET updated_at = ? WHERE id = ?`), img.CreatedAt, img.TicketID)
	return true, err
}

// SessionHasMedia reports whether any ticket of the session already holds mediaID.
func (s *TicketStore) SessionHasMedia(ctx context.Context, sessionID, mediaID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM ticket_images ti
		JOIN tickets t ON t.id = ti.ticket_id
		WHERE t.session_id = ? AND ti.media_id = ?`), sessionID, mediaID)
	return n > 0, err
}

func (s *TicketStore) ListImages(ctx context.Context, ticketID string) ([]models.TicketImage, error) {
	var out []models.TicketImage
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM ticket_images WHERE ticket_id = ? ORDER BY created_at`), ticketID)
	return out, err
}

func (s *TicketStore) ListComments(ctx context.Context, ticketID string) ([]models.TicketComment, error) {
	var out []models.TicketComment
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at`), ticketID)
	return out, err
}

func addComment(ctx context.Context, tx *sqlx.Tx, ticketID, author, body string, system bool, at time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO ticket_comments (id, ticket_id, author, body, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`), NewID(), ticketID, author, body, system, at)
	return err
}

func (s *TicketStore) AddComment(ctx context.Context, ticketID, author, body string) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return addComment(ctx, tx, ticketID, author, body, false, Now())
	})
}

// TicketChange is an operator edit. Nil fields are left untouched.
type TicketChange struct {
	Status     *models.TicketStatus
	Priority   *models.TicketPriority
	AssignedTo *string
	Actor      string
}

// Apply validates and persists an operator edit, appending one system comment
// per changed field.
func (s *TicketStore) Apply(ctx context.Context, id string, ch TicketChange, at time.Time) (*models.Ticket, error) {
	var updated models.Ticket
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var cur models.Ticket
		if err := tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM tickets WHERE id = ?`), id); err != nil {
			return notFound(err)
		}
		actor := ch.Actor
		if actor == "" {
			actor = "operator"
		}

		if ch.Status != nil && *ch.Status != cur.Status {
			if !cur.Status.CanTransition(*ch.Status) {
				return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, cur.Status, *ch.Status)
			}
			var resolvedAt interface{}
			if *ch.Status == models.TicketResolved {
				resolvedAt = at
			} else {
				resolvedAt = cur.ResolvedAt
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET status = ?, resolved_at = ?, updated_at = ? WHERE id = ?`),
				string(*ch.Status), resolvedAt, at, id); err != nil {
				return err
			}
			body := fmt.Sprintf("Status changed from %s to %s by %s", cur.Status, *ch.Status, actor)
			if err := addComment(ctx, tx, id, "system", body, true, at); err != nil {
				return err
			}
		}

		if ch.Priority != nil && *ch.Priority != cur.Priority {
			if !ch.Priority.Valid() {
				return fmt.Errorf("%w: priority %q", models.ErrInvalidTransition, *ch.Priority)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET priority = ?, updated_at = ? WHERE id = ?`),
				string(*ch.Priority), at, id); err != nil {
				return err
			}
			body := fmt.Sprintf("Priority changed from %s to %s by %s", cur.Priority, *ch.Priority, actor)
			if err := addComment(ctx, tx, id, "system", body, true, at); err != nil {
				return err
			}
		}

		if ch.AssignedTo != nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET assigned_to = ?, updated_at = ? WHERE id = ?`),
				*ch.AssignedTo, at, id); err != nil {
				return err
			}
			body := fmt.Sprintf("Assigned to %s by %s", *ch.AssignedTo, actor)
			if err := addComment(ctx, tx, id, "system", body, true, at); err != nil {
				return err
			}
		}

		return tx.GetContext(ctx, &updated, tx.Rebind(`SELECT * FROM tickets WHERE id = ?`), id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
