// Package events publishes domain events to message brokers.
package events

import (
	"time"
)

// Type names a domain event.
type Type string

const (
	SessionClosed      Type = "session.closed"
	SessionAnalyzed    Type = "session.analyzed"
	LeadDetected       Type = "lead.detected"
	TicketCreated      Type = "ticket.created"
	TicketImageAdded   Type = "ticket.image_added"
	TicketUpdated      Type = "ticket.updated"
	FeedbackReceived   Type = "feedback.received"
	CredentialsExpired Type = "tenant.credentials_expired"
)

var supportedTypes = []Type{
	// Sessions
	SessionClosed,
	SessionAnalyzed,
	LeadDetected,

	// Tickets
	TicketCreated,
	TicketImageAdded,
	TicketUpdated,

	// Feedback
	FeedbackReceived,

	// Tenant health
	CredentialsExpired,
}

var typeMap map[Type]bool

func init() {
	typeMap = make(map[Type]bool, len(supportedTypes))
	for _, t := range supportedTypes {
		typeMap[t] = true
	}
}

// IsValidType reports whether t is a known event type.
func IsValidType(t string) bool {
	return typeMap[Type(t)]
}

// SupportedTypes returns the known event types.
func SupportedTypes() []Type {
	out := make([]Type, len(supportedTypes))
	copy(out, supportedTypes)
	return out
}

// Event is the envelope written to every sink.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	CompanyID  string                 `json:"company_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}
