package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

// Outbox sends replies through the transport and stores what was sent.
type Outbox struct {
	messenger Messenger
	tenants   *TenantRegistry
	messages  *store.MessageStore
}

func NewOutbox(messenger Messenger, tenants *TenantRegistry, messages *store.MessageStore) *Outbox {
	return &Outbox{messenger: messenger, tenants: tenants, messages: messages}
}

// Text sends a text reply. When sessionID is set the reply is appended to the
// session transcript.
func (o *Outbox) Text(ctx context.Context, company *models.Company, user *models.User, sessionID *string, body string) error {
	receipt, err := o.messenger.SendText(ctx, o.tenants.Credentials(company), user.ChatNumber, body)
	metrics.RecordOutbound("text", err)
	if err != nil {
		return o.failed(ctx, company, user, err)
	}
	if sessionID == nil {
		return nil
	}
	msg := &models.Message{
		CompanyID: company.ID,
		UserID:    user.ID,
		SessionID: sessionID,
		Text:      body,
		Direction: models.DirectionFromBot,
		Kind:      models.KindText,
	}
	if receipt != nil && receipt.MessageID != "" {
		msg.TransportMessageID = &receipt.MessageID
	}
	return o.messages.Append(ctx, msg)
}

// Buttons sends an interactive prompt. Prompts are not part of the transcript.
func (o *Outbox) Buttons(ctx context.Context, company *models.Company, user *models.User, header, body string, buttons []whatsapp.Button) error {
	_, err := o.messenger.SendInteractive(ctx, o.tenants.Credentials(company), user.ChatNumber, header, body, buttons)
	metrics.RecordOutbound("interactive", err)
	if err != nil {
		return o.failed(ctx, company, user, err)
	}
	return nil
}

func (o *Outbox) failed(ctx context.Context, company *models.Company, user *models.User, err error) error {
	switch {
	case errors.Is(err, models.ErrCredentialsExpired):
		o.tenants.CredentialsExpired(ctx, company, err)
	case errors.Is(err, models.ErrMissingCredentials):
		log.Error().Str("companyID", company.ID).Msg("No transport credentials configured; dropping outbound message")
	default:
		log.Error().Err(err).Str("companyID", company.ID).Str("to", user.ChatNumber).Msg("Failed to send message")
	}
	return err
}
