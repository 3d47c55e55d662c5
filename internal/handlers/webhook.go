package handlers

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
)

const (
	maxWebhookBody = 1 << 20
	// processing continues in the background after the soft deadline, up to
	// this bound
	eventProcessTimeout = 5 * time.Minute
)

// EventHandler processes one normalized inbound event.
type EventHandler interface {
	Handle(ctx context.Context, ev whatsapp.Event) error
}

// WebhookHandler serves the Cloud API webhook.
type WebhookHandler struct {
	events       EventHandler
	verifyToken  string
	appSecret    string
	softDeadline time.Duration
	wg           sync.WaitGroup
}

func NewWebhookHandler(events EventHandler, verifyToken, appSecret string, softDeadline time.Duration) *WebhookHandler {
	if events == nil {
		log.Fatal().Msg("Event handler cannot be nil for WebhookHandler")
	}
	if softDeadline <= 0 {
		softDeadline = 8 * time.Second
	}
	return &WebhookHandler{
		events:       events,
		verifyToken:  verifyToken,
		appSecret:    appSecret,
		softDeadline: softDeadline,
	}
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, ok := whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
		if !ok {
			hlog.FromRequest(r).Warn().Str("mode", q.Get("hub.mode")).Msg("Webhook verification rejected")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		hlog.FromRequest(r).Info().Msg("Webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
	}
}

// Receive acknowledges a webhook delivery. Events are processed on a detached
// context; the response waits for them up to the soft deadline and is 200 for
// every parseable payload.
func (h *WebhookHandler) Receive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to read webhook body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if h.appSecret != "" && !whatsapp.ValidSignature(body, r.Header.Get("X-Hub-Signature-256"), h.appSecret) {
			hlog.FromRequest(r).Warn().Msg("Invalid webhook signature")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		events, err := whatsapp.ParseEvents(body)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Unparseable webhook payload")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(events) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}

		done := make(chan struct{})
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer close(done)
			ctx, cancel := context.WithTimeout(context.Background(), eventProcessTimeout)
			defer cancel()
			for _, ev := range events {
				if err := h.events.Handle(ctx, ev); err != nil {
					log.Error().Err(err).Str("messageID", ev.MessageID).Str("phoneNumberID", ev.PhoneNumberID).
						Msg("Failed to process inbound message")
				}
			}
		}()

		select {
		case <-done:
		case <-time.After(h.softDeadline):
			hlog.FromRequest(r).Warn().Int("events", len(events)).Dur("deadline", h.softDeadline).
				Msg("Soft deadline reached; acknowledging while processing continues")
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Wait blocks until background event processing has drained.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
