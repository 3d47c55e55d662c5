// Package services implements the conversation orchestration engine: tenant
// resolution, sessions, policy and language gating, LLM replies, media,
// tickets, feedback, post-session analysis, notifications and usage.
package services

import (
	"context"

	"leadflow/internal/adapters/email"
	"leadflow/internal/adapters/llm"
	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/events"
)

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (*whatsapp.Receipt, error)
	SendInteractive(ctx context.Context, creds whatsapp.Credentials, to, header, body string, buttons []whatsapp.Button) (*whatsapp.Receipt, error)
	FetchMedia(ctx context.Context, creds whatsapp.Credentials, mediaID string) (*whatsapp.Media, error)
}

// Completer is the LLM provider.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.Completion, error)
	Transcribe(ctx context.Context, model, fileName string, audio []byte) (string, error)
}

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) (string, error)
}

// Publisher emits domain events. Implementations must not block.
type Publisher interface {
	Publish(companyID string, t events.Type, data map[string]interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Type, map[string]interface{}) {}

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
