package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
)

// LLM call purposes, stored on every usage record.
const (
	PurposeChat              = "chat"
	PurposeLanguageDetection = "language_detection"
	PurposeTranscription     = "transcription"
	PurposeImageAnalysis     = "image_analysis"
	PurposeCategoryDetection = "category_detection"
	PurposeSessionAnalysis   = "session_analysis"
)

// CallMeta attributes an LLM call to a tenant and session.
type CallMeta struct {
	CompanyID string
	SessionID *string
	Purpose   string
}

// Assistant wraps the LLM provider: every call goes through Call so that it
// is metered.
type Assistant struct {
	llm         Completer
	usage       *UsageAccountant
	model       string
	window      int
	temperature float64
}

func NewAssistant(completer Completer, usage *UsageAccountant, model string, window int) (*Assistant, error) {
	if completer == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage accountant cannot be nil")
	}
	if window <= 0 {
		window = 30
	}
	return &Assistant{llm: completer, usage: usage, model: model, window: window, temperature: 0.7}, nil
}

// Call runs one chat completion and records its usage. A failed usage insert
// is logged, never returned.
func (a *Assistant) Call(ctx context.Context, meta CallMeta, req llm.ChatRequest) (*llm.Completion, *models.LLMUsageRecord, error) {
	if req.Model == "" {
		req.Model = a.model
	}
	start := time.Now()
	completion, err := a.llm.Complete(ctx, req)
	if err != nil {
		metrics.RecordLLMCall(meta.Purpose, 0, 0, 0, err)
		log.Error().Err(err).Str("companyID", meta.CompanyID).Str("purpose", meta.Purpose).Str("model", req.Model).
			Dur("elapsed", time.Since(start)).Msg("LLM call failed")
		return nil, nil, err
	}

	rec, uerr := a.usage.Record(ctx, UsageInput{
		CompanyID:   meta.CompanyID,
		SessionID:   meta.SessionID,
		Purpose:     meta.Purpose,
		Model:       completion.Model,
		Usage:       completion.Usage,
		InputChars:  inputChars(req.Messages),
		OutputChars: len([]rune(completion.Text)),
	})
	if uerr != nil {
		log.Error().Err(uerr).Str("companyID", meta.CompanyID).Str("purpose", meta.Purpose).Msg("Failed to record LLM usage")
		metrics.RecordLLMCall(meta.Purpose, 0, 0, 0, nil)
		return completion, nil, nil
	}
	metrics.RecordLLMCall(meta.Purpose, rec.InputTokens, rec.OutputTokens, rec.TotalCost, nil)
	log.Debug().Str("companyID", meta.CompanyID).Str("purpose", meta.Purpose).Str("model", rec.Model).
		Int("inputTokens", rec.InputTokens).Int("outputTokens", rec.OutputTokens).Bool("estimated", rec.Estimated).
		Dur("elapsed", time.Since(start)).Msg("LLM call completed")
	return completion, rec, nil
}

// Transcribe runs speech-to-text. Transcriptions report no token counters,
// so the record is an estimate over the produced text.
func (a *Assistant) Transcribe(ctx context.Context, meta CallMeta, model, fileName string, audio []byte) (string, error) {
	text, err := a.llm.Transcribe(ctx, model, fileName, audio)
	if err != nil {
		metrics.RecordLLMCall(meta.Purpose, 0, 0, 0, err)
		return "", err
	}
	rec, uerr := a.usage.Record(ctx, UsageInput{
		CompanyID:   meta.CompanyID,
		SessionID:   meta.SessionID,
		Purpose:     meta.Purpose,
		Model:       model,
		OutputChars: len([]rune(text)),
	})
	if uerr != nil {
		log.Error().Err(uerr).Str("companyID", meta.CompanyID).Msg("Failed to record transcription usage")
		return text, nil
	}
	metrics.RecordLLMCall(meta.Purpose, rec.InputTokens, rec.OutputTokens, rec.TotalCost, nil)
	return text, nil
}

// ReplyRequest carries the inputs of GenerateReply.
type ReplyRequest struct {
	UserText       string
	History        []models.Message
	Knowledge      *models.Knowledge
	Categories     []models.TicketCategory
	IsFirstMessage bool
	Language       string
	Company        *models.Company
	Session        *models.Session
}

// GenerateReply produces the assistant's answer to one user turn.
func (a *Assistant) GenerateReply(ctx context.Context, req ReplyRequest) (string, *models.LLMUsageRecord, error) {
	system := BuildSystemPrompt(PromptInput{
		Language:       req.Language,
		Knowledge:      req.Knowledge,
		Categories:     req.Categories,
		IsFirstMessage: req.IsFirstMessage,
	})

	history := req.History
	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.TextMessage("system", system))
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		role := "user"
		if m.Direction == models.DirectionFromBot {
			role = "assistant"
		}
		messages = append(messages, llm.TextMessage(role, m.Text))
	}
	messages = append(messages, llm.TextMessage("user", req.UserText))

	meta := CallMeta{CompanyID: req.Company.ID, Purpose: PurposeChat}
	if req.Session != nil {
		meta.SessionID = &req.Session.ID
	}
	completion, rec, err := a.Call(ctx, meta, llm.ChatRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", nil, err
	}
	return completion.Text, rec, nil
}

func inputChars(messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		switch c := m.Content.(type) {
		case string:
			n += len([]rune(c))
		case []llm.ContentPart:
			for _, p := range c {
				n += len([]rune(p.Text))
			}
		}
	}
	return n
}
