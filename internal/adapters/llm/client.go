// Package llm is a client for OpenAI-compatible chat, vision and
// speech-to-text endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"
)

// ErrEmptyCompletion is returned when the provider answers without choices.
var ErrEmptyCompletion = errors.New("LLM API returned no choices")

type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates an LLM client. Calls are not retried.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("LLM baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("LLM apiKey cannot be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout)

	log.Info().Str("baseURL", baseURL).Dur("timeout", timeout).Msg("LLM client configured")
	return &Client{httpClient: client, baseURL: baseURL}, nil
}

// Complete sends a chat-completions request and returns the first choice.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	started := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&chatResponse{}).
		SetError(&errorResponse{}).
		Post("/chat/completions")

	if err != nil {
		log.Error().Err(err).Str("model", req.Model).Msg("LLM API: chat request failed")
		return nil, fmt.Errorf("LLM API chat request failed: %w", err)
	}
	if resp.IsError() {
		msg := resp.String()
		if e, ok := resp.Error().(*errorResponse); ok && e.Error.Message != "" {
			msg = e.Error.Message
		}
		log.Error().Str("model", req.Model).Int("statusCode", resp.StatusCode()).Str("error", msg).Msg("LLM API: chat returned an error")
		return nil, fmt.Errorf("LLM API chat error: status %s: %s", resp.Status(), msg)
	}

	out := resp.Result().(*chatResponse)
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	log.Debug().Str("model", model).Dur("elapsed", time.Since(started)).Bool("usageReported", out.Usage != nil).Msg("LLM completion received")
	return &Completion{
		Text:  strings.TrimSpace(out.Choices[0].Message.Content),
		Model: model,
		Usage: out.Usage,
	}, nil
}

// Transcribe sends audio to the speech-to-text endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, model, fileName string, audio []byte) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(audio)).
		SetFormData(map[string]string{"model": model}).
		SetResult(&transcriptionResponse{}).
		Post("/audio/transcriptions")

	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("LLM API: transcription request failed")
		return "", fmt.Errorf("LLM API transcription request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("model", model).Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("LLM API: transcription returned an error")
		return "", fmt.Errorf("LLM API transcription error: status %s", resp.Status())
	}

	text := strings.TrimSpace(resp.Result().(*transcriptionResponse).Text)
	if text == "" {
		return "", fmt.Errorf("LLM API transcription returned empty text")
	}
	return text, nil
}

// TextMessage builds a plain text turn.
func TextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// VisionMessage builds a user turn carrying a prompt and an inline image.
func VisionMessage(prompt, contentType string, image []byte) Message {
	return Message{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: dataurl.New(image, contentType).String()}},
		},
	}
}

// ExtractJSON returns the outermost JSON object of a completion, dropping a
// fenced code block or prose around it.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// ParseJSON decodes the JSON object of a completion into v.
func ParseJSON(text string, v interface{}) error {
	if err := json.Unmarshal([]byte(ExtractJSON(text)), v); err != nil {
		return fmt.Errorf("decode LLM JSON reply: %w", err)
	}
	return nil
}
