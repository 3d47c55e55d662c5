// Package email sends transactional mail through an HTTP email API.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Message is one outgoing email with plain and html parts.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

type sendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

type sendResult struct {
	ID string `json:"id"`
}

type Client struct {
	httpClient *resty.Client
	apiURL     string
	from       string
}

// NewClient creates an email API client. from may carry a display name.
func NewClient(apiURL, apiKey, fromAddress, fromName string, timeout time.Duration) (*Client, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("email apiURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("email apiKey cannot be empty")
	}
	if fromAddress == "" {
		return nil, fmt.Errorf("email from address cannot be empty")
	}
	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}

	client := resty.New().
		SetAuthToken(apiKey).
		SetTimeout(timeout)

	log.Info().Str("apiURL", apiURL).Str("from", from).Msg("Email client configured")
	return &Client{httpClient: client, apiURL: apiURL, from: from}, nil
}

// Send posts one message. Any 2xx answer is success; nothing is retried.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("email has no recipients")
	}
	payload := sendPayload{From: c.from, To: msg.To, Subject: msg.Subject, Text: msg.Text, HTML: msg.HTML}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&sendResult{}).
		Post(c.apiURL)

	if err != nil {
		log.Error().Err(err).Strs("to", msg.To).Str("subject", msg.Subject).Msg("Email API: send request failed")
		return "", fmt.Errorf("email API send request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Strs("to", msg.To).Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("Email API: send returned an error")
		return "", fmt.Errorf("email API send error: status %s", resp.Status())
	}

	id := resp.Result().(*sendResult).ID
	log.Info().Strs("to", msg.To).Str("subject", msg.Subject).Str("emailID", id).Msg("Email sent")
	return id, nil
}
