package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"leadflow/internal/models"
)

const (
	maxButtons      = 3
	maxButtonTitle  = 20
	maxTextLength   = 4096
	expiredAuthCode = 190
)

// Client talks to the WhatsApp Cloud API. It is shared by all tenants; the
// sending credentials are passed per call.
type Client struct {
	httpClient  *resty.Client
	mediaClient *resty.Client
	baseURL     string
}

// NewClient creates a Cloud API client. Sends are retried once on 5xx.
func NewClient(baseURL string, timeout, mediaTimeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("WhatsApp API baseURL cannot be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	media := resty.New().
		SetTimeout(mediaTimeout).
		SetRetryCount(1).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	log.Info().Str("baseURL", baseURL).Msg("WhatsApp client configured")

	return &Client{httpClient: client, mediaClient: media, baseURL: baseURL}, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (*Receipt, error) {
	if len(body) > maxTextLength {
		body = body[:maxTextLength]
	}
	payload := outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &outboundText{Body: body},
	}
	return c.send(ctx, creds, payload)
}

// SendInteractive sends a button message. At most three buttons are allowed.
func (c *Client) SendInteractive(ctx context.Context, creds Credentials, to, header, body string, buttons []Button) (*Receipt, error) {
	if len(buttons) == 0 || len(buttons) > maxButtons {
		return nil, fmt.Errorf("interactive message needs 1 to %d buttons, got %d", maxButtons, len(buttons))
	}
	action := interactiveAction{}
	for _, b := range buttons {
		title := b.Title
		if r := []rune(title); len(r) > maxButtonTitle {
			title = string(r[:maxButtonTitle])
		}
		action.Buttons = append(action.Buttons, replyButton{Type: "reply", Reply: ReplyBody{ID: b.ID, Title: title}})
	}
	interactive := &outboundInteractive{
		Type:   "button",
		Body:   interactiveText{Text: body},
		Action: action,
	}
	if header != "" {
		interactive.Header = &interactiveHeader{Type: "text", Text: header}
	}
	payload := outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive:      interactive,
	}
	return c.send(ctx, creds, payload)
}

func (c *Client) send(ctx context.Context, creds Credentials, payload outboundMessage) (*Receipt, error) {
	if creds.PhoneNumberID == "" || creds.AccessToken == "" {
		return nil, models.ErrMissingCredentials
	}
	url := fmt.Sprintf("/%s/messages", creds.PhoneNumberID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetBody(payload).
		SetResult(&SendResponse{}).
		Post(url)

	if err != nil {
		log.Error().Err(err).Str("url", url).Str("to", payload.To).Msg("WhatsApp API: send request failed")
		return nil, fmt.Errorf("WhatsApp API send request failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.apiFailure("send", creds.PhoneNumberID, resp)
	}

	result := resp.Result().(*SendResponse)
	receipt := &Receipt{To: payload.To}
	if len(result.Messages) > 0 {
		receipt.MessageID = result.Messages[0].ID
	}
	log.Debug().Str("messageID", receipt.MessageID).Str("to", payload.To).Str("type", payload.Type).Msg("WhatsApp message sent")
	return receipt, nil
}

// FetchMedia resolves a media id to its download URL and fetches the bytes.
func (c *Client) FetchMedia(ctx context.Context, creds Credentials, mediaID string) (*Media, error) {
	if creds.AccessToken == "" {
		return nil, models.ErrMissingCredentials
	}
	url := "/" + mediaID

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetResult(&mediaInfo{}).
		Get(url)
	if err != nil {
		log.Error().Err(err).Str("mediaID", mediaID).Msg("WhatsApp API: media lookup failed")
		return nil, fmt.Errorf("WhatsApp API media lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.apiFailure("media lookup", creds.PhoneNumberID, resp)
	}
	info := resp.Result().(*mediaInfo)
	if info.URL == "" {
		return nil, fmt.Errorf("WhatsApp API media lookup for %s returned no URL", mediaID)
	}

	data, err := c.mediaClient.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		Get(info.URL)
	if err != nil {
		log.Error().Err(err).Str("mediaID", mediaID).Msg("WhatsApp API: media download failed")
		return nil, fmt.Errorf("WhatsApp API media download failed: %w", err)
	}
	if data.IsError() {
		return nil, c.apiFailure("media download", creds.PhoneNumberID, data)
	}

	contentType := info.MimeType
	if contentType == "" {
		contentType = data.Header().Get("Content-Type")
	}
	log.Debug().Str("mediaID", mediaID).Str("contentType", contentType).Int("bytes", len(data.Body())).Msg("WhatsApp media downloaded")
	return &Media{ID: mediaID, ContentType: contentType, Data: data.Body()}, nil
}

// apiFailure turns an error response into an error. Expired or revoked
// tokens wrap ErrCredentialsExpired and are logged at error level with the
// critical flag set.
func (c *Client) apiFailure(op, phoneNumberID string, resp *resty.Response) error {
	var apiErr apiError
	_ = json.Unmarshal(resp.Body(), &apiErr)

	if resp.StatusCode() == http.StatusUnauthorized || apiErr.Error.Code == expiredAuthCode {
		log.Error().
			Bool("critical", true).
			Str("phoneNumberID", phoneNumberID).
			Int("statusCode", resp.StatusCode()).
			Int("code", apiErr.Error.Code).
			Str("message", apiErr.Error.Message).
			Msgf("WhatsApp API: %s rejected credentials", op)
		return fmt.Errorf("%w: %s", models.ErrCredentialsExpired, apiErr.Error.Message)
	}

	log.Error().
		Str("phoneNumberID", phoneNumberID).
		Int("statusCode", resp.StatusCode()).
		Str("responseBody", string(resp.Body())).
		Msgf("WhatsApp API: %s returned an error", op)
	return &APIError{Op: op, StatusCode: resp.StatusCode(), Code: apiErr.Error.Code, Message: apiErr.Error.Message}
}

// APIError is a non-credential error answer from the Cloud API.
type APIError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("WhatsApp API %s error: status %d, code %d: %s", e.Op, e.StatusCode, e.Code, e.Message)
}

// IsCredentialsExpired reports whether err came from a rejected token.
func IsCredentialsExpired(err error) bool {
	return errors.Is(err, models.ErrCredentialsExpired)
}
