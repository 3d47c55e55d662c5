package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/models"
)

// Event is a normalized inbound user message.
type Event struct {
	PhoneNumberID string
	From          string
	ProfileName   string
	MessageID     string
	Kind          models.MessageKind
	Text          string
	MediaID       string
	MimeType      string
	Caption       string
	ReplyID       string
	Timestamp     time.Time
}

// Verify answers the subscription handshake. It returns the challenge and
// true only when mode is subscribe and token matches exactly.
func Verify(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return "", false
	}
	return challenge, true
}

// ValidSignature checks an X-Hub-Signature-256 header against the app secret.
func ValidSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// ParseEvents decodes a webhook body into user messages. Delivery status
// updates and unsupported message types yield no events.
func ParseEvents(body []byte) ([]Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if len(v.Messages) == 0 {
				if len(v.Statuses) > 0 {
					log.Debug().Int("statuses", len(v.Statuses)).Str("phoneNumberID", v.Metadata.PhoneNumberID).Msg("Ignoring delivery status update")
				}
				continue
			}
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				ev, ok := normalize(v.Metadata.PhoneNumberID, m)
				if !ok {
					log.Info().Str("messageID", m.ID).Str("type", m.Type).Msg("Skipping unsupported message type")
					continue
				}
				ev.ProfileName = names[m.From]
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// ParseEvent returns the first user message of the payload, or nil when the
// payload only carries status updates.
func ParseEvent(body []byte) (*Event, error) {
	events, err := ParseEvents(body)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

func normalize(phoneNumberID string, m InboundMessage) (Event, bool) {
	ev := Event{
		PhoneNumberID: phoneNumberID,
		From:          m.From,
		MessageID:     m.ID,
		Timestamp:     parseTimestamp(m.Timestamp),
	}
	if ev.From == "" || ev.MessageID == "" {
		return ev, false
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return ev, false
		}
		ev.Kind = models.KindText
		ev.Text = m.Text.Body
	case "audio", "voice":
		media := m.Audio
		if media == nil {
			media = m.Voice
		}
		if media == nil {
			return ev, false
		}
		ev.Kind = models.KindAudio
		ev.MediaID = media.ID
		ev.MimeType = media.MimeType
	case "image":
		if m.Image == nil {
			return ev, false
		}
		ev.Kind = models.KindImage
		ev.MediaID = m.Image.ID
		ev.MimeType = m.Image.MimeType
		ev.Caption = m.Image.Caption
		ev.Text = m.Image.Caption
	case "interactive":
		if m.Interactive == nil {
			return ev, false
		}
		reply := m.Interactive.ButtonReply
		if reply == nil {
			reply = m.Interactive.ListReply
		}
		if reply == nil {
			return ev, false
		}
		ev.Kind = models.KindInteractive
		ev.ReplyID = reply.ID
		ev.Text = reply.Title
	case "button":
		if m.Button == nil {
			return ev, false
		}
		ev.Kind = models.KindInteractive
		ev.ReplyID = m.Button.Payload
		ev.Text = m.Button.Text
	case "location":
		if m.Location == nil {
			return ev, false
		}
		ev.Kind = models.KindLocation
		ev.Text = LocationText(m.Location)
	default:
		return ev, false
	}
	return ev, true
}

// LocationText renders a shared location as message text.
func LocationText(l *LocationBody) string {
	text := fmt.Sprintf("[location] %s,%s",
		strconv.FormatFloat(l.Latitude, 'f', -1, 64),
		strconv.FormatFloat(l.Longitude, 'f', -1, 64))
	name := strings.TrimSpace(strings.Join([]string{l.Name, l.Address}, " "))
	if name != "" {
		text += " " + name
	}
	return text
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
