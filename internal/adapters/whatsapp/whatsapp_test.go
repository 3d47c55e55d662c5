package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"leadflow/internal/models"
)

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "metadata": {"display_phone_number": "34911", "phone_number_id": "PHONE-A"},
    "contacts": [{"wa_id": "34600111222", "profile": {"name": "Ana"}}],
    "messages": [{"from": "34600111222", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "Hola"}}]
  }}]}]
}`

const statusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
    "metadata": {"phone_number_id": "PHONE-A"},
    "statuses": [{"id": "wamid.out", "status": "delivered", "timestamp": "1700000001", "recipient_id": "34600111222"}]
  }}]}]
}`

func TestParseEventText(t *testing.T) {
	ev, err := ParseEvent([]byte(textPayload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.PhoneNumberID != "PHONE-A" || ev.From != "34600111222" || ev.ProfileName != "Ana" {
		t.Fatalf("unexpected identity: %+v", ev)
	}
	if ev.Kind != models.KindText || ev.Text != "Hola" || ev.MessageID != "wamid.1" {
		t.Fatalf("unexpected content: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %s", ev.Timestamp)
	}
}

func TestParseEventStatusOnly(t *testing.T) {
	ev, err := ParseEvent([]byte(statusPayload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev != nil {
		t.Fatalf("status update should yield no event, got %+v", ev)
	}
}

func TestParseEventKinds(t *testing.T) {
	wrap := func(msg string) []byte {
		return []byte(`{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"P"},"messages":[` + msg + `]}}]}]}`)
	}

	ev, err := ParseEvent(wrap(`{"from":"1","id":"a","type":"image","image":{"id":"media-9","mime_type":"image/jpeg","caption":"fuga"}}`))
	if err != nil || ev == nil || ev.Kind != models.KindImage || ev.MediaID != "media-9" || ev.Caption != "fuga" {
		t.Fatalf("image = %+v (%v)", ev, err)
	}

	ev, err = ParseEvent(wrap(`{"from":"1","id":"b","type":"audio","audio":{"id":"media-3","mime_type":"audio/ogg"}}`))
	if err != nil || ev == nil || ev.Kind != models.KindAudio || ev.MediaID != "media-3" {
		t.Fatalf("audio = %+v (%v)", ev, err)
	}

	ev, err = ParseEvent(wrap(`{"from":"1","id":"c","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"feedback_positive","title":"Bien"}}}`))
	if err != nil || ev == nil || ev.Kind != models.KindInteractive || ev.ReplyID != "feedback_positive" {
		t.Fatalf("interactive = %+v (%v)", ev, err)
	}

	ev, err = ParseEvent(wrap(`{"from":"1","id":"d","type":"location","location":{"latitude":40.4,"longitude":-3.7,"name":"Sol"}}`))
	if err != nil || ev == nil || ev.Kind != models.KindLocation || ev.Text != "[location] 40.4,-3.7 Sol" {
		t.Fatalf("location = %+v (%v)", ev, err)
	}

	ev, err = ParseEvent(wrap(`{"from":"1","id":"e","type":"sticker","sticker":{"id":"s"}}`))
	if err != nil || ev != nil {
		t.Fatalf("sticker = %+v (%v)", ev, err)
	}

	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestVerify(t *testing.T) {
	if got, ok := Verify("subscribe", "secret", "12345", "secret"); !ok || got != "12345" {
		t.Fatalf("Verify = %q, %v", got, ok)
	}
	if _, ok := Verify("subscribe", "wrong", "12345", "secret"); ok {
		t.Fatal("wrong token accepted")
	}
	if _, ok := Verify("unsubscribe", "secret", "12345", "secret"); ok {
		t.Fatal("wrong mode accepted")
	}
}

func TestValidSignature(t *testing.T) {
	body := []byte(textPayload)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !ValidSignature(body, header, "app-secret") {
		t.Fatal("valid signature rejected")
	}
	if ValidSignature(body, header, "other") {
		t.Fatal("signature with wrong secret accepted")
	}
	if ValidSignature(body, "deadbeef", "app-secret") {
		t.Fatal("header without prefix accepted")
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, 2*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

var creds = Credentials{PhoneNumberID: "PHONE-A", AccessToken: "tok"}

func TestSendTextRetriesOnceOn5xx(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/PHONE-A/messages" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var got outboundMessage
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil || got.Text == nil || got.Text.Body != "hi" {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`))
	})

	receipt, err := c.SendText(context.Background(), creds, "34600111222", "hi")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if receipt.MessageID != "wamid.out" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSendTextGivesUpAfterOneRetry(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := c.SendText(context.Background(), creds, "1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSendTextExpiredCredentialsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Session has expired","type":"OAuthException","code":190}}`))
	})
	_, err := c.SendText(context.Background(), creds, "1", "hi")
	if !errors.Is(err, models.ErrCredentialsExpired) {
		t.Fatalf("err = %v, want ErrCredentialsExpired", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSendInteractiveButtons(t *testing.T) {
	var got outboundMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"wamid.btn"}]}`))
	})

	buttons := []Button{{ID: "a", Title: "This title is definitely too long"}, {ID: "b", Title: "No"}}
	if _, err := c.SendInteractive(context.Background(), creds, "1", "Header", "Body", buttons); err != nil {
		t.Fatalf("SendInteractive: %v", err)
	}
	if got.Interactive == nil || len(got.Interactive.Action.Buttons) != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if title := got.Interactive.Action.Buttons[0].Reply.Title; len([]rune(title)) != maxButtonTitle {
		t.Fatalf("title not truncated: %q", title)
	}

	four := []Button{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	if _, err := c.SendInteractive(context.Background(), creds, "1", "", "Body", four); err == nil {
		t.Fatal("four buttons accepted")
	}
}

func TestSendWithoutCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.SendText(context.Background(), Credentials{PhoneNumberID: "P"}, "1", "hi")
	if !errors.Is(err, models.ErrMissingCredentials) {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchMedia(t *testing.T) {
	var srvURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media-1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"url":"` + srvURL + `/download/media-1","mime_type":"audio/ogg","id":"media-1"}`))
		case "/download/media-1":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("OggS-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srvURL = c.baseURL

	m, err := c.FetchMedia(context.Background(), creds, "media-1")
	if err != nil {
		t.Fatalf("FetchMedia: %v", err)
	}
	if m.ContentType != "audio/ogg" || string(m.Data) != "OggS-bytes" {
		t.Fatalf("media = %+v", m)
	}
}
