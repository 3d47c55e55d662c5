package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend(t *testing.T) {
	var got sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer re_key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "re_key", "bot@example.com", "Asistente", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	id, err := c.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "[LEAD ALTO] Ana", Text: "t", HTML: "<p>t</p>"})
	if err != nil || id != "email-1" {
		t.Fatalf("Send = %q, %v", id, err)
	}
	if got.From != "Asistente <bot@example.com>" || got.Subject != "[LEAD ALTO] Ana" || len(got.To) != 1 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendFailureStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "k", "bot@example.com", "", time.Second)
	if _, err := c.Send(context.Background(), Message{To: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if _, err := c.Send(context.Background(), Message{}); err == nil {
		t.Fatal("expected error for no recipients")
	}
}
