package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	name     string
	mu       sync.Mutex
	failures int
	received []Event
	closed   bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(ctx context.Context, ev *Event, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	s.received = append(s.received, decoded)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherFansOutToAllSinks(t *testing.T) {
	a, b := &fakeSink{name: "a"}, &fakeSink{name: "b"}
	d := NewDispatcher(a, b)
	d.Publish("company-1", TicketCreated, map[string]interface{}{"ticket_id": "t1"})

	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })
	if got := a.received[0]; got.Type != TicketCreated || got.CompanyID != "company-1" || got.Data["ticket_id"] != "t1" {
		t.Fatalf("event = %+v", got)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("sinks not closed")
	}
	if s := d.Stats(); s.Delivered != 1 || s.PendingEvents != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestDispatcherRetriesOnlyFailedChannel(t *testing.T) {
	ok, flaky := &fakeSink{name: "ok"}, &fakeSink{name: "flaky", failures: 1}
	d := NewDispatcher(ok, flaky)
	d.retryBackoff = 20 * time.Millisecond
	d.Start()
	defer d.Close()

	d.Publish("company-1", LeadDetected, nil)
	waitFor(t, func() bool { return flaky.count() == 1 })
	if ok.count() != 1 {
		t.Fatalf("healthy sink received %d events, want 1", ok.count())
	}
	waitFor(t, func() bool { return d.Stats().Delivered == 1 })
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	broken := &fakeSink{name: "broken", failures: 100}
	d := NewDispatcher(broken)
	d.retryBackoff = 10 * time.Millisecond
	d.Start()
	defer d.Close()

	d.Publish("company-1", SessionClosed, nil)
	waitFor(t, func() bool { return d.Stats().Failed == 1 })
	if len(d.Pending(0)) != 0 {
		t.Fatal("failed event still pending")
	}
}

func TestDispatcherWithoutSinksIsNoop(t *testing.T) {
	d := NewDispatcher()
	if d.Enabled() {
		t.Fatal("dispatcher without sinks reports enabled")
	}
	d.Publish("c", SessionClosed, nil)

	var nilDispatcher *Dispatcher
	nilDispatcher.Publish("c", SessionClosed, nil)
	if err := nilDispatcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQueueNameAndTypes(t *testing.T) {
	if got := QueueName("leadflow", TicketImageAdded); got != "leadflow_ticket_image_added" {
		t.Fatalf("QueueName = %q", got)
	}
	if !IsValidType("lead.detected") || IsValidType("Message") {
		t.Fatal("unexpected type validation")
	}
}
