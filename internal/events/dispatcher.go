package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"leadflow/internal/metrics"
)

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev *Event, body []byte) error
	Close() error
}

// DeliveryStatus represents the status of a delivery
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Delivery tracks an event until every sink accepted it.
type Delivery struct {
	Event        *Event         `json:"event"`
	Remaining    []string       `json:"remaining_channels"`
	AttemptCount int            `json:"attempt_count"`
	Status       DeliveryStatus `json:"status"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	body     []byte
	inFlight bool
}

// DeliveryResult represents the result of a delivery attempt on one channel.
type DeliveryResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a snapshot for the operator API.
type Stats struct {
	Channels       []string `json:"channels"`
	PendingEvents  int      `json:"pending_events"`
	Delivered      int64    `json:"delivered"`
	Failed         int64    `json:"failed"`
	MaxRetries     int      `json:"max_retries"`
	TimeoutMs      int64    `json:"timeout_ms"`
	RetryBackoffMs int64    `json:"retry_backoff_ms"`
}

// Dispatcher fans events out to all sinks in parallel. Channels that fail
// are retried in the background up to maxRetries attempts.
type Dispatcher struct {
	mu        sync.RWMutex
	sinks     map[string]Sink
	channels  []string
	pending   map[string]*Delivery
	delivered int64
	failed    int64

	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration

	wg     sync.WaitGroup
	stop   chan struct{}
	closed bool
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks:        make(map[string]Sink),
		pending:      make(map[string]*Delivery),
		maxRetries:   3,
		retryBackoff: 2 * time.Second,
		timeout:      10 * time.Second,
		stop:         make(chan struct{}),
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		d.sinks[s.Name()] = s
		d.channels = append(d.channels, s.Name())
	}
	log.Info().Strs("channels", d.channels).Int("maxRetries", d.maxRetries).Msg("Event dispatcher initialized")
	return d
}

// Enabled reports whether any sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.sinks) > 0
}

// Start runs the retry loop until Close.
func (d *Dispatcher) Start() {
	if !d.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.retryBackoff)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.retryPending()
			}
		}
	}()
}

// Publish builds an event and delivers it in the background. It never
// blocks the caller and is a no-op without sinks.
func (d *Dispatcher) Publish(companyID string, t Type, data map[string]interface{}) {
	if !d.Enabled() {
		return
	}
	d.Deliver(&Event{
		ID:         uuid.NewString(),
		Type:       t,
		CompanyID:  companyID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}

// Deliver queues an already built event.
func (d *Dispatcher) Deliver(ev *Event) {
	if !d.Enabled() {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("eventType", string(ev.Type)).Msg("Failed to marshal event")
		return
	}

	del := &Delivery{
		Event:     ev,
		Remaining: append([]string(nil), d.channels...),
		Status:    DeliveryStatusPending,
		CreatedAt: time.Now(),
		body:      body,
		inFlight:  true,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn().Str("eventID", ev.ID).Msg("Dispatcher closed, dropping event")
		return
	}
	d.pending[ev.ID] = del
	d.wg.Add(1)
	d.mu.Unlock()

	log.Debug().Str("eventID", ev.ID).Str("eventType", string(ev.Type)).Str("companyID", ev.CompanyID).Msg("Starting parallel delivery")

	go func() {
		defer d.wg.Done()
		d.processDelivery(del)
	}()
}

func (d *Dispatcher) processDelivery(del *Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	d.mu.RLock()
	channels := append([]string(nil), del.Remaining...)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan DeliveryResult, len(channels))
	for _, name := range channels {
		sink := d.sinks[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.deliverTo(ctx, sink, del)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var failedChannels []string
	var lastErr string
	for result := range results {
		if !result.Success {
			failedChannels = append(failedChannels, result.Channel)
			lastErr = result.Error
		}
		log.Debug().
			Str("eventID", del.Event.ID).
			Str("channel", result.Channel).
			Bool("success", result.Success).
			Int64("durationMs", result.Duration).
			Str("error", result.Error).
			Msg("Channel delivery result")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	del.inFlight = false
	del.Remaining = failedChannels
	del.AttemptCount++
	del.LastError = lastErr

	switch {
	case len(failedChannels) == 0:
		del.Status = DeliveryStatusDelivered
		delete(d.pending, del.Event.ID)
		d.delivered++
	case del.AttemptCount >= d.maxRetries:
		del.Status = DeliveryStatusFailed
		delete(d.pending, del.Event.ID)
		d.failed++
		log.Error().
			Str("eventID", del.Event.ID).
			Str("eventType", string(del.Event.Type)).
			Strs("channels", failedChannels).
			Int("attemptCount", del.AttemptCount).
			Msg("Event delivery failed permanently")
	default:
		log.Warn().
			Str("eventID", del.Event.ID).
			Strs("channels", failedChannels).
			Int("attemptCount", del.AttemptCount).
			Int("maxRetries", d.maxRetries).
			Msg("Event delivery partially failed, will retry")
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, sink Sink, del *Delivery) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: sink.Name(), Timestamp: start}

	err := ctx.Err()
	if err == nil {
		err = sink.Publish(ctx, del.Event, del.body)
	}
	result.Duration = time.Since(start).Milliseconds()
	metrics.RecordEventDelivery(sink.Name(), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "context timeout"
		} else {
			result.Error = err.Error()
		}
		return result
	}
	result.Success = true
	return result
}

func (d *Dispatcher) retryPending() {
	d.mu.Lock()
	var toRetry []*Delivery
	for _, del := range d.pending {
		if !del.inFlight && del.Status == DeliveryStatusPending && time.Since(del.CreatedAt) > d.retryBackoff {
			del.inFlight = true
			toRetry = append(toRetry, del)
		}
	}
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(len(toRetry))
	d.mu.Unlock()

	for _, del := range toRetry {
		log.Info().Str("eventID", del.Event.ID).Int("attemptCount", del.AttemptCount).Msg("Retrying failed event delivery")
		go func() {
			defer d.wg.Done()
			d.processDelivery(del)
		}()
	}
}

// Stats returns counters and the number of pending deliveries.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Channels:       append([]string(nil), d.channels...),
		PendingEvents:  len(d.pending),
		Delivered:      d.delivered,
		Failed:         d.failed,
		MaxRetries:     d.maxRetries,
		TimeoutMs:      d.timeout.Milliseconds(),
		RetryBackoffMs: d.retryBackoff.Milliseconds(),
	}
}

// Pending returns up to limit deliveries still waiting for a channel.
func (d *Dispatcher) Pending(limit int) []Delivery {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, 0, len(d.pending))
	for _, del := range d.pending {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *del)
	}
	return out
}

// Close stops retries, waits for in-flight deliveries and closes sinks.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()

	var errs []error
	for _, name := range d.channels {
		if err := d.sinks[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
