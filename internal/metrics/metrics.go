// Package metrics provides Prometheus metrics for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var startTime = time.Now()

var (
	// Webhook intake
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_webhook_events_total",
			Help: "Inbound webhook events by message kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_webhook_processing_seconds",
			Help:    "Time spent processing one inbound event",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// LLM
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_llm_requests_total",
			Help: "LLM calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_llm_tokens_total",
			Help: "LLM tokens by purpose and direction",
		},
		[]string{"purpose", "direction"},
	)

	LLMCostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_llm_cost_usd_total",
			Help: "Accumulated LLM cost in USD",
		},
	)

	// Outbound chat and email
	OutboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_outbound_messages_total",
			Help: "Outbound chat messages by type and status",
		},
		[]string{"type", "status"},
	)

	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_emails_total",
			Help: "Notification emails by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Sessions and tickets
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_sessions_closed_total",
			Help: "Closed sessions by cause",
		},
		[]string{"cause"},
	)

	SessionsAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_sessions_analyzed_total",
			Help: "Session analyses by outcome",
		},
		[]string{"outcome"},
	)

	TicketsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_tickets_created_total",
			Help: "Tickets created from image conversations",
		},
	)

	// Scheduler
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_job_runs_total",
			Help: "Scheduled job runs by job and status",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_job_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Domain events
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_events_published_total",
			Help: "Domain events by delivery channel and status",
		},
		[]string{"channel", "status"},
	)

	PairLocksInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_pair_locks_in_use",
			Help: "Live per (user, company) locks",
		},
	)

	ServerUptimeSeconds = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "leadflow_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordWebhookEvent records one processed inbound event.
func RecordWebhookEvent(kind, outcome string, duration time.Duration) {
	WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
	WebhookDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLLMCall records an LLM call and, on success, its usage.
func RecordLLMCall(purpose string, inputTokens, outputTokens int, cost float64, err error) {
	LLMRequestsTotal.WithLabelValues(purpose, status(err)).Inc()
	if err != nil {
		return
	}
	LLMTokensTotal.WithLabelValues(purpose, "input").Add(float64(inputTokens))
	LLMTokensTotal.WithLabelValues(purpose, "output").Add(float64(outputTokens))
	LLMCostTotal.Add(cost)
}

func RecordOutbound(msgType string, err error) {
	OutboundMessagesTotal.WithLabelValues(msgType, status(err)).Inc()
}

func RecordEmail(kind string, err error) {
	EmailsTotal.WithLabelValues(kind, status(err)).Inc()
}

func RecordJob(job string, duration time.Duration, err error) {
	JobRunsTotal.WithLabelValues(job, status(err)).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordEventDelivery(channel string, err error) {
	EventsPublishedTotal.WithLabelValues(channel, status(err)).Inc()
}
