package services

import (
	"fmt"
	"time"

	"leadflow/internal/storage"
	"leadflow/internal/store"
)

// Options wires the engine to its stores, adapters and tunables.
type Options struct {
	Stores    *store.Stores
	Messenger Messenger
	LLM       Completer
	Mailer    Mailer
	Blobs     storage.BlobStore
	Events    Publisher
	Location  *time.Location

	DefaultCompanyID string
	FallbackToken    string
	BaseURL          string

	ChatModel       string
	VisionModel     string
	TranscribeModel string

	ContextWindow      int
	PolicyMaxRefusals  int
	AnalysisWorkers    int
	LockTableSize      int
	FeedbackCommentTTL time.Duration
}

// Engine holds every service of the orchestration engine.
type Engine struct {
	Tenants   *TenantRegistry
	Usage     *UsageAccountant
	Assistant *Assistant
	Outbox    *Outbox
	Locks     *PairLocks
	Policy    *PolicyGate
	Language  *LanguageNegotiator
	Sessions  *SessionManager
	Media     *MediaPipeline
	Tickets   *TicketEngine
	Feedback  *FeedbackCollector
	Analyzer  *Analyzer
	Notifier  *Notifier
	Pipeline  *Pipeline
}

func New(opts Options) (*Engine, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("stores cannot be nil")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("messenger cannot be nil")
	}
	if opts.Blobs == nil {
		return nil, fmt.Errorf("blob store cannot be nil")
	}
	st := opts.Stores
	pub := publisherOrNop(opts.Events)

	tenants, err := NewTenantRegistry(st.Companies, opts.DefaultCompanyID, opts.FallbackToken, pub)
	if err != nil {
		return nil, err
	}
	usage := NewUsageAccountant(st.Usage, opts.Location)
	assistant, err := NewAssistant(opts.LLM, usage, opts.ChatModel, opts.ContextWindow)
	if err != nil {
		return nil, err
	}
	outbox := NewOutbox(opts.Messenger, tenants, st.Messages)
	locks := NewPairLocks(opts.LockTableSize)
	notifier := NewNotifier(opts.Mailer, tenants, opts.BaseURL)
	analyzer := NewAnalyzer(st, assistant, notifier, pub, opts.AnalysisWorkers)
	feedback := NewFeedbackCollector(st, outbox, pub, opts.FeedbackCommentTTL)
	sessions := NewSessionManager(st, locks, analyzer, feedback, outbox, pub)

	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = opts.ChatModel
	}
	media := NewMediaPipeline(st, opts.Messenger, opts.Blobs, assistant, tenants, opts.TranscribeModel, visionModel)
	tickets := NewTicketEngine(st.Tickets, notifier, pub)
	policy := NewPolicyGate(st.Policies, st.Users, outbox, opts.PolicyMaxRefusals)
	language := NewLanguageNegotiator(st.Users, assistant, outbox)

	window := opts.ContextWindow
	if window <= 0 {
		window = 30
	}
	return &Engine{
		Tenants:   tenants,
		Usage:     usage,
		Assistant: assistant,
		Outbox:    outbox,
		Locks:     locks,
		Policy:    policy,
		Language:  language,
		Sessions:  sessions,
		Media:     media,
		Tickets:   tickets,
		Feedback:  feedback,
		Analyzer:  analyzer,
		Notifier:  notifier,
		Pipeline: &Pipeline{
			st:        st,
			tenants:   tenants,
			locks:     locks,
			policy:    policy,
			language:  language,
			sessions:  sessions,
			assistant: assistant,
			media:     media,
			tickets:   tickets,
			feedback:  feedback,
			outbox:    outbox,
			window:    window,
		},
	}, nil
}

// Start launches the background analysis workers.
func (e *Engine) Start() {
	e.Analyzer.Start()
}

// Stop waits for queued analyses to finish.
func (e *Engine) Stop() {
	e.Analyzer.Stop()
}
