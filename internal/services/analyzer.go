package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/events"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const (
	minAnalysisMessages = 3
	maxAnalysisAttempts = 2
	analysisTimeout     = 2 * time.Minute
	analysisQueueSize   = 1024
)

const analysisPrompt = `You analyze a finished customer conversation between a user and the virtual assistant of a company.
Reply only with a JSON object with exactly these fields:
{
  "primary_intent": one of "consulta_informacion", "interes_producto", "interes_servicio", "queja", "otro",
  "user_sentiment": one of "positivo", "neutral", "negativo",
  "purchase_interest_level": one of "alto", "medio", "bajo", "ninguno",
  "specific_interests": array of strings,
  "contact_info": {"type": "email|phone|other", "value": string} or null,
  "follow_up_needed": boolean,
  "follow_up_reason": string,
  "summary": string
}`

// Analyzer produces the structured post-mortem of closed sessions on a
// bounded worker pool.
type Analyzer struct {
	st        *store.Stores
	assistant *Assistant
	notifier  *Notifier
	events    Publisher
	workers   int

	queue   chan string
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewAnalyzer(st *store.Stores, assistant *Assistant, notifier *Notifier, pub Publisher, workers int) *Analyzer {
	if workers <= 0 {
		workers = 1
	}
	return &Analyzer{
		st:        st,
		assistant: assistant,
		notifier:  notifier,
		events:    publisherOrNop(pub),
		workers:   workers,
		queue:     make(chan string, analysisQueueSize),
	}
}

// Start launches the workers. They exit when Stop closes the queue.
func (a *Analyzer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go func(worker int) {
			defer a.wg.Done()
			for sessionID := range a.queue {
				ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
				if err := a.Analyze(ctx, sessionID); err != nil {
					log.Error().Err(err).Int("worker", worker).Str("sessionID", sessionID).Msg("Session analysis failed")
				}
				cancel()
			}
		}(i)
	}
	log.Info().Int("workers", a.workers).Msg("Session analyzer started")
}

// Stop drains the queue and waits for in-flight analyses.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

// Enqueue schedules analysis of a closed session. Without running workers,
// or with a full queue, the analysis runs on its own goroutine.
func (a *Analyzer) Enqueue(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		select {
		case a.queue <- sessionID:
			return
		default:
			log.Warn().Str("sessionID", sessionID).Msg("Analysis queue full; running inline")
		}
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		if err := a.Analyze(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("sessionID", sessionID).Msg("Session analysis failed")
		}
	}()
}

// Wait blocks until every enqueued analysis has finished. Only meaningful
// when the workers are not running.
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

// Analyze runs the post-mortem of one closed session. Sessions already
// analyzed only get their pending lead notification.
func (a *Analyzer) Analyze(ctx context.Context, sessionID string) error {
	sess, err := a.st.Sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.IsOpen() {
		return fmt.Errorf("session %s is still open", sessionID)
	}

	result := sess.AnalysisResults
	if result == nil {
		msgs, err := a.st.Messages.ListBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}
		if len(msgs) < minAnalysisMessages {
			metrics.SessionsAnalyzedTotal.WithLabelValues("skipped").Inc()
			log.Debug().Str("sessionID", sessionID).Int("messages", len(msgs)).Msg("Session too short to analyze")
			return nil
		}
		result, err = a.run(ctx, sess, msgs)
		if err != nil {
			metrics.SessionsAnalyzedTotal.WithLabelValues("failed").Inc()
			return err
		}
		if err := a.st.Sessions.SaveAnalysis(ctx, sessionID, result); err != nil {
			return fmt.Errorf("save analysis: %w", err)
		}
		metrics.SessionsAnalyzedTotal.WithLabelValues("success").Inc()
		a.events.Publish(sess.CompanyID, events.SessionAnalyzed, map[string]interface{}{
			"session_id":              sessionID,
			"primary_intent":          string(result.PrimaryIntent),
			"user_sentiment":          string(result.UserSentiment),
			"purchase_interest_level": string(result.PurchaseInterestLevel),
		})
		log.Info().Str("sessionID", sessionID).Str("interest", string(result.PurchaseInterestLevel)).Msg("Session analyzed")
	}

	if !result.PurchaseInterestLevel.IsLead() {
		return nil
	}
	return a.notifyLead(ctx, sess, result)
}

func (a *Analyzer) run(ctx context.Context, sess *models.Session, msgs []models.Message) (*models.AnalysisResult, error) {
	transcript := buildTranscript(msgs)
	var lastErr error
	for attempt := 1; attempt <= maxAnalysisAttempts; attempt++ {
		if err := a.st.Sessions.IncrementAnalysisAttempts(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("count analysis attempt: %w", err)
		}
		completion, _, err := a.assistant.Call(ctx, CallMeta{CompanyID: sess.CompanyID, SessionID: &sess.ID, Purpose: PurposeSessionAnalysis}, llm.ChatRequest{
			Messages: []llm.Message{
				llm.TextMessage("system", analysisPrompt),
				llm.TextMessage("user", transcript),
			},
			Temperature:    0,
			ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("sessionID", sess.ID).Int("attempt", attempt).Msg("Analysis call failed")
			continue
		}
		result, err := models.ParseAnalysis([]byte(llm.ExtractJSON(completion.Text)))
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("sessionID", sess.ID).Int("attempt", attempt).Msg("Analysis reply rejected")
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("analyze session %s after %d attempts: %w", sess.ID, maxAnalysisAttempts, lastErr)
}

func (a *Analyzer) notifyLead(ctx context.Context, sess *models.Session, result *models.AnalysisResult) error {
	first, err := a.st.Sessions.MarkLeadNotified(ctx, sess.ID, store.Now())
	if err != nil {
		return fmt.Errorf("mark lead notified: %w", err)
	}
	if !first {
		return nil
	}
	user, err := a.st.Users.Get(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("load lead user: %w", err)
	}
	company, err := a.st.Companies.Get(ctx, sess.CompanyID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load lead company: %w", err)
	}

	res := a.notifier.Lead(ctx, company, user, sess, result)
	a.events.Publish(company.ID, events.LeadDetected, map[string]interface{}{
		"session_id":     sess.ID,
		"user_id":        user.ID,
		"chat_number":    user.ChatNumber,
		"interest_level": string(result.PurchaseInterestLevel),
		"summary":        result.Summary,
		"emails_sent":    res.Sent,
	})
	return nil
}

func buildTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		role := "user"
		if m.Direction == models.DirectionFromBot {
			role = "assistant"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), role, m.Text)
	}
	return b.String()
}
