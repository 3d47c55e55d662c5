package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"leadflow/internal/adapters/email"
	"leadflow/internal/adapters/llm"
	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/models"
	"leadflow/internal/store"
	"leadflow/internal/testutil"
)

type sentText struct {
	To   string
	Body string
}

type sentInteractive struct {
	To      string
	Header  string
	Body    string
	Buttons []whatsapp.Button
}

type fakeMessenger struct {
	mu          sync.Mutex
	texts       []sentText
	interactive []sentInteractive
	media       map[string]*whatsapp.Media
	sendErr     error
}

func (m *fakeMessenger) SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (*whatsapp.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.texts = append(m.texts, sentText{To: to, Body: body})
	return &whatsapp.Receipt{MessageID: "wamid.out", To: to}, nil
}

func (m *fakeMessenger) SendInteractive(ctx context.Context, creds whatsapp.Credentials, to, header, body string, buttons []whatsapp.Button) (*whatsapp.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.interactive = append(m.interactive, sentInteractive{To: to, Header: header, Body: body, Buttons: buttons})
	return &whatsapp.Receipt{MessageID: "wamid.out", To: to}, nil
}

func (m *fakeMessenger) FetchMedia(ctx context.Context, creds whatsapp.Credentials, mediaID string) (*whatsapp.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if media, ok := m.media[mediaID]; ok {
		return media, nil
	}
	return nil, errors.New("media not found")
}

func (m *fakeMessenger) textCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

func (m *fakeMessenger) lastText() sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return sentText{}
	}
	return m.texts[len(m.texts)-1]
}

func (m *fakeMessenger) interactiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interactive)
}

func (m *fakeMessenger) lastInteractive() sentInteractive {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.interactive) == 0 {
		return sentInteractive{}
	}
	return m.interactive[len(m.interactive)-1]
}

// fakeLLM routes requests by shape: JSON-mode classification, JSON-mode
// analysis, vision, and plain chat.
type fakeLLM struct {
	mu            sync.Mutex
	requests      []llm.ChatRequest
	chatReply     string
	chatErr       error
	analysisJSON  string
	visionReply   string
	categoryJSON  string
	transcription string
	transcribeErr error
	noUsage       bool
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	text := f.chatReply
	switch {
	case req.ResponseFormat != nil && strings.Contains(firstText(req), "Classify"):
		text = f.categoryJSON
	case req.ResponseFormat != nil:
		text = f.analysisJSON
	case isVision(req):
		text = f.visionReply
	default:
		if f.chatErr != nil {
			return nil, f.chatErr
		}
	}
	c := &llm.Completion{Text: text, Model: req.Model}
	if !f.noUsage {
		c.Usage = &llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}
	}
	return c, nil
}

func (f *fakeLLM) Transcribe(ctx context.Context, model, fileName string, audio []byte) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcription, nil
}

// chatRequests returns the plain chat requests, in order.
func (f *fakeLLM) chatRequests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.ChatRequest
	for _, r := range f.requests {
		if r.ResponseFormat == nil && !isVision(r) {
			out = append(out, r)
		}
	}
	return out
}

func firstText(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		if s, ok := m.Content.(string); ok {
			return s
		}
	}
	return ""
}

func isVision(req llm.ChatRequest) bool {
	for _, m := range req.Messages {
		if _, ok := m.Content.([]llm.ContentPart); ok {
			return true
		}
	}
	return false
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg email.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "email-id", nil
}

func (m *fakeMailer) messages() []email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.Message(nil), m.sent...)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlobs) Put(ctx context.Context, companyID, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	key := companyID + "/" + store.NewID()
	b.objects[key] = data
	return key, nil
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Ping(ctx context.Context) error { return nil }

type harness struct {
	st        *store.Stores
	engine    *Engine
	messenger *fakeMessenger
	llm       *fakeLLM
	mailer    *fakeMailer
	blobs     *memBlobs
	company   *models.Company
	seq       int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := testutil.NewStores(t)
	h := &harness{
		st:        st,
		messenger: &fakeMessenger{media: make(map[string]*whatsapp.Media)},
		llm:       &fakeLLM{chatReply: "¡Hola! Soy el asistente virtual de Acme. No hay categorías disponibles por ahora."},
		mailer:    &fakeMailer{},
		blobs:     &memBlobs{},
	}
	h.company = testutil.Company(t, st, "Acme", "phone-a")

	engine, err := New(Options{
		Stores:             st,
		Messenger:          h.messenger,
		LLM:                h.llm,
		Mailer:             h.mailer,
		Blobs:              h.blobs,
		Location:           time.UTC,
		ChatModel:          "gpt-4o-mini",
		VisionModel:        "gpt-4o-mini",
		TranscribeModel:    "whisper-1",
		ContextWindow:      30,
		PolicyMaxRefusals:  3,
		AnalysisWorkers:    1,
		LockTableSize:      100,
		FeedbackCommentTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	engine.Media.SetDurationProbe(nil)
	h.engine = engine
	t.Cleanup(engine.Analyzer.Wait)
	return h
}

func (h *harness) nextID() string {
	h.seq++
	return fmt.Sprintf("wamid.%04d", h.seq)
}

func (h *harness) text(from, body string) whatsapp.Event {
	return whatsapp.Event{
		PhoneNumberID: h.company.PhoneNumberID,
		From:          from,
		ProfileName:   "Ana",
		MessageID:     h.nextID(),
		Kind:          models.KindText,
		Text:          body,
		Timestamp:     time.Now(),
	}
}

func (h *harness) button(from, replyID, title string) whatsapp.Event {
	ev := h.text(from, title)
	ev.Kind = models.KindInteractive
	ev.ReplyID = replyID
	return ev
}

func (h *harness) image(from, mediaID, caption string) whatsapp.Event {
	ev := h.text(from, caption)
	ev.Kind = models.KindImage
	ev.MediaID = mediaID
	ev.Caption = caption
	ev.MimeType = "image/jpeg"
	return ev
}

func (h *harness) handle(t *testing.T, ev whatsapp.Event) {
	t.Helper()
	if err := h.engine.Pipeline.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s): %v", ev.Kind, err)
	}
}

func (h *harness) user(t *testing.T, chatNumber string) *models.User {
	t.Helper()
	u, err := h.st.Users.GetByChatNumber(context.Background(), chatNumber)
	if err != nil {
		t.Fatalf("load user %s: %v", chatNumber, err)
	}
	return u
}

const leadAnalysis = `{"primary_intent":"interes_producto","user_sentiment":"positivo","purchase_interest_level":"alto",
"specific_interests":["plan premium"],"contact_info":{"type":"email","value":"ana@example.com"},
"follow_up_needed":true,"follow_up_reason":"wants a quote","summary":"Ana wants the premium plan."}`

const coldAnalysis = `{"primary_intent":"consulta_informacion","user_sentiment":"neutral","purchase_interest_level":"bajo",
"specific_interests":[],"contact_info":null,"follow_up_needed":false,"follow_up_reason":"","summary":"Asked for opening hours."}`
