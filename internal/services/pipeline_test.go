package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/models"
	"leadflow/internal/store"
	"leadflow/internal/testutil"
)

func TestFirstContactRepliesInSpanish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, h.text("+34600111222", "Hola"))

	user := h.user(t, "+34600111222")
	if user.LanguageCode != "es" {
		t.Fatalf("language = %q, want es", user.LanguageCode)
	}
	if _, err := h.st.Users.GetInteraction(ctx, user.ID, h.company.ID); err != nil {
		t.Fatalf("interaction not recorded: %v", err)
	}
	sess, err := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	if got := h.messenger.textCount(); got != 1 {
		t.Fatalf("sent %d texts, want 1", got)
	}
	if reply := h.messenger.lastText(); reply.To != "+34600111222" || !strings.Contains(reply.Body, "Acme") {
		t.Fatalf("unexpected reply %+v", reply)
	}

	chats := h.llm.chatRequests()
	if len(chats) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(chats))
	}
	system, _ := chats[0].Messages[0].Content.(string)
	for _, want := range []string{"You are the virtual assistant of Acme.", "No categories available."} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}

	records, err := h.st.Usage.CountForCompany(ctx, h.company.ID)
	if err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if records != 1 {
		t.Fatalf("usage records = %d, want 1", records)
	}

	msgs, err := h.st.Messages.ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Direction != models.DirectionFromUser || msgs[1].Direction != models.DirectionFromBot {
		t.Fatalf("transcript = %+v", msgs)
	}
}

func TestDuplicateMessageIsIgnored(t *testing.T) {
	h := newHarness(t)
	ev := h.text("+34600111222", "Hola")
	h.handle(t, ev)
	h.handle(t, ev)

	if got := len(h.llm.chatRequests()); got != 1 {
		t.Fatalf("chat requests = %d, want 1", got)
	}
	if got := h.messenger.textCount(); got != 1 {
		t.Fatalf("sent %d texts, want 1", got)
	}
}

func TestUnknownTenantIsDropped(t *testing.T) {
	h := newHarness(t)
	ev := h.text("+34600111222", "Hola")
	ev.PhoneNumberID = "unknown-phone"
	h.handle(t, ev)

	if _, err := h.st.Users.GetByChatNumber(context.Background(), "+34600111222"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("user created for unknown tenant: %v", err)
	}
	if h.messenger.textCount() != 0 {
		t.Fatal("replied to an unknown tenant")
	}
}

func TestPolicyGateBuffersAndReplays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := testutil.Policy(t, h.st, "1.3", false)
	testutil.Policy(t, h.st, "2.0", true)
	user := testutil.User(t, h.st, "+34600111222")
	if _, err := h.st.Users.AcceptPolicy(ctx, user.ID, old, store.Now()); err != nil {
		t.Fatalf("accept old policy: %v", err)
	}

	h.handle(t, h.text("+34600111222", "Hola"))

	user = h.user(t, "+34600111222")
	if !user.WaitingPolicyAcceptance || user.PendingMessageText == nil || *user.PendingMessageText != "Hola" {
		t.Fatalf("gate state = waiting:%v pending:%v", user.WaitingPolicyAcceptance, user.PendingMessageText)
	}
	if got := h.messenger.interactiveCount(); got != 1 {
		t.Fatalf("policy prompts = %d, want 1", got)
	}
	prompt := h.messenger.lastInteractive()
	if len(prompt.Buttons) != 2 || prompt.Buttons[0].ID != PolicyAcceptID || prompt.Buttons[1].ID != PolicyRejectID {
		t.Fatalf("prompt buttons = %+v", prompt.Buttons)
	}
	if got := len(h.llm.chatRequests()); got != 0 {
		t.Fatalf("assistant called %d times behind the gate", got)
	}

	h.handle(t, h.text("+34600111222", "sí"))

	acceptances, err := h.st.Policies.ListAcceptances(ctx, user.ID)
	if err != nil {
		t.Fatalf("list acceptances: %v", err)
	}
	if len(acceptances) != 2 {
		t.Fatalf("acceptances = %d, want 2", len(acceptances))
	}
	user = h.user(t, "+34600111222")
	if user.WaitingPolicyAcceptance || user.PolicyVersion != "2.0" {
		t.Fatalf("user after acceptance = waiting:%v version:%q", user.WaitingPolicyAcceptance, user.PolicyVersion)
	}

	chats := h.llm.chatRequests()
	if len(chats) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(chats))
	}
	last := chats[0].Messages[len(chats[0].Messages)-1]
	if last.Content != "Hola" {
		t.Fatalf("replayed text = %v, want Hola", last.Content)
	}
	if h.messenger.textCount() != 1 {
		t.Fatalf("replies = %d, want 1", h.messenger.textCount())
	}
}

func TestPolicyMinorBumpDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	old := testutil.Policy(t, h.st, "2.0", false)
	testutil.Policy(t, h.st, "2.1", true)
	user := testutil.User(t, h.st, "+34600111222")
	if _, err := h.st.Users.AcceptPolicy(context.Background(), user.ID, old, store.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}

	h.handle(t, h.text("+34600111222", "Hola"))

	if h.messenger.interactiveCount() != 0 {
		t.Fatal("minor bump prompted for acceptance")
	}
	if len(h.llm.chatRequests()) != 1 {
		t.Fatal("assistant not called")
	}
}

func TestFarewellClosesSessionAndCollectsFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.analysisJSON = coldAnalysis

	h.handle(t, h.text("+34600111222", "Hola"))
	user := h.user(t, "+34600111222")
	sess, err := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	h.llm.chatReply = "Gracias por escribirnos. Chat finalizado."
	h.handle(t, h.text("+34600111222", "adios"))
	h.engine.Analyzer.Wait()

	closed, err := h.st.Sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if closed.IsOpen() || closed.CloseCause == nil || *closed.CloseCause != string(models.CloseFarewell) {
		t.Fatalf("session not closed by farewell: %+v", closed)
	}
	if !closed.FeedbackRequested {
		t.Fatal("feedback not requested")
	}
	if closed.AnalysisResults == nil || closed.AnalysisResults.PurchaseInterestLevel != models.InterestLow {
		t.Fatalf("analysis = %+v", closed.AnalysisResults)
	}

	prompt := h.messenger.lastInteractive()
	if len(prompt.Buttons) != 3 || prompt.Buttons[0].ID != FeedbackPositiveID {
		t.Fatalf("feedback prompt = %+v", prompt)
	}

	h.handle(t, h.button("+34600111222", FeedbackPositiveID, "👍"))

	fb, err := h.st.Feedback.GetBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if fb.Rating != models.RatingPositive {
		t.Fatalf("rating = %q, want positive", fb.Rating)
	}
	if _, err := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("feedback reply opened a session: %v", err)
	}
}

func TestFeedbackCommentIsCaptured(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.analysisJSON = coldAnalysis

	h.handle(t, h.text("+34600111222", "Hola"))
	h.llm.chatReply = "Chat finalizado."
	h.handle(t, h.text("+34600111222", "gracias, adiós"))
	h.engine.Analyzer.Wait()

	user := h.user(t, "+34600111222")
	sess, err := h.st.Sessions.LatestClosedForPair(ctx, user.ID, h.company.ID)
	if err != nil {
		t.Fatalf("latest closed: %v", err)
	}

	h.handle(t, h.button("+34600111222", FeedbackCommentID, "Comentar"))
	h.handle(t, h.text("+34600111222", "Muy rápido, gracias"))

	fb, err := h.st.Feedback.GetBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if fb.Rating != models.RatingComment || fb.Comment == nil || *fb.Comment != "Muy rápido, gracias" {
		t.Fatalf("feedback = %+v", fb)
	}
	if got := len(h.llm.chatRequests()); got != 2 {
		t.Fatalf("comment went to the assistant: %d chat requests", got)
	}
}

func TestReapInactiveClosesOnlyStaleSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.analysisJSON = coldAnalysis

	stale := testutil.User(t, h.st, "+34600000001")
	fresh := testutil.User(t, h.st, "+34600000002")
	open := func(u *models.User, age time.Duration) *models.Session {
		s, _, err := h.st.Sessions.GetOrOpen(ctx, u.ID, h.company.ID, store.Now())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for i, text := range []string{"Hola", "Buenas, ¿en qué puedo ayudarte?", "Quiero precios"} {
			dir := models.DirectionFromUser
			if i%2 == 1 {
				dir = models.DirectionFromBot
			}
			m := &models.Message{CompanyID: h.company.ID, UserID: u.ID, SessionID: &s.ID, Text: text, Direction: dir, Kind: models.KindText}
			if err := h.st.Messages.Append(ctx, m); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		if err := h.st.Sessions.SetLastActivity(ctx, s.ID, store.Now().Add(-age)); err != nil {
			t.Fatalf("backdate: %v", err)
		}
		return s
	}
	s1 := open(stale, 6*time.Minute)
	s2 := open(fresh, time.Minute)

	n, err := h.engine.Sessions.ReapInactive(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ReapInactive: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d sessions, want 1", n)
	}
	h.engine.Analyzer.Wait()

	got1, _ := h.st.Sessions.Get(ctx, s1.ID)
	if got1.IsOpen() || *got1.CloseCause != string(models.CloseInactivity) {
		t.Fatalf("stale session = %+v", got1)
	}
	if got1.AnalysisAttempts < 1 {
		t.Fatal("analysis not attempted for reaped session")
	}
	got2, _ := h.st.Sessions.Get(ctx, s2.ID)
	if !got2.IsOpen() {
		t.Fatal("fresh session closed")
	}
	if !strings.Contains(h.messenger.lastText().Body, "inactiv") {
		t.Fatalf("inactivity notice = %q", h.messenger.lastText().Body)
	}

	n, err = h.engine.Sessions.ReapInactive(ctx, 5*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("second reap = %d, %v", n, err)
	}
}

func closedSession(t *testing.T, h *harness, chat string, texts ...string) *models.Session {
	t.Helper()
	ctx := context.Background()
	u := testutil.User(t, h.st, chat)
	s, _, err := h.st.Sessions.GetOrOpen(ctx, u.ID, h.company.ID, store.Now())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, text := range texts {
		m := &models.Message{CompanyID: h.company.ID, UserID: u.ID, SessionID: &s.ID, Text: text, Direction: models.DirectionFromUser, Kind: models.KindText}
		if err := h.st.Messages.Append(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := h.st.Sessions.Close(ctx, s.ID, models.CloseOperator, store.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	return s
}

func TestLeadNotificationSentOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.analysisJSON = leadAnalysis
	s := closedSession(t, h, "+34600111222", "Hola", "Quiero el plan premium", "Mi correo es ana@example.com")

	for i := 0; i < 2; i++ {
		if err := h.engine.Analyzer.Analyze(ctx, s.ID); err != nil {
			t.Fatalf("Analyze #%d: %v", i+1, err)
		}
	}

	sent := h.mailer.messages()
	if len(sent) != 1 {
		t.Fatalf("emails = %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Subject, "[LEAD ALTO]") {
		t.Fatalf("subject = %q", sent[0].Subject)
	}
	if len(sent[0].To) != 1 || sent[0].To[0] != h.company.ContactEmail {
		t.Fatalf("recipients = %v", sent[0].To)
	}
	got, _ := h.st.Sessions.Get(ctx, s.ID)
	if got.LeadNotifiedAt == nil || got.AnalysisAttempts != 1 {
		t.Fatalf("session after analysis = %+v", got)
	}
}

func TestAnalysisSkipsShortSessions(t *testing.T) {
	h := newHarness(t)
	h.llm.analysisJSON = leadAnalysis
	s := closedSession(t, h, "+34600111222", "Hola")

	if err := h.engine.Analyzer.Analyze(context.Background(), s.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, _ := h.st.Sessions.Get(context.Background(), s.ID)
	if got.AnalysisResults != nil || got.AnalysisAttempts != 0 {
		t.Fatalf("short session analyzed: %+v", got)
	}
}

func TestAnalysisGivesUpAfterInvalidReplies(t *testing.T) {
	h := newHarness(t)
	h.llm.analysisJSON = `{"primary_intent":"buy_now"}`
	s := closedSession(t, h, "+34600111222", "a", "b", "c")

	if err := h.engine.Analyzer.Analyze(context.Background(), s.ID); err == nil {
		t.Fatal("expected error for invalid analysis")
	}
	got, _ := h.st.Sessions.Get(context.Background(), s.ID)
	if got.AnalysisResults != nil || got.AnalysisAttempts != maxAnalysisAttempts {
		t.Fatalf("session = attempts:%d results:%v", got.AnalysisAttempts, got.AnalysisResults)
	}
	if len(h.mailer.messages()) != 0 {
		t.Fatal("email sent for failed analysis")
	}
}

func TestImagesOpenAndExtendTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cat := testutil.Category(t, h.st, h.company.ID, "Plumbing")
	h.llm.visionReply = "Water leak under the kitchen sink\nThe pipe joint is dripping."
	h.llm.categoryJSON = `{"category_id":"` + cat.ID + `","certainty":0.9,"explanation":"pipes"}`
	h.messenger.media["m1"] = &whatsapp.Media{ID: "m1", ContentType: "image/jpeg", Data: []byte("jpeg-1")}
	h.messenger.media["m2"] = &whatsapp.Media{ID: "m2", ContentType: "image/jpeg", Data: []byte("jpeg-2")}
	user := testutil.User(t, h.st, "+34600111222")
	if err := h.st.Users.SetLanguage(ctx, user.ID, "en", store.Now()); err != nil {
		t.Fatalf("set language: %v", err)
	}

	h.handle(t, h.image("+34600111222", "m1", "kitchen"))

	sess, err := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	tickets, err := h.st.Tickets.ListOpenForSession(ctx, sess.ID)
	if err != nil || len(tickets) != 1 {
		t.Fatalf("tickets = %v, %v", tickets, err)
	}
	ticket := tickets[0]
	if ticket.Title != "Water leak under the kitchen sink" || ticket.Priority != models.PriorityHigh {
		t.Fatalf("ticket = %+v", ticket)
	}
	if ticket.CategoryID == nil || *ticket.CategoryID != cat.ID || ticket.Status != models.TicketNew {
		t.Fatalf("ticket category/status = %v/%s", ticket.CategoryID, ticket.Status)
	}
	if !strings.Contains(h.messenger.lastText().Body, shortID(ticket.ID)) {
		t.Fatalf("confirmation = %q", h.messenger.lastText().Body)
	}

	h.handle(t, h.image("+34600111222", "m2", ""))
	h.handle(t, h.image("+34600111222", "m2", ""))

	count, _ := h.st.Tickets.CountForSession(ctx, sess.ID)
	if count != 1 {
		t.Fatalf("tickets in session = %d, want 1", count)
	}
	images, err := h.st.Tickets.ListImages(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 2 || images[0].MediaID != "m1" || images[1].MediaID != "m2" {
		t.Fatalf("images = %+v", images)
	}
	for _, img := range images {
		if _, err := h.blobs.Get(ctx, img.BlobKey); err != nil {
			t.Fatalf("blob %q missing: %v", img.BlobKey, err)
		}
	}

	var subjects []string
	for _, m := range h.mailer.messages() {
		subjects = append(subjects, m.Subject)
	}
	if len(subjects) != 2 || !strings.HasPrefix(subjects[0], "[NUEVO TICKET]") {
		t.Fatalf("ticket emails = %v", subjects)
	}
}

func TestLowCertaintyLeavesTicketUncategorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cat := testutil.Category(t, h.st, h.company.ID, "Electrical")
	h.llm.visionReply = "A scratched wall"
	h.llm.categoryJSON = `{"category_id":"` + cat.ID + `","certainty":0.3,"explanation":"unsure"}`
	h.messenger.media["m1"] = &whatsapp.Media{ID: "m1", ContentType: "image/jpeg", Data: []byte("jpeg")}

	h.handle(t, h.image("+34600111222", "m1", ""))

	user := h.user(t, "+34600111222")
	sess, _ := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	tickets, _ := h.st.Tickets.ListOpenForSession(ctx, sess.ID)
	if len(tickets) != 1 || tickets[0].CategoryID != nil || tickets[0].Priority != models.PriorityMedium {
		t.Fatalf("tickets = %+v", tickets)
	}
}

func TestAudioFailureMarksMessageFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.transcribeErr = errors.New("whisper unavailable")
	h.messenger.media["a1"] = &whatsapp.Media{ID: "a1", ContentType: "audio/ogg", Data: []byte("ogg")}
	user := testutil.User(t, h.st, "+34600111222")
	if err := h.st.Users.SetLanguage(ctx, user.ID, "en", store.Now()); err != nil {
		t.Fatalf("set language: %v", err)
	}

	ev := h.text("+34600111222", "")
	ev.Kind = models.KindAudio
	ev.MediaID = "a1"
	ev.MimeType = "audio/ogg"
	h.handle(t, ev)

	if len(h.llm.chatRequests()) != 0 {
		t.Fatal("assistant called after failed transcription")
	}
	if got := h.messenger.lastText().Body; got != localize("en", msgAudioFailed) {
		t.Fatalf("reply = %q", got)
	}
	sess, err := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	msgs, _ := h.st.Messages.ListBySession(ctx, sess.ID)
	if len(msgs) == 0 || msgs[0].Kind != models.KindAudio {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestAudioTranscriptionFeedsAssistant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.transcription = "Hola, quiero información de precios"
	h.messenger.media["a1"] = &whatsapp.Media{ID: "a1", ContentType: "audio/ogg", Data: []byte("ogg")}

	ev := h.text("+34600111222", "")
	ev.Kind = models.KindAudio
	ev.MediaID = "a1"
	h.handle(t, ev)

	chats := h.llm.chatRequests()
	if len(chats) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(chats))
	}
	if last := chats[0].Messages[len(chats[0].Messages)-1]; last.Content != h.llm.transcription {
		t.Fatalf("assistant saw %v", last.Content)
	}
	user := h.user(t, "+34600111222")
	sess, _ := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	msgs, _ := h.st.Messages.ListBySession(ctx, sess.ID)
	if len(msgs) < 1 || msgs[0].Text != h.llm.transcription {
		t.Fatalf("stored audio message = %+v", msgs)
	}
}

func TestServiceErrorReplyIsNotStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.chatErr = llm.ErrEmptyCompletion

	h.handle(t, h.text("+34600111222", "Hola"))

	if got := h.messenger.lastText().Body; got != localize("es", msgServiceError) {
		t.Fatalf("reply = %q", got)
	}
	user := h.user(t, "+34600111222")
	sess, _ := h.st.Sessions.OpenForPair(ctx, user.ID, h.company.ID)
	msgs, _ := h.st.Messages.ListBySession(ctx, sess.ID)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want only the inbound one", len(msgs))
	}
}

func TestAmbiguousLanguageShowsMenu(t *testing.T) {
	h := newHarness(t)
	h.llm.chatReply = "unknown"

	h.handle(t, h.text("+34600111222", "ok 123"))

	if h.messenger.interactiveCount() != 1 {
		t.Fatalf("language menu not sent")
	}
	menu := h.messenger.lastInteractive()
	if len(menu.Buttons) != 3 || menu.Buttons[1].ID != "lang_en" {
		t.Fatalf("menu = %+v", menu.Buttons)
	}
	if !h.user(t, "+34600111222").WaitingLanguageSelection {
		t.Fatal("user not waiting for language selection")
	}

	h.llm.chatReply = "Hello! How can I help?"
	h.handle(t, h.button("+34600111222", "lang_en", "English"))

	if got := h.user(t, "+34600111222").LanguageCode; got != "en" {
		t.Fatalf("language = %q, want en", got)
	}
	if h.messenger.lastText().Body != "Hello! How can I help?" {
		t.Fatalf("reply = %q", h.messenger.lastText().Body)
	}
}
