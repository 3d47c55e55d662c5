package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

var farewellPattern = regexp.MustCompile(`(?i)(^|[^\p{L}])(adios|adiós|bye|chao|goodbye|hasta luego)([^\p{L}]|$)`)

// IsFarewell reports whether a turn ends the conversation: the assistant
// closed it or the user said goodbye.
func IsFarewell(userText, reply string) bool {
	return strings.Contains(reply, FarewellMarker) || farewellPattern.MatchString(userText)
}

// Pipeline processes one inbound event end to end.
type Pipeline struct {
	st        *store.Stores
	tenants   *TenantRegistry
	locks     *PairLocks
	policy    *PolicyGate
	language  *LanguageNegotiator
	sessions  *SessionManager
	assistant *Assistant
	media     *MediaPipeline
	tickets   *TicketEngine
	feedback  *FeedbackCollector
	outbox    *Outbox
	window    int
}

type turn struct {
	event    whatsapp.Event
	company  *models.Company
	user     *models.User
	kind     models.MessageKind
	text     string
	replayed bool
}

// Handle runs the event through deduplication, tenant and user resolution,
// the policy and language gates and the kind-specific flow. Events of the
// same (user, company) pair are processed one at a time.
func (p *Pipeline) Handle(ctx context.Context, ev whatsapp.Event) (err error) {
	start := time.Now()
	outcome := "processed"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		metrics.RecordWebhookEvent(string(ev.Kind), outcome, time.Since(start))
	}()

	if ev.MessageID != "" {
		first, err := p.st.Events.MarkProcessed(ctx, ev.MessageID, store.Now())
		if err != nil {
			return fmt.Errorf("record processed event: %w", err)
		}
		if !first {
			outcome = "duplicate"
			log.Debug().Str("messageID", ev.MessageID).Msg("Duplicate inbound message ignored")
			return nil
		}
	}

	company, err := p.tenants.Resolve(ctx, ev.PhoneNumberID)
	if err != nil {
		return err
	}
	if company == nil {
		outcome = "unknown_tenant"
		return nil
	}

	var profileName *string
	if name := strings.TrimSpace(ev.ProfileName); name != "" {
		profileName = &name
	}
	user, err := p.st.Users.Upsert(ctx, ev.From, profileName, store.Now())
	if err != nil {
		return err
	}
	if err := p.st.Users.RecordInteraction(ctx, user.ID, company.ID, store.Now()); err != nil {
		return err
	}

	unlock := p.locks.Lock(user.ID, company.ID)
	defer unlock()

	// state may have moved while waiting for the pair
	if user, err = p.st.Users.Get(ctx, user.ID); err != nil {
		return err
	}

	log.Info().Str("messageID", ev.MessageID).Str("companyID", company.ID).Str("userID", user.ID).
		Str("kind", string(ev.Kind)).Msg("Processing inbound message")

	t := &turn{
		event:   ev,
		company: company,
		user:    user,
		kind:    ev.Kind,
		text:    strings.TrimSpace(ev.Text),
	}
	return p.dispatch(ctx, t)
}

func (p *Pipeline) dispatch(ctx context.Context, t *turn) error {
	replyID := t.event.ReplyID
	if IsFeedbackReply(replyID) {
		return p.feedback.HandleReply(ctx, t.company, t.user, replyID)
	}

	policyText := t.text
	if t.kind == models.KindAudio || t.kind == models.KindLocation {
		policyText = ""
	}
	decision, err := p.policy.Evaluate(ctx, t.company, t.user, policyText, replyID)
	if err != nil {
		return err
	}
	if decision.Handled {
		return nil
	}
	if decision.Replay != nil {
		t.kind, t.text, t.replayed = models.KindText, *decision.Replay, true
		t.event.ReplyID = ""
	} else if replyID == PolicyAcceptID || replyID == PolicyRejectID {
		// stale policy button, nothing to accept
		return nil
	}

	switch t.kind {
	case models.KindAudio:
		return p.handleAudio(ctx, t)
	case models.KindImage:
		return p.handleImage(ctx, t)
	case models.KindLocation:
		return p.handleLocation(ctx, t)
	default:
		return p.handleText(ctx, t)
	}
}

func (p *Pipeline) handleText(ctx context.Context, t *turn) error {
	if t.text == "" {
		return nil
	}
	if t.kind == models.KindText && !t.replayed {
		captured, err := p.feedback.CaptureComment(ctx, t.company, t.user, t.text)
		if err != nil {
			log.Warn().Err(err).Str("userID", t.user.ID).Msg("Feedback comment capture failed")
		}
		if captured {
			return nil
		}
	}

	lang, handled, err := p.language.Negotiate(ctx, t.company, t.user, t.text, t.event.ReplyID)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	sess, created, err := p.sessions.GetOrOpen(ctx, t.user.ID, t.company.ID)
	if err != nil {
		return err
	}
	history, err := p.st.Messages.LastN(ctx, sess.ID, p.window)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if _, err := p.appendInbound(ctx, t, sess, t.kind, t.text); err != nil {
		return err
	}
	return p.converse(ctx, t, sess, created || len(history) == 0, lang, history, t.text)
}

func (p *Pipeline) handleAudio(ctx context.Context, t *turn) error {
	sess, created, err := p.sessions.GetOrOpen(ctx, t.user.ID, t.company.ID)
	if err != nil {
		return err
	}
	history, err := p.st.Messages.LastN(ctx, sess.ID, p.window)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	msg, err := p.appendInbound(ctx, t, sess, models.KindAudio, "[audio]")
	if err != nil {
		return err
	}

	text, err := p.media.Transcribe(ctx, t.company, msg, t.event.MediaID)
	if err != nil {
		lang := userLanguage(t.user.LanguageCode)
		if serr := p.outbox.Text(ctx, t.company, t.user, &sess.ID, localize(lang, msgAudioFailed)); serr != nil {
			log.Warn().Err(serr).Str("userID", t.user.ID).Msg("Failed to report audio failure")
		}
		return nil
	}

	lang, handled, err := p.language.Negotiate(ctx, t.company, t.user, text, "")
	if err != nil {
		return err
	}
	if handled {
		return nil
	}
	return p.converse(ctx, t, sess, created || len(history) == 0, lang, history, text)
}

func (p *Pipeline) handleImage(ctx context.Context, t *turn) error {
	sess, _, err := p.sessions.GetOrOpen(ctx, t.user.ID, t.company.ID)
	if err != nil {
		return err
	}
	caption := strings.TrimSpace(t.event.Caption)
	text := caption
	if text == "" {
		text = "[image]"
	}
	if _, err := p.appendInbound(ctx, t, sess, models.KindImage, text); err != nil {
		return err
	}

	lang := userLanguage(t.user.LanguageCode)
	analysis, err := p.media.AnalyzeImage(ctx, t.company, sess, t.event.MediaID, caption, lang)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", sess.ID).Str("mediaID", t.event.MediaID).Msg("Image flow failed")
		if serr := p.outbox.Text(ctx, t.company, t.user, &sess.ID, localize(lang, msgImageFailed)); serr != nil {
			log.Warn().Err(serr).Msg("Failed to report image failure")
		}
		return nil
	}

	outcome, err := p.tickets.HandleImage(ctx, t.company, t.user, sess, analysis)
	if err != nil {
		return err
	}
	var reply string
	switch {
	case outcome.Created:
		reply = localize(lang, msgTicketCreated, shortID(outcome.Ticket.ID), outcome.Ticket.Title)
	case outcome.Appended:
		reply = localize(lang, msgTicketImageAdded, shortID(outcome.Ticket.ID))
	}
	if reply != "" {
		if err := p.outbox.Text(ctx, t.company, t.user, &sess.ID, reply); err != nil {
			log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Failed to confirm ticket")
		}
	}
	return p.sessions.Touch(ctx, sess.ID)
}

func (p *Pipeline) handleLocation(ctx context.Context, t *turn) error {
	sess, _, err := p.sessions.GetOrOpen(ctx, t.user.ID, t.company.ID)
	if err != nil {
		return err
	}
	if _, err := p.appendInbound(ctx, t, sess, models.KindLocation, t.text); err != nil {
		return err
	}
	lang := userLanguage(t.user.LanguageCode)
	if err := p.outbox.Text(ctx, t.company, t.user, &sess.ID, localize(lang, msgLocationReceived)); err != nil {
		log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Failed to acknowledge location")
	}
	return p.sessions.Touch(ctx, sess.ID)
}

// converse asks the assistant for a reply, sends it and closes the session
// on farewell.
func (p *Pipeline) converse(ctx context.Context, t *turn, sess *models.Session, first bool, lang string, history []models.Message, text string) error {
	knowledge, err := p.tenants.GetKnowledge(ctx, t.company)
	if err != nil {
		log.Warn().Err(err).Str("companyID", t.company.ID).Msg("Knowledge unavailable; replying without it")
		knowledge = &models.Knowledge{CompanyName: t.company.Name}
	}
	categories, err := p.tenants.Categories(ctx, t.company.ID)
	if err != nil {
		log.Warn().Err(err).Str("companyID", t.company.ID).Msg("Ticket categories unavailable")
	}

	reply, _, err := p.assistant.GenerateReply(ctx, ReplyRequest{
		UserText:       text,
		History:        history,
		Knowledge:      knowledge,
		Categories:     categories,
		IsFirstMessage: first,
		Language:       lang,
		Company:        t.company,
		Session:        sess,
	})
	if err != nil {
		if serr := p.outbox.Text(ctx, t.company, t.user, nil, localize(lang, msgServiceError)); serr != nil {
			log.Warn().Err(serr).Str("userID", t.user.ID).Msg("Failed to report service error")
		}
		return nil
	}

	if err := p.outbox.Text(ctx, t.company, t.user, &sess.ID, reply); err != nil {
		log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Reply not delivered")
	}
	if err := p.sessions.Touch(ctx, sess.ID); err != nil {
		log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Failed to touch session")
	}

	if IsFarewell(text, reply) {
		if _, err := p.st.Sessions.MarkFarewellSent(ctx, sess.ID); err != nil {
			log.Warn().Err(err).Str("sessionID", sess.ID).Msg("Failed to flag farewell")
		}
		if _, err := p.sessions.Close(ctx, sess.ID, models.CloseFarewell); err != nil {
			return fmt.Errorf("close session on farewell: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) appendInbound(ctx context.Context, t *turn, sess *models.Session, kind models.MessageKind, text string) (*models.Message, error) {
	msg := &models.Message{
		CompanyID: t.company.ID,
		UserID:    t.user.ID,
		SessionID: &sess.ID,
		Text:      text,
		Direction: models.DirectionFromUser,
		Kind:      kind,
	}
	if t.event.MessageID != "" && !t.replayed {
		id := t.event.MessageID
		msg.TransportMessageID = &id
	}
	if err := p.st.Messages.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
