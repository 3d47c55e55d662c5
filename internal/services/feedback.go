package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/events"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const (
	FeedbackPositiveID = "feedback_positive"
	FeedbackNegativeID = "feedback_negative"
	FeedbackCommentID  = "feedback_comment"
)

// IsFeedbackReply reports whether a button reply id belongs to the feedback prompt.
func IsFeedbackReply(replyID string) bool {
	switch replyID {
	case FeedbackPositiveID, FeedbackNegativeID, FeedbackCommentID:
		return true
	}
	return false
}

// FeedbackCollector asks for a rating after a session closes and records the
// answer.
type FeedbackCollector struct {
	st         *store.Stores
	outbox     *Outbox
	events     Publisher
	commentTTL time.Duration
}

func NewFeedbackCollector(st *store.Stores, outbox *Outbox, pub Publisher, commentTTL time.Duration) *FeedbackCollector {
	if commentTTL <= 0 {
		commentTTL = 24 * time.Hour
	}
	return &FeedbackCollector{st: st, outbox: outbox, events: publisherOrNop(pub), commentTTL: commentTTL}
}

// Request sends the rating prompt for a closed session, at most once.
func (f *FeedbackCollector) Request(ctx context.Context, sess *models.Session) error {
	msgs, err := f.st.Messages.LastN(ctx, sess.ID, 1)
	if err != nil {
		return fmt.Errorf("load session messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	first, err := f.st.Sessions.MarkFeedbackRequested(ctx, sess.ID, store.Now())
	if err != nil {
		return fmt.Errorf("mark feedback requested: %w", err)
	}
	if !first {
		return nil
	}

	user, company, err := f.participants(ctx, sess)
	if err != nil {
		return err
	}
	lang := userLanguage(user.LanguageCode)
	buttons := []whatsapp.Button{
		{ID: FeedbackPositiveID, Title: localize(lang, msgFeedbackPositive)},
		{ID: FeedbackNegativeID, Title: localize(lang, msgFeedbackNegative)},
		{ID: FeedbackCommentID, Title: localize(lang, msgFeedbackComment)},
	}
	if err := f.outbox.Buttons(ctx, company, user, "", localize(lang, msgFeedbackPrompt), buttons); err != nil {
		return fmt.Errorf("send feedback prompt: %w", err)
	}
	log.Info().Str("sessionID", sess.ID).Str("userID", user.ID).Msg("Feedback requested")
	return nil
}

// HandleReply records a rating button press against the latest closed
// session of the pair that asked for one.
func (f *FeedbackCollector) HandleReply(ctx context.Context, company *models.Company, user *models.User, replyID string) error {
	sess, err := f.st.Sessions.LatestClosedForPair(ctx, user.ID, company.ID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && !sess.FeedbackRequested) {
		log.Warn().Str("userID", user.ID).Str("companyID", company.ID).Msg("Feedback reply without a pending request")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find feedback session: %w", err)
	}

	rating := models.RatingPositive
	commentRequested := false
	switch replyID {
	case FeedbackNegativeID:
		rating = models.RatingNegative
	case FeedbackCommentID:
		rating = models.RatingCommentRequested
		commentRequested = true
	}

	now := store.Now()
	if err := f.st.Sessions.RecordFeedbackResponse(ctx, sess.ID, rating, commentRequested, now); err != nil {
		return fmt.Errorf("record feedback response: %w", err)
	}
	if err := f.st.Feedback.Upsert(ctx, &models.Feedback{
		SessionID: sess.ID,
		UserID:    user.ID,
		CompanyID: company.ID,
		Rating:    rating,
	}); err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}

	lang := userLanguage(user.LanguageCode)
	reply := msgFeedbackThanks
	if commentRequested {
		reply = msgFeedbackAskComment
	} else {
		f.published(company.ID, sess.ID, rating, nil)
	}
	if err := f.outbox.Text(ctx, company, user, nil, localize(lang, reply)); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to acknowledge feedback")
	}
	log.Info().Str("sessionID", sess.ID).Str("rating", string(rating)).Msg("Feedback received")
	return nil
}

// CaptureComment stores text as the feedback comment when the pair has an
// open comment window. It reports whether the text was consumed.
func (f *FeedbackCollector) CaptureComment(ctx context.Context, company *models.Company, user *models.User, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}
	since := store.Now().Add(-f.commentTTL)
	sess, err := f.st.Sessions.FindAwaitingComment(ctx, user.ID, company.ID, since)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find comment window: %w", err)
	}

	captured, err := f.st.Sessions.SaveFeedbackComment(ctx, sess.ID, text)
	if err != nil {
		return false, fmt.Errorf("save feedback comment: %w", err)
	}
	if !captured {
		return false, nil
	}
	if err := f.st.Feedback.Upsert(ctx, &models.Feedback{
		SessionID: sess.ID,
		UserID:    user.ID,
		CompanyID: company.ID,
		Rating:    models.RatingComment,
		Comment:   &text,
	}); err != nil {
		return true, fmt.Errorf("store feedback comment: %w", err)
	}
	f.published(company.ID, sess.ID, models.RatingComment, &text)

	if err := f.outbox.Text(ctx, company, user, nil, localize(userLanguage(user.LanguageCode), msgFeedbackCommentDone)); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to acknowledge feedback comment")
	}
	log.Info().Str("sessionID", sess.ID).Msg("Feedback comment captured")
	return true, nil
}

func (f *FeedbackCollector) published(companyID, sessionID string, rating models.FeedbackRating, comment *string) {
	data := map[string]interface{}{"session_id": sessionID, "rating": string(rating)}
	if comment != nil {
		data["comment"] = *comment
	}
	f.events.Publish(companyID, events.FeedbackReceived, data)
}

func (f *FeedbackCollector) participants(ctx context.Context, sess *models.Session) (*models.User, *models.Company, error) {
	user, err := f.st.Users.Get(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user %s: %w", sess.UserID, err)
	}
	company, err := f.st.Companies.Get(ctx, sess.CompanyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load company %s: %w", sess.CompanyID, err)
	}
	return user, company, nil
}
