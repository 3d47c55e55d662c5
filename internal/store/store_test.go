package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/store"
	"leadflow/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestUserUpsertKeepsFirstName(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()

	u, err := st.Users.Upsert(ctx, "+34600111222", nil, store.Now())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if u.Name != nil {
		t.Fatalf("name = %v, want nil", *u.Name)
	}
	u2, err := st.Users.Upsert(ctx, "+34600111222", strPtr("Ana"), store.Now())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if u2.ID != u.ID || u2.Name == nil || *u2.Name != "Ana" {
		t.Fatalf("expected same user with name Ana, got %+v", u2)
	}
	u3, err := st.Users.Upsert(ctx, "+34600111222", strPtr("Someone else"), store.Now())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if *u3.Name != "Ana" {
		t.Fatalf("name overwritten to %q", *u3.Name)
	}
}

func TestRecordInteractionSingleRow(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")

	first := store.Now()
	if err := st.Users.RecordInteraction(ctx, u.ID, c.ID, first); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	later := first.Add(time.Minute)
	if err := st.Users.RecordInteraction(ctx, u.ID, c.ID, later); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	var n int
	if err := st.DB.Get(&n, `SELECT COUNT(*) FROM user_company_interactions`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("interactions = %d, want 1", n)
	}
	i, err := st.Users.GetInteraction(ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !i.LastInteraction.Equal(later) || !i.FirstInteraction.Equal(first) {
		t.Fatalf("timestamps first=%s last=%s", i.FirstInteraction, i.LastInteraction)
	}
}

func TestGetOrOpenConcurrentCreatesOneSession(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, isNew, err := st.Sessions.GetOrOpen(ctx, u.ID, c.ID, store.Now())
			if err != nil {
				t.Errorf("GetOrOpen: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[sess.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()
	if created != 1 || len(ids) != 1 {
		t.Fatalf("created=%d distinct=%d, want 1/1", created, len(ids))
	}
	n, err := st.Sessions.CountOpenForPair(ctx, u.ID, c.ID)
	if err != nil || n != 1 {
		t.Fatalf("open sessions = %d (%v)", n, err)
	}
}

func TestCloseIsIdempotentAndNewSessionOpens(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")

	sess, _, err := st.Sessions.GetOrOpen(ctx, u.ID, c.ID, store.Now())
	if err != nil {
		t.Fatalf("GetOrOpen: %v", err)
	}
	closed, err := st.Sessions.Close(ctx, sess.ID, models.CloseFarewell, store.Now())
	if err != nil || !closed {
		t.Fatalf("first Close = %v, %v", closed, err)
	}
	closed, err = st.Sessions.Close(ctx, sess.ID, models.CloseOperator, store.Now())
	if err != nil || closed {
		t.Fatalf("second Close = %v, %v", closed, err)
	}
	got, _ := st.Sessions.Get(ctx, sess.ID)
	if got.EndedAt == nil || got.EndedAt.Before(got.StartedAt) {
		t.Fatalf("ended_at %v before started_at %v", got.EndedAt, got.StartedAt)
	}
	if got.CloseCause == nil || *got.CloseCause != string(models.CloseFarewell) {
		t.Fatalf("close cause = %v", got.CloseCause)
	}

	next, isNew, err := st.Sessions.GetOrOpen(ctx, u.ID, c.ID, store.Now())
	if err != nil || !isNew || next.ID == sess.ID {
		t.Fatalf("expected a fresh session, got %+v new=%v err=%v", next, isNew, err)
	}
}

func TestListInactiveSelectsOnlyStale(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	stale := testutil.User(t, st, "+1")
	fresh := testutil.User(t, st, "+2")

	now := store.Now()
	s1, _, _ := st.Sessions.GetOrOpen(ctx, stale.ID, c.ID, now.Add(-10*time.Minute))
	if err := st.Sessions.SetLastActivity(ctx, s1.ID, now.Add(-6*time.Minute)); err != nil {
		t.Fatalf("SetLastActivity: %v", err)
	}
	s2, _, _ := st.Sessions.GetOrOpen(ctx, fresh.ID, c.ID, now.Add(-2*time.Minute))

	list, err := st.Sessions.ListInactive(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ListInactive: %v", err)
	}
	if len(list) != 1 || list[0].ID != s1.ID {
		t.Fatalf("inactive = %+v, want only %s (not %s)", list, s1.ID, s2.ID)
	}
}

func TestMessagesLastNChronological(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")
	sess, _, _ := st.Sessions.GetOrOpen(ctx, u.ID, c.ID, store.Now())

	base := store.Now()
	for i, text := range []string{"one", "two", "three", "four"} {
		m := &models.Message{
			CompanyID: c.ID, UserID: u.ID, SessionID: &sess.ID, Text: text,
			Direction: models.DirectionFromUser, Kind: models.KindText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.Messages.Append(ctx, m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	last, err := st.Messages.LastN(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(last) != 2 || last[0].Text != "three" || last[1].Text != "four" {
		t.Fatalf("LastN = %+v", last)
	}
	pair, err := st.Messages.LastNForPair(ctx, u.ID, c.ID, 10)
	if err != nil || len(pair) != 4 || pair[0].Text != "one" {
		t.Fatalf("LastNForPair = %+v (%v)", pair, err)
	}
}

func TestAudioCompleteRewritesOnce(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")
	msg := &models.Message{CompanyID: c.ID, UserID: u.ID, Direction: models.DirectionFromUser, Kind: models.KindAudio, Text: "[audio]"}
	if err := st.Messages.Append(ctx, msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	audio := &models.AudioMessage{MessageID: msg.ID, BlobKey: "k"}
	if err := st.Audio.Create(ctx, audio); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Audio.Complete(ctx, audio.ID, msg.ID, "hola", 3, store.Now()); err == nil {
		t.Fatal("pending audio must not complete directly")
	}
	if err := st.Audio.Transition(ctx, audio.ID, models.AudioPending, models.AudioProcessing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := st.Audio.Complete(ctx, audio.ID, msg.ID, "hola", 3, store.Now()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := st.Audio.Complete(ctx, audio.ID, msg.ID, "otra cosa", 3, store.Now()); !errors.Is(err, models.ErrInvalidAudioStatus) {
		t.Fatalf("second Complete err = %v", err)
	}
	got, _ := st.Messages.Get(ctx, msg.ID)
	if got.Text != "hola" {
		t.Fatalf("message text = %q", got.Text)
	}
	if err := st.Audio.Fail(ctx, audio.ID, "late failure", store.Now()); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	a, _ := st.Audio.Get(ctx, audio.ID)
	if a.Status != models.AudioCompleted {
		t.Fatalf("terminal status changed to %s", a.Status)
	}
}

func TestTicketImageDeduplicatedByMediaID(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")
	tk := &models.Ticket{CompanyID: c.ID, UserID: u.ID, Title: "Leak", Status: models.TicketNew, Priority: models.PriorityMedium}
	if err := st.Tickets.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i, want := range []bool{true, false} {
		ok, err := st.Tickets.AddImage(ctx, &models.TicketImage{TicketID: tk.ID, MediaID: "media-1"})
		if err != nil {
			t.Fatalf("AddImage #%d: %v", i, err)
		}
		if ok != want {
			t.Fatalf("AddImage #%d inserted=%v, want %v", i, ok, want)
		}
	}
	imgs, _ := st.Tickets.ListImages(ctx, tk.ID)
	if len(imgs) != 1 {
		t.Fatalf("images = %d", len(imgs))
	}
}

func TestTicketApplyStatusChain(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")
	tk := &models.Ticket{CompanyID: c.ID, UserID: u.ID, Title: "Leak", Status: models.TicketNew, Priority: models.PriorityMedium}
	if err := st.Tickets.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	skip := models.TicketInProgress
	if _, err := st.Tickets.Apply(ctx, tk.ID, store.TicketChange{Status: &skip}, store.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("skip err = %v", err)
	}
	for _, next := range []models.TicketStatus{models.TicketReviewing, models.TicketInProgress, models.TicketWaiting, models.TicketResolved} {
		next := next
		if _, err := st.Tickets.Apply(ctx, tk.ID, store.TicketChange{Status: &next, Actor: "maria"}, store.Now()); err != nil {
			t.Fatalf("Apply %s: %v", next, err)
		}
	}
	got, _ := st.Tickets.Get(ctx, tk.ID)
	if got.ResolvedAt == nil {
		t.Fatal("resolved_at not stamped")
	}
	comments, _ := st.Tickets.ListComments(ctx, tk.ID)
	if len(comments) != 4 {
		t.Fatalf("comments = %d, want 4", len(comments))
	}
	for _, cm := range comments {
		if !cm.IsSystem {
			t.Fatalf("comment %+v should be system", cm)
		}
	}
}

func TestSingleActivePolicy(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	testutil.Policy(t, st, "1.0", true)
	p2 := testutil.Policy(t, st, "2.0", true)

	var n int
	if err := st.DB.Get(&n, `SELECT COUNT(*) FROM policy_versions WHERE active = TRUE`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("active policies = %d", n)
	}
	active, err := st.Policies.Active(ctx)
	if err != nil || active.ID != p2.ID {
		t.Fatalf("Active = %+v (%v)", active, err)
	}
}

func TestMarkProcessedOnce(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	first, err := st.Events.MarkProcessed(ctx, "wamid.1", store.Now())
	if err != nil || !first {
		t.Fatalf("first = %v, %v", first, err)
	}
	again, err := st.Events.MarkProcessed(ctx, "wamid.1", store.Now())
	if err != nil || again {
		t.Fatalf("again = %v, %v", again, err)
	}
	n, err := st.Events.PurgeBefore(ctx, store.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeBefore = %d, %v", n, err)
	}
}

func TestFeedbackUpsertOnePerSession(t *testing.T) {
	st := testutil.NewStores(t)
	ctx := context.Background()
	c := testutil.Company(t, st, "Acme", "phone-1")
	u := testutil.User(t, st, "+1555")
	sess, _, _ := st.Sessions.GetOrOpen(ctx, u.ID, c.ID, store.Now())

	f := &models.Feedback{SessionID: sess.ID, UserID: u.ID, CompanyID: c.ID, Rating: models.RatingCommentRequested}
	if err := st.Feedback.Upsert(ctx, f); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	f2 := &models.Feedback{SessionID: sess.ID, UserID: u.ID, CompanyID: c.ID, Rating: models.RatingComment, Comment: strPtr("great")}
	if err := st.Feedback.Upsert(ctx, f2); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := st.Feedback.GetBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if got.Rating != models.RatingComment || got.Comment == nil || *got.Comment != "great" {
		t.Fatalf("feedback = %+v", got)
	}
}
