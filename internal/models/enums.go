package models

type MessageDirection string

const (
	DirectionFromUser MessageDirection = "from_user"
	DirectionFromBot  MessageDirection = "from_bot"
)

// MessageKind is the closed set of inbound payload shapes. The pipeline
// dispatches on it with a switch.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindAudio       MessageKind = "audio"
	KindImage       MessageKind = "image"
	KindInteractive MessageKind = "interactive"
	KindLocation    MessageKind = "location"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindImage, KindInteractive, KindLocation:
		return true
	}
	return false
}

type AudioStatus string

const (
	AudioPending    AudioStatus = "pending"
	AudioProcessing AudioStatus = "processing"
	AudioCompleted  AudioStatus = "completed"
	AudioFailed     AudioStatus = "failed"
)

func (s AudioStatus) rank() int {
	switch s {
	case AudioPending:
		return 0
	case AudioProcessing:
		return 1
	case AudioCompleted, AudioFailed:
		return 2
	}
	return -1
}

// Terminal reports whether no further transition is allowed.
func (s AudioStatus) Terminal() bool {
	return s == AudioCompleted || s == AudioFailed
}

// CanTransition enforces monotonic audio processing.
func (s AudioStatus) CanTransition(to AudioStatus) bool {
	if s.Terminal() || to.rank() < 0 {
		return false
	}
	return to.rank() > s.rank()
}

type TicketStatus string

const (
	TicketNew        TicketStatus = "new"
	TicketReviewing  TicketStatus = "reviewing"
	TicketInProgress TicketStatus = "in_progress"
	TicketWaiting    TicketStatus = "waiting_info"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketNew:        {TicketReviewing},
	TicketReviewing:  {TicketInProgress},
	TicketInProgress: {TicketWaiting},
	TicketWaiting:    {TicketResolved, TicketClosed},
	TicketResolved:   {},
	TicketClosed:     {},
}

func (s TicketStatus) Valid() bool {
	_, ok := ticketTransitions[s]
	return ok
}

// Open reports whether images can still be appended to the ticket.
func (s TicketStatus) Open() bool {
	return s != TicketResolved && s != TicketClosed
}

// CanTransition allows the forward chain plus closing from any state.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	if to == TicketClosed {
		return s != TicketClosed
	}
	for _, next := range ticketTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type FeedbackRating string

const (
	RatingPositive         FeedbackRating = "positive"
	RatingNegative         FeedbackRating = "negative"
	RatingNeutral          FeedbackRating = "neutral"
	RatingComment          FeedbackRating = "comment"
	RatingCommentRequested FeedbackRating = "comment_requested"
)

// CloseCause records why a session ended.
type CloseCause string

const (
	CloseFarewell   CloseCause = "farewell"
	CloseOperator   CloseCause = "operator"
	CloseInactivity CloseCause = "inactivity"
)
