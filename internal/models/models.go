package models

import (
	"time"
)

// Company is a tenant. Every row of conversation data carries its ID.
type Company struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	PhoneNumberID        string     `db:"phone_number_id" json:"phone_number_id"`
	AccessToken          string     `db:"wa_access_token" json:"-"`
	ContactEmail         string     `db:"contact_email" json:"contact_email"`
	Active               bool       `db:"active" json:"active"`
	SubscriptionStart    *time.Time `db:"subscription_start" json:"subscription_start,omitempty"`
	SubscriptionEnd      *time.Time `db:"subscription_end" json:"subscription_end,omitempty"`
	CredentialsExpiredAt *time.Time `db:"credentials_expired_at" json:"credentials_expired_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// CompanyAdmin receives tenant notifications.
type CompanyAdmin struct {
	ID        string `db:"id" json:"id"`
	CompanyID string `db:"company_id" json:"company_id"`
	Name      string `db:"name" json:"name"`
	Email     string `db:"email" json:"email"`
}

type KnowledgeSection struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"company_id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Knowledge is the material injected into the system prompt.
type Knowledge struct {
	CompanyName string
	Sections    []KnowledgeSection
}

type User struct {
	ID                       string     `db:"id" json:"id"`
	ChatNumber               string     `db:"chat_number" json:"chat_number"`
	Name                     *string    `db:"name" json:"name,omitempty"`
	Email                    *string    `db:"email" json:"email,omitempty"`
	PolicyAccepted           bool       `db:"policy_accepted" json:"policy_accepted"`
	PolicyVersion            string     `db:"policy_version" json:"policy_version"`
	PolicyAcceptedAt         *time.Time `db:"policy_accepted_at" json:"policy_accepted_at,omitempty"`
	WaitingPolicyAcceptance  bool       `db:"waiting_policy_acceptance" json:"waiting_policy_acceptance"`
	PendingMessageText       *string    `db:"pending_message_text" json:"-"`
	PolicyRefusals           int        `db:"policy_refusals" json:"policy_refusals"`
	LanguageCode             string     `db:"language_code" json:"language_code"`
	WaitingLanguageSelection bool       `db:"waiting_language_selection" json:"waiting_language_selection"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

type UserCompanyInteraction struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	CompanyID        string    `db:"company_id" json:"company_id"`
	FirstInteraction time.Time `db:"first_interaction" json:"first_interaction"`
	LastInteraction  time.Time `db:"last_interaction" json:"last_interaction"`
}

type Session struct {
	ID                       string          `db:"id" json:"id"`
	UserID                   string          `db:"user_id" json:"user_id"`
	CompanyID                string          `db:"company_id" json:"company_id"`
	StartedAt                time.Time       `db:"started_at" json:"started_at"`
	LastActivity             time.Time       `db:"last_activity" json:"last_activity"`
	EndedAt                  *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	CloseCause               *string         `db:"close_cause" json:"close_cause,omitempty"`
	FeedbackRequested        bool            `db:"feedback_requested" json:"feedback_requested"`
	FeedbackRequestedAt      *time.Time      `db:"feedback_requested_at" json:"feedback_requested_at,omitempty"`
	FeedbackResponse         *string         `db:"feedback_response" json:"feedback_response,omitempty"`
	FeedbackReceivedAt       *time.Time      `db:"feedback_received_at" json:"feedback_received_at,omitempty"`
	FeedbackCommentRequested bool            `db:"feedback_comment_requested" json:"feedback_comment_requested"`
	FeedbackComment          *string         `db:"feedback_comment" json:"feedback_comment,omitempty"`
	FarewellSent             bool            `db:"farewell_sent" json:"farewell_sent"`
	AnalysisResults          *AnalysisResult `db:"analysis_results" json:"analysis_results,omitempty"`
	AnalysisAttempts         int             `db:"analysis_attempts" json:"analysis_attempts"`
	LeadNotifiedAt           *time.Time      `db:"lead_notified_at" json:"lead_notified_at,omitempty"`
}

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

type Message struct {
	ID                 string           `db:"id" json:"id"`
	CompanyID          string           `db:"company_id" json:"company_id"`
	UserID             string           `db:"user_id" json:"user_id"`
	SessionID          *string          `db:"session_id" json:"session_id,omitempty"`
	Text               string           `db:"text" json:"text"`
	Direction          MessageDirection `db:"direction" json:"direction"`
	Kind               MessageKind      `db:"kind" json:"kind"`
	TransportMessageID *string          `db:"transport_message_id" json:"transport_message_id,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

type AudioMessage struct {
	ID              string      `db:"id" json:"id"`
	MessageID       string      `db:"message_id" json:"message_id"`
	BlobKey         string      `db:"blob_key" json:"blob_key"`
	DurationSeconds int         `db:"duration_seconds" json:"duration_seconds"`
	Transcription   *string     `db:"transcription" json:"transcription,omitempty"`
	Status          AudioStatus `db:"status" json:"status"`
	ErrorMessage    *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

type PolicyVersion struct {
	ID        string    `db:"id" json:"id"`
	Version   string    `db:"version" json:"version"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type PolicyAcceptance struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	PolicyVersionID string    `db:"policy_version_id" json:"policy_version_id"`
	AcceptedAt      time.Time `db:"accepted_at" json:"accepted_at"`
	IPAddress       *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       *string   `db:"user_agent" json:"user_agent,omitempty"`
}

type TicketCategory struct {
	ID                 string `db:"id" json:"id"`
	CompanyID          string `db:"company_id" json:"company_id"`
	Name               string `db:"name" json:"name"`
	Description        string `db:"description" json:"description"`
	PromptInstructions string `db:"prompt_instructions" json:"prompt_instructions"`
	RequestPhotos      bool   `db:"request_photos" json:"request_photos"`
	Active             bool   `db:"active" json:"active"`
}

type Ticket struct {
	ID          string         `db:"id" json:"id"`
	CompanyID   string         `db:"company_id" json:"company_id"`
	UserID      string         `db:"user_id" json:"user_id"`
	SessionID   *string        `db:"session_id" json:"session_id,omitempty"`
	CategoryID  *string        `db:"category_id" json:"category_id,omitempty"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Status      TicketStatus   `db:"status" json:"status"`
	Priority    TicketPriority `db:"priority" json:"priority"`
	AssignedTo  *string        `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
	ResolvedAt  *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
}

type TicketImage struct {
	ID            string    `db:"id" json:"id"`
	TicketID      string    `db:"ticket_id" json:"ticket_id"`
	BlobKey       string    `db:"blob_key" json:"blob_key"`
	Caption       string    `db:"caption" json:"caption"`
	AIDescription string    `db:"ai_description" json:"ai_description"`
	MediaID       string    `db:"media_id" json:"media_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type TicketComment struct {
	ID        string    `db:"id" json:"id"`
	TicketID  string    `db:"ticket_id" json:"ticket_id"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body"`
	IsSystem  bool      `db:"is_system" json:"is_system"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ImageAnalysisPrompt struct {
	ID         string    `db:"id" json:"id"`
	CompanyID  string    `db:"company_id" json:"company_id"`
	CategoryID *string   `db:"category_id" json:"category_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	Template   string    `db:"template" json:"template"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	Model      string    `db:"model" json:"model"`
	MaxTokens  int       `db:"max_tokens" json:"max_tokens"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type LLMUsageRecord struct {
	ID           string    `db:"id" json:"id"`
	CompanyID    string    `db:"company_id" json:"company_id"`
	SessionID    *string   `db:"session_id" json:"session_id,omitempty"`
	Purpose      string    `db:"purpose" json:"purpose"`
	Model        string    `db:"model" json:"model"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	TotalTokens  int       `db:"total_tokens" json:"total_tokens"`
	Cached       bool      `db:"cached" json:"cached"`
	Estimated    bool      `db:"estimated" json:"estimated"`
	InputCost    float64   `db:"input_cost" json:"input_cost"`
	OutputCost   float64   `db:"output_cost" json:"output_cost"`
	TotalCost    float64   `db:"total_cost" json:"total_cost"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type LLMMonthlySummary struct {
	ID             string    `db:"id" json:"id"`
	CompanyID      string    `db:"company_id" json:"company_id"`
	Year           int       `db:"year" json:"year"`
	Month          int       `db:"month" json:"month"`
	TotalRequests  int       `db:"total_requests" json:"total_requests"`
	CachedRequests int       `db:"cached_requests" json:"cached_requests"`
	InputTokens    int64     `db:"input_tokens" json:"input_tokens"`
	OutputTokens   int64     `db:"output_tokens" json:"output_tokens"`
	TotalTokens    int64     `db:"total_tokens" json:"total_tokens"`
	InputCost      float64   `db:"input_cost" json:"input_cost"`
	OutputCost     float64   `db:"output_cost" json:"output_cost"`
	TotalCost      float64   `db:"total_cost" json:"total_cost"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Feedback struct {
	ID        string         `db:"id" json:"id"`
	SessionID string         `db:"session_id" json:"session_id"`
	UserID    string         `db:"user_id" json:"user_id"`
	CompanyID string         `db:"company_id" json:"company_id"`
	Rating    FeedbackRating `db:"rating" json:"rating"`
	Comment   *string        `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// JobRun is scheduler bookkeeping.
type JobRun struct {
	ID         string     `db:"id" json:"id"`
	Job        string     `db:"job" json:"job"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Status     string     `db:"status" json:"status"`
	Detail     string     `db:"detail" json:"detail"`
}
