package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type PrimaryIntent string

const (
	IntentInformation PrimaryIntent = "consulta_informacion"
	IntentProduct     PrimaryIntent = "interes_producto"
	IntentService     PrimaryIntent = "interes_servicio"
	IntentComplaint   PrimaryIntent = "queja"
	IntentOther       PrimaryIntent = "otro"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positivo"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negativo"
)

// InterestLevel is the lead quality of a session.
type InterestLevel string

const (
	InterestHigh   InterestLevel = "alto"
	InterestMedium InterestLevel = "medio"
	InterestLow    InterestLevel = "bajo"
	InterestNone   InterestLevel = "ninguno"
)

// IsLead reports whether the level warrants a lead notification.
func (l InterestLevel) IsLead() bool {
	return l == InterestHigh || l == InterestMedium
}

type ContactInfo struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AnalysisResult is the structured post-mortem of a closed session.
// Enumerated fields are validated on ingress.
type AnalysisResult struct {
	PrimaryIntent         PrimaryIntent `json:"primary_intent"`
	UserSentiment         Sentiment     `json:"user_sentiment"`
	PurchaseInterestLevel InterestLevel `json:"purchase_interest_level"`
	SpecificInterests     []string      `json:"specific_interests"`
	ContactInfo           *ContactInfo  `json:"contact_info"`
	FollowUpNeeded        bool          `json:"follow_up_needed"`
	FollowUpReason        string        `json:"follow_up_reason"`
	Summary               string        `json:"summary"`
}

// ParseAnalysis decodes raw JSON strictly: unknown fields and unrecognized
// enum values are rejected.
func ParseAnalysis(raw []byte) (*AnalysisResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var a AnalysisResult
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.SpecificInterests == nil {
		a.SpecificInterests = []string{}
	}
	return &a, nil
}

func (a *AnalysisResult) Validate() error {
	switch a.PrimaryIntent {
	case IntentInformation, IntentProduct, IntentService, IntentComplaint, IntentOther:
	default:
		return fmt.Errorf("%w: primary_intent %q", ErrInvalidAnalysis, a.PrimaryIntent)
	}
	switch a.UserSentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return fmt.Errorf("%w: user_sentiment %q", ErrInvalidAnalysis, a.UserSentiment)
	}
	switch a.PurchaseInterestLevel {
	case InterestHigh, InterestMedium, InterestLow, InterestNone:
	default:
		return fmt.Errorf("%w: purchase_interest_level %q", ErrInvalidAnalysis, a.PurchaseInterestLevel)
	}
	return nil
}

// Value stores the result as JSON text.
func (a AnalysisResult) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a stored result back, applying the same validation as ingress.
func (a *AnalysisResult) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported analysis column type %T", src)
	}
	parsed, err := ParseAnalysis(raw)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}
