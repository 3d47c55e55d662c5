package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const (
	PolicyAcceptID = "policy_accept"
	PolicyRejectID = "policy_reject"

	policyPromptBodyLimit = 900
)

var (
	affirmativeReply = regexp.MustCompile(`(?i)^\s*(si|sí|yes|acepto|accept|ok|de acuerdo|vale)\s*[.!]*\s*$`)
	negativeReply    = regexp.MustCompile(`(?i)^\s*(no|rechazo|reject)\s*[.!]*\s*$`)
)

// PolicyDecision is the outcome of the policy gate for one event.
type PolicyDecision struct {
	// Handled means the event was consumed by the gate.
	Handled bool
	// Accepted is set on the event that records the acceptance.
	Accepted bool
	// Replay is the buffered message to process after acceptance.
	Replay *string
}

// PolicyGate blocks conversation until the active privacy policy is accepted.
type PolicyGate struct {
	policies    *store.PolicyStore
	users       *store.UserStore
	outbox      *Outbox
	maxRefusals int
}

func NewPolicyGate(policies *store.PolicyStore, users *store.UserStore, outbox *Outbox, maxRefusals int) *PolicyGate {
	if maxRefusals <= 0 {
		maxRefusals = 3
	}
	return &PolicyGate{policies: policies, users: users, outbox: outbox, maxRefusals: maxRefusals}
}

// MajorVersion returns the leading integer of a version such as "2.0".
func MajorVersion(version string) (int, bool) {
	head, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(version), "v"), ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NeedsAcceptance reports whether the user must accept active before
// conversing. Minor bumps never require it.
func NeedsAcceptance(user *models.User, active *models.PolicyVersion) bool {
	if active == nil {
		return false
	}
	if !user.PolicyAccepted || user.PolicyVersion == "" {
		return true
	}
	activeMajor, ok := MajorVersion(active.Version)
	if !ok {
		return user.PolicyVersion != active.Version
	}
	userMajor, ok := MajorVersion(user.PolicyVersion)
	if !ok {
		return true
	}
	return activeMajor > userMajor
}

// Evaluate runs the gate for one inbound event.
func (g *PolicyGate) Evaluate(ctx context.Context, company *models.Company, user *models.User, text, replyID string) (*PolicyDecision, error) {
	active, err := g.policies.Active(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return &PolicyDecision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active policy: %w", err)
	}
	if !NeedsAcceptance(user, active) {
		if user.WaitingPolicyAcceptance {
			if err := g.users.ClearPolicyWaiting(ctx, user.ID, store.Now()); err != nil {
				return nil, err
			}
			user.WaitingPolicyAcceptance = false
		}
		return &PolicyDecision{}, nil
	}

	lang := userLanguage(user.LanguageCode)

	if !user.WaitingPolicyAcceptance {
		var pending *string
		if t := strings.TrimSpace(text); t != "" {
			pending = &t
		}
		if err := g.users.SetPolicyWaiting(ctx, user.ID, pending, store.Now()); err != nil {
			return nil, fmt.Errorf("flag policy waiting: %w", err)
		}
		user.WaitingPolicyAcceptance = true
		log.Info().Str("userID", user.ID).Str("companyID", company.ID).Str("policy", active.Version).
			Str("accepted", user.PolicyVersion).Msg("Policy acceptance required")
		g.prompt(ctx, company, user, active, lang)
		return &PolicyDecision{Handled: true}, nil
	}

	switch {
	case replyID == PolicyAcceptID || (replyID == "" && affirmativeReply.MatchString(text)):
		pending, err := g.users.AcceptPolicy(ctx, user.ID, active, store.Now())
		if err != nil {
			return nil, fmt.Errorf("accept policy: %w", err)
		}
		user.PolicyAccepted, user.PolicyVersion, user.WaitingPolicyAcceptance = true, active.Version, false
		log.Info().Str("userID", user.ID).Str("policy", active.Version).Bool("replay", pending != nil).Msg("Policy accepted")
		if pending == nil || strings.TrimSpace(*pending) == "" {
			if err := g.outbox.Text(ctx, company, user, nil, localize(lang, msgPolicyAccepted)); err != nil {
				log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to confirm policy acceptance")
			}
			return &PolicyDecision{Handled: true, Accepted: true}, nil
		}
		return &PolicyDecision{Accepted: true, Replay: pending}, nil

	default:
		refusals, err := g.users.IncrementRefusals(ctx, user.ID, store.Now())
		if err != nil {
			return nil, fmt.Errorf("count policy refusal: %w", err)
		}
		explicit := replyID == PolicyRejectID || (replyID == "" && negativeReply.MatchString(text))
		log.Info().Str("userID", user.ID).Int("refusals", refusals).Bool("explicit", explicit).Msg("Policy not accepted")
		if refusals >= g.maxRefusals {
			if err := g.users.ClearPolicyWaiting(ctx, user.ID, store.Now()); err != nil {
				return nil, err
			}
			user.WaitingPolicyAcceptance = false
			if err := g.outbox.Text(ctx, company, user, nil, localize(lang, msgPolicyRefused)); err != nil {
				log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to send policy refusal message")
			}
			return &PolicyDecision{Handled: true}, nil
		}
		g.prompt(ctx, company, user, active, lang)
		return &PolicyDecision{Handled: true}, nil
	}
}

func (g *PolicyGate) prompt(ctx context.Context, company *models.Company, user *models.User, policy *models.PolicyVersion, lang string) {
	body := strings.TrimSpace(policy.Body)
	if r := []rune(body); len(r) > policyPromptBodyLimit {
		body = string(r[:policyPromptBodyLimit]) + "…"
	}
	buttons := []whatsapp.Button{
		{ID: PolicyAcceptID, Title: localize(lang, msgPolicyAcceptButton)},
		{ID: PolicyRejectID, Title: localize(lang, msgPolicyRejectButton)},
	}
	text := localize(lang, msgPolicyBody, policy.Version, policy.Title, body)
	if err := g.outbox.Buttons(ctx, company, user, localize(lang, msgPolicyHeader), text, buttons); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to send policy prompt")
	}
}
