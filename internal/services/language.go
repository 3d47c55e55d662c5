package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const languageButtonPrefix = "lang_"

var isoCode = regexp.MustCompile(`^[a-z]{2}$`)

var languageMenu = []whatsapp.Button{
	{ID: languageButtonPrefix + "es", Title: "Español"},
	{ID: languageButtonPrefix + "en", Title: "English"},
	{ID: languageButtonPrefix + "pt", Title: "Português"},
}

// Words frequent enough in short chat messages to decide between the menu
// languages without a model call.
var languageMarkers = map[string][]string{
	"es": {"hola", "buenas", "buenos", "gracias", "quiero", "quisiera", "necesito", "tengo", "cómo", "como", "qué", "que", "por", "favor", "información", "informacion", "precio", "ayuda", "el", "la", "los", "las", "es", "está", "estoy", "una", "para", "con", "mi", "sí", "pero", "dónde", "donde", "cuánto", "cuanto", "hay", "tienen", "adiós", "adios"},
	"en": {"hello", "hi", "hey", "thanks", "thank", "you", "want", "need", "have", "how", "what", "please", "information", "price", "help", "the", "is", "are", "am", "i", "my", "with", "for", "yes", "but", "where", "much", "do", "does", "can", "could", "would", "goodbye", "bye", "there"},
	"pt": {"olá", "ola", "oi", "obrigado", "obrigada", "quero", "preciso", "tenho", "como", "você", "voce", "não", "nao", "sim", "informação", "informacao", "preço", "ajuda", "o", "os", "as", "é", "estou", "uma", "para", "com", "meu", "minha", "mas", "onde", "quanto", "tem", "vocês", "bom", "dia", "tchau"},
}

// DetectLanguage guesses es, en or pt from marker words. It returns "" when
// the text gives no clear winner.
func DetectLanguage(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return ""
	}
	scores := make(map[string]int, len(languageMarkers))
	for lang, markers := range languageMarkers {
		set := make(map[string]bool, len(markers))
		for _, m := range markers {
			set[m] = true
		}
		for _, w := range words {
			if set[w] {
				scores[lang]++
			}
		}
	}
	best, bestScore, tie := "", 0, false
	for _, lang := range []string{"es", "en", "pt"} {
		switch s := scores[lang]; {
		case s > bestScore:
			best, bestScore, tie = lang, s, false
		case s == bestScore && s > 0:
			tie = true
		}
	}
	if bestScore == 0 || tie {
		return ""
	}
	return best
}

// LanguageNegotiator decides the reply language of a user.
type LanguageNegotiator struct {
	users     *store.UserStore
	assistant *Assistant
	outbox    *Outbox
}

func NewLanguageNegotiator(users *store.UserStore, assistant *Assistant, outbox *Outbox) *LanguageNegotiator {
	return &LanguageNegotiator{users: users, assistant: assistant, outbox: outbox}
}

// IsLanguageReply reports whether a button reply id belongs to the menu.
func IsLanguageReply(replyID string) bool {
	return strings.HasPrefix(replyID, languageButtonPrefix)
}

// Negotiate returns the language to reply in. handled is true when the event
// was consumed by the language menu and the pipeline must stop.
func (n *LanguageNegotiator) Negotiate(ctx context.Context, company *models.Company, user *models.User, text, replyID string) (lang string, handled bool, err error) {
	if IsLanguageReply(replyID) {
		code := strings.TrimPrefix(replyID, languageButtonPrefix)
		if !isoCode.MatchString(code) {
			return "", false, fmt.Errorf("invalid language button %q", replyID)
		}
		if err := n.users.SetLanguage(ctx, user.ID, code, store.Now()); err != nil {
			return "", false, fmt.Errorf("store language: %w", err)
		}
		user.LanguageCode, user.WaitingLanguageSelection = code, false
		log.Info().Str("userID", user.ID).Str("language", code).Msg("Language selected from menu")
		return code, false, nil
	}

	if user.LanguageCode != "" && !user.WaitingLanguageSelection {
		return user.LanguageCode, false, nil
	}
	if strings.TrimSpace(text) == "" {
		return DefaultLanguage, false, nil
	}

	code := DetectLanguage(text)
	if code == "" {
		code = n.detectWithModel(ctx, company, text)
	}
	if code != "" {
		if err := n.users.SetLanguage(ctx, user.ID, code, store.Now()); err != nil {
			return "", false, fmt.Errorf("store language: %w", err)
		}
		user.LanguageCode, user.WaitingLanguageSelection = code, false
		log.Info().Str("userID", user.ID).Str("language", code).Msg("Language detected")
		return code, false, nil
	}

	if err := n.users.SetWaitingLanguage(ctx, user.ID, true, store.Now()); err != nil {
		return "", false, fmt.Errorf("flag language selection: %w", err)
	}
	user.WaitingLanguageSelection = true
	if err := n.outbox.Buttons(ctx, company, user, "", localize(DefaultLanguage, msgLanguageMenu), languageMenu); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to send language menu")
	}
	return "", true, nil
}

func (n *LanguageNegotiator) detectWithModel(ctx context.Context, company *models.Company, text string) string {
	completion, _, err := n.assistant.Call(ctx, CallMeta{CompanyID: company.ID, Purpose: PurposeLanguageDetection}, llm.ChatRequest{
		Messages: []llm.Message{
			llm.TextMessage("system", "Identify the language of the user's message. Reply only with its two-letter ISO 639-1 code in lowercase, or \"unknown\"."),
			llm.TextMessage("user", text),
		},
		MaxTokens: 5,
	})
	if err != nil {
		return ""
	}
	code := strings.ToLower(strings.Trim(strings.TrimSpace(completion.Text), ".\"'`"))
	if !isoCode.MatchString(code) {
		log.Debug().Str("reply", completion.Text).Msg("Language detection returned no ISO code")
		return ""
	}
	return code
}
