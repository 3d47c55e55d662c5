package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify-me")
	t.Setenv("LLM_API_KEY", "sk-test")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.InactivityMinutes != 5 {
		t.Fatalf("InactivityMinutes = %d, want 5", cfg.InactivityMinutes)
	}
	if cfg.ContextWindow != 30 {
		t.Fatalf("ContextWindow = %d, want 30", cfg.ContextWindow)
	}
	if cfg.LLMTimeout != 30*time.Second || cfg.EmailTimeout != 20*time.Second || cfg.MediaTimeout != 60*time.Second {
		t.Fatalf("unexpected timeouts: llm=%s email=%s media=%s", cfg.LLMTimeout, cfg.EmailTimeout, cfg.MediaTimeout)
	}
	if cfg.FeedbackCommentTTL != 24*time.Hour {
		t.Fatalf("FeedbackCommentTTL = %s", cfg.FeedbackCommentTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "")
	t.Setenv("LLM_API_KEY", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing env")
	}
	for _, name := range []string{"DATABASE_URL", "WHATSAPP_VERIFY_TOKEN", "LLM_API_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidateProductionNeedsEmail(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("EMAIL_API_KEY", "")
	t.Setenv("EMAIL_FROM", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "EMAIL_API_KEY") {
		t.Fatalf("expected EMAIL_API_KEY error, got %v", err)
	}
}

func TestInvalidNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("INACTIVITY_MINUTES", "five")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInvalidTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" a:9092, ,b:9092,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("ParseList = %v", got)
	}
}
