package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// S3 environment variable names, shared with the storage package.
const (
	S3AccessKeyEnv = "S3_ACCESS_KEY"
	S3SecretKeyEnv = "S3_SECRET_KEY"
	S3EndpointEnv  = "S3_ENDPOINT"
	S3RegionEnv    = "S3_REGION"
	S3BucketEnv    = "S3_BUCKET"
)

// Config holds all configuration fields for the application.
type Config struct {
	AppEnv   string
	Timezone string
	Port     string
	BaseURL  string

	LogLevel  string
	LogFormat string

	DatabaseURL string

	WhatsAppVerifyToken string
	WhatsAppAppSecret   string
	WhatsAppAPIBaseURL  string
	WhatsAppAccessToken string
	DefaultCompanyID    string

	LLMAPIKey          string
	LLMBaseURL         string
	LLMModel           string
	LLMVisionModel     string
	LLMTranscribeModel string
	LLMTimeout         time.Duration

	EmailAPIKey   string
	EmailAPIURL   string
	EmailFrom     string
	EmailFromName string
	EmailTimeout  time.Duration

	MediaTimeout time.Duration
	MediaRoot    string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	RabbitMQURL         string
	RabbitMQQueuePrefix string
	KafkaBrokers        []string
	KafkaTopic          string

	AdminToken string

	InactivityMinutes   int
	ContextWindow       int
	PolicyMaxRefusals   int
	FeedbackCommentTTL  time.Duration
	WebhookSoftDeadline time.Duration
	AnalysisWorkers     int
	LockTableSize       int
	SchedulerEnabled    bool
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		Timezone: getEnv("APP_TIMEZONE", "UTC"),
		Port:     getEnv("PORT", "8080"),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppAppSecret:   os.Getenv("WHATSAPP_APP_SECRET"),
		WhatsAppAPIBaseURL:  getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppAccessToken: os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		DefaultCompanyID:    os.Getenv("DEFAULT_COMPANY_ID"),

		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMVisionModel:     getEnv("LLM_VISION_MODEL", "gpt-4o-mini"),
		LLMTranscribeModel: getEnv("LLM_TRANSCRIBE_MODEL", "whisper-1"),

		EmailAPIKey:   os.Getenv("EMAIL_API_KEY"),
		EmailAPIURL:   getEnv("EMAIL_API_URL", "https://api.resend.com/emails"),
		EmailFrom:     os.Getenv("EMAIL_FROM"),
		EmailFromName: getEnv("EMAIL_FROM_NAME", "Asistente"),

		MediaRoot: getEnv("MEDIA_ROOT", "./media"),

		S3Bucket:    os.Getenv(S3BucketEnv),
		S3Region:    getEnv(S3RegionEnv, "us-east-1"),
		S3Endpoint:  os.Getenv(S3EndpointEnv),
		S3AccessKey: os.Getenv(S3AccessKeyEnv),
		S3SecretKey: os.Getenv(S3SecretKeyEnv),

		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		RabbitMQQueuePrefix: getEnv("RABBITMQ_QUEUE_PREFIX", "leadflow"),
		KafkaBrokers:        ParseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "leadflow.events"),

		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}

	var err error
	if cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.EmailTimeout, err = getDuration("EMAIL_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.MediaTimeout, err = getDuration("MEDIA_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.FeedbackCommentTTL, err = getDuration("FEEDBACK_COMMENT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.WebhookSoftDeadline, err = getDuration("WEBHOOK_SOFT_DEADLINE", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.InactivityMinutes, err = getInt("INACTIVITY_MINUTES", 5); err != nil {
		return nil, err
	}
	if cfg.ContextWindow, err = getInt("CONTEXT_WINDOW", 30); err != nil {
		return nil, err
	}
	if cfg.PolicyMaxRefusals, err = getInt("POLICY_MAX_REFUSALS", 3); err != nil {
		return nil, err
	}
	if cfg.AnalysisWorkers, err = getInt("ANALYSIS_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.LockTableSize, err = getInt("LOCK_TABLE_SIZE", 10000); err != nil {
		return nil, err
	}
	if cfg.S3PathStyle, err = getBool("S3_PATH_STYLE", false); err != nil {
		return nil, err
	}
	if cfg.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}

	log.Info().Str("env", cfg.AppEnv).Str("timezone", cfg.Timezone).Msg("Configuration loaded")
	return cfg, nil
}

// Validate refuses configurations the engine cannot start with.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.WhatsAppVerifyToken == "" {
		missing = append(missing, "WHATSAPP_VERIFY_TOKEN")
	}
	if c.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.IsProduction() {
		if c.EmailAPIKey == "" {
			missing = append(missing, "EMAIL_API_KEY")
		}
		if c.EmailFrom == "" {
			missing = append(missing, "EMAIL_FROM")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.InactivityMinutes <= 0 {
		return fmt.Errorf("INACTIVITY_MINUTES must be positive, got %d", c.InactivityMinutes)
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be positive, got %d", c.ContextWindow)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// S3Enabled reports whether a bucket has been configured for blob storage.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// ParseList splits "a, b,c" into trimmed non-empty items.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
