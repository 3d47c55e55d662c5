package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"leadflow/config"
	"leadflow/internal/adapters/email"
	"leadflow/internal/adapters/llm"
	"leadflow/internal/adapters/whatsapp"
	"leadflow/internal/db"
	"leadflow/internal/events"
	"leadflow/internal/services"
	"leadflow/internal/storage"
	"leadflow/internal/store"
)

const whatsappSendTimeout = 15 * time.Second

// app is the wired object graph shared by serve and the job commands.
type app struct {
	cfg        *config.Config
	db         *sqlx.DB
	stores     *store.Stores
	blobs      storage.BlobStore
	dispatcher *events.Dispatcher
	engine     *services.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.OpenAndMigrate(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a := &app{cfg: cfg, db: conn, stores: store.New(conn)}

	if a.blobs, err = storage.New(ctx, cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	a.dispatcher = events.NewDispatcher(eventSinks(cfg)...)
	a.dispatcher.Start()

	messenger, err := whatsapp.NewClient(cfg.WhatsAppAPIBaseURL, whatsappSendTimeout, cfg.MediaTimeout)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("whatsapp client: %w", err)
	}
	completer, err := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("llm client: %w", err)
	}

	var mailer services.Mailer
	if cfg.EmailAPIKey != "" && cfg.EmailFrom != "" {
		client, err := email.NewClient(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailFromName, cfg.EmailTimeout)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("email client: %w", err)
		}
		mailer = client
	} else {
		log.Warn().Msg("Email not configured; notifications will be skipped")
	}

	a.engine, err = services.New(services.Options{
		Stores:             a.stores,
		Messenger:          messenger,
		LLM:                completer,
		Mailer:             mailer,
		Blobs:              a.blobs,
		Events:             a.dispatcher,
		Location:           loc,
		DefaultCompanyID:   cfg.DefaultCompanyID,
		FallbackToken:      cfg.WhatsAppAccessToken,
		BaseURL:            cfg.BaseURL,
		ChatModel:          cfg.LLMModel,
		VisionModel:        cfg.LLMVisionModel,
		TranscribeModel:    cfg.LLMTranscribeModel,
		ContextWindow:      cfg.ContextWindow,
		PolicyMaxRefusals:  cfg.PolicyMaxRefusals,
		AnalysisWorkers:    cfg.AnalysisWorkers,
		LockTableSize:      cfg.LockTableSize,
		FeedbackCommentTTL: cfg.FeedbackCommentTTL,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	return a, nil
}

func eventSinks(cfg *config.Config) []events.Sink {
	var sinks []events.Sink
	if cfg.RabbitMQURL != "" {
		sink, err := events.NewRabbitSink(cfg.RabbitMQURL, cfg.RabbitMQQueuePrefix)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable; events will not be published there")
		} else {
			sinks = append(sinks, sink)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error().Err(err).Msg("Kafka unavailable; events will not be published there")
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// close releases what newApp opened, in reverse order.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Stop()
		a.engine.Analyzer.Wait()
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event dispatcher")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
