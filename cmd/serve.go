package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"leadflow/internal/handlers"
	"leadflow/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, operator API and scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.engine.Start()

	loc, _ := cfg.Location()
	webhook := handlers.NewWebhookHandler(a.engine.Pipeline, cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, cfg.WebhookSoftDeadline)
	router := handlers.NewRouter(handlers.RouterConfig{
		Webhook:    webhook,
		Health:     handlers.NewHealthHandler(a.db, a.blobs),
		Ops:        handlers.NewOpsHandler(a.engine, a.stores, a.blobs, a.dispatcher, loc),
		AdminToken: cfg.AdminToken,
	})

	schedDone := make(chan struct{})
	if cfg.SchedulerEnabled {
		sched, err := scheduler.New(a.stores, a.engine, scheduler.Options{
			Inactivity: time.Duration(cfg.InactivityMinutes) * time.Minute,
			Location:   loc,
			Leader:     scheduler.NewLeader(a.db),
		})
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		go func() {
			defer close(schedDone)
			sched.Start(ctx)
		}()
	} else {
		log.Info().Msg("Scheduler disabled")
		close(schedDone)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WebhookSoftDeadline + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	webhook.Wait()
	<-schedDone
	log.Info().Msg("Server stopped")
	return nil
}
