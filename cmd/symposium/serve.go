package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/private-symposium-go/internal/handlers"
	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/middleware"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/ai"
	"github.com/private-symposium-go/internal/services/cache"
	"github.com/private-symposium-go/internal/services/chat"
	"github.com/private-symposium-go/internal/services/conversation"
	"github.com/private-symposium-go/internal/services/quota"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	rateLimitCleanupInterval = 10 * time.Minute
	shutdownTimeout          = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monthly quota reset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
}

func serve(cmd *cobra.Command) error {
	cfg, log, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"version":     cfg.Server.Version,
		"environment": cfg.Server.Environment,
		"storage":     cfg.Storage.Type,
	}).Info("Starting Private Symposium...")

	if cfg.Provider.APIKey == "" {
		log.Warn("Provider API key is empty; chat turns will fail until it is configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer storageManager.Close()

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("initialize i18n: %w", err)
	}

	personas := persona.NewRegistry(cfg.Personas.Prompts)
	ledger := quota.NewLedger(storageManager, &cfg.Quota, log)
	conversations := conversation.NewStore(storageManager, personas, cfg.Conversation.MaxMessages, log)
	provider := ai.NewCustomAI(&cfg.Provider, metrics, log)
	orchestrator := chat.NewOrchestrator(conversations, ledger, provider, personas, &cfg.Quota, metrics, log)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	go rateLimiter.RunCleanup(rateLimitCleanupInterval, ctx.Done())

	router := handlers.NewRouter(handlers.Dependencies{
		Config:        cfg,
		Turns:         orchestrator,
		Conversations: conversations,
		Ledger:        ledger,
		Personas:      personas,
		Storage:       storageManager,
		Idempotency:   cache.NewCache(&cfg.Idempotency, log),
		RateLimiter:   rateLimiter,
		Localizer:     localizer,
		Metrics:       metrics,
		Logger:        log,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Turns wait on the provider, so the write timeout must outlast it
		WriteTimeout: cfg.Provider.Timeout + 15*time.Second,
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Start the monthly quota reset
	if cfg.Quota.ScheduleEnabled {
		scheduler := quota.NewScheduler(ledger, log, metrics.RecordQuotaReset)
		go scheduler.Run(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("HTTP server failed")
		cancel()
		return err
	}

	// Cancel context to stop background goroutines
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Metrics server shutdown failed")
		}
	}

	log.Info("Server stopped")
	return nil
}
