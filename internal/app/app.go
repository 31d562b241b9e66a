// Package app wires the engine together: storage, gateway session,
// dispatch pipeline, scheduler loop, API, and metrics.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zapline/zapline/internal/api"
	"github.com/zapline/zapline/internal/config"
	"github.com/zapline/zapline/internal/dispatch"
	"github.com/zapline/zapline/internal/metrics"
	"github.com/zapline/zapline/internal/notify"
	"github.com/zapline/zapline/internal/scheduler"
	"github.com/zapline/zapline/internal/store"
	"github.com/zapline/zapline/internal/whatsapp"
)

// App is the main application
type App struct {
	config        *config.Config
	store         store.Store
	supervisor    *whatsapp.Supervisor
	sched         *scheduler.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	notifier      notify.Notifier
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	m := metrics.New()

	// Gateway session with health-check driven reconnection
	client := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:        cfg.WhatsApp.BaseURL,
		Token:          cfg.WhatsApp.Token,
		RequestTimeout: cfg.WhatsApp.RequestTimeout,
	}, logger.With("component", "whatsapp_client"))

	supervisor := whatsapp.NewSupervisor(client, whatsapp.SupervisorConfig{
		HealthInterval:        cfg.WhatsApp.HealthInterval,
		ReconnectMaxAttempts:  cfg.WhatsApp.ReconnectMaxAttempts,
		ReconnectInitialDelay: cfg.WhatsApp.ReconnectInitialDelay,
	}, logger.With("component", "supervisor"))

	// Dispatch pipeline: breaker wrapped by the retrying invoker
	breaker := dispatch.NewBreaker(dispatch.BreakerConfig{
		MaxFailures:  cfg.Breaker.MaxFailures,
		OpenDuration: cfg.Breaker.OpenDuration,
	})
	invoker := dispatch.NewInvoker(breaker, dispatch.InvokerConfig{
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		InitialDelay: cfg.Scheduler.RetryInitialDelay,
	}, logger.With("component", "invoker"))

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = notify.NewRedisNotifier(cfg.Notify.RedisAddr, cfg.Notify.Channel, logger.With("component", "notifier"))
		logger.Info("conversation notifications enabled", "channel", cfg.Notify.Channel)
	}

	sched := scheduler.New(st, supervisor, invoker, breaker, notifier, m,
		scheduler.Config{TickInterval: cfg.Scheduler.TickInterval},
		logger.With("component", "scheduler"))

	retry := scheduler.NewRetryService(st, m, logger.With("component", "retry"))

	apiServer := api.NewServer(st, retry, supervisor, &cfg.API, logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		store:         st,
		supervisor:    supervisor,
		sched:         sched,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		notifier:      notifier,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting zapline",
		"api_addr", a.config.API.ListenAddr,
		"gateway", a.config.WhatsApp.BaseURL,
		"tick_interval", a.config.Scheduler.TickInterval,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.supervisor.Start(ctx)
	a.sched.Start(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the loop first so no dispatch is in flight when the gateway
	// session and storage go away
	a.sched.Stop()
	a.supervisor.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if closer, ok := a.notifier.(*notify.RedisNotifier); ok {
		if err := closer.Close(); err != nil {
			a.logger.Error("notifier close error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
