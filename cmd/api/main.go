// Package main is the entry point for the ClassPulse API server. It serves
// the analytics queries, grade write-back and session state over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/app"
	httpserver "github.com/classpulse/classpulse/internal/interface/http"
	"github.com/classpulse/classpulse/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel)
	defer log.Sync()

	log.Info("starting ClassPulse API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE, EVENT BUS, HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing resources...")
		if err := application.Close(); err != nil {
			log.Warn("shutdown was not clean", logger.Err(err))
		}
	}()

	// Grade notices are raised here; with a local bus there is no worker
	// to deliver them, so this process does it.
	if err := application.Subscribe(app.Subscriptions{
		GradeNotices: true,
		Delivery:     !application.Distributed,
	}); err != nil {
		return fmt.Errorf("subscribe handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.ShutdownTimeout = cfg.HTTP.ShutdownTimeout
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.APIKeys = cfg.HTTP.APIKeys

	q, c := application.Queries, application.Commands
	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		StudentMetrics:     q.StudentMetrics,
		ClassMetrics:       q.ClassMetrics,
		ClassInterventions: q.ClassInterventions,
		WeeklyDigest:       q.WeeklyDigest,
		LearningGaps:       q.LearningGaps,
		GradeSubmission:    c.GradeSubmission,
		RecordActivity:     c.RecordActivity,
		Sessions:           application.Sessions,
		HealthChecker:      application.Health,
		Logger:             log,
		Version:            cfg.App.Version,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}
