// Package main is the entry point for the ClassPulse worker. It runs the
// scheduled jobs (intervention sweeps and the weekly guardian digest) and
// the event handlers that turn their events into notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/app"
	"github.com/classpulse/classpulse/internal/infrastructure/scheduler"
	"github.com/classpulse/classpulse/internal/infrastructure/scheduler/jobs"
	"github.com/classpulse/classpulse/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
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

	log := logger.NewForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel).Named("worker")
	defer log.Sync()

	log.Info("starting ClassPulse worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

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

	if err := application.Subscribe(app.Subscriptions{
		Interventions: true,
		Digests:       true,
		Delivery:      true,
	}); err != nil {
		return fmt.Errorf("subscribe handlers: %w", err)
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, only handling events")
		<-ctx.Done()
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:            log,
		Timezone:          cfg.App.Location,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})

	roster := application.Storage.Roster

	detectCfg := jobs.DefaultDetectInterventionsConfig()
	detectCfg.Enabled = application.Gate(config.FeatureInterventionAlerts)
	detect := jobs.NewDetectInterventionsJob(roster, application.Queries.ClassInterventions, application.Bus, log, detectCfg)
	if err := sched.Register(detect, scheduler.NewIntervalSchedule(cfg.Scheduler.InterventionInterval)); err != nil {
		return fmt.Errorf("register %s: %w", detect.Name(), err)
	}

	digestCfg := jobs.DefaultWeeklyDigestConfig()
	digestCfg.Enabled = application.Gate(config.FeatureWeeklyDigest)
	digest := jobs.NewWeeklyDigestJob(roster, roster, application.Queries.WeeklyDigest, application.Bus, log, digestCfg)
	weekly := scheduler.NewWeeklySchedule(cfg.Scheduler.DigestWeekday, cfg.Scheduler.DigestHour, cfg.App.Location)
	if err := sched.Register(digest, weekly); err != nil {
		return fmt.Errorf("register %s: %w", digest.Name(), err)
	}

	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Warn("job failed", logger.String("job", r.JobName), logger.Err(r.Error))
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info("worker is running",
		logger.String("interventions", cfg.Scheduler.InterventionInterval.String()),
		logger.String("digest", weekly.String()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, waiting for running jobs")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", logger.Err(err))
	}
	log.Info("shutdown completed successfully")
	return nil
}
