// Package jobs contains the scheduled background jobs: periodic
// intervention detection and the weekly parent digest.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

// ClassLister lists every class.
type ClassLister interface {
	ListClasses(ctx context.Context) ([]roster.Class, error)
}

// InterventionFinder runs intervention detection for one class.
type InterventionFinder interface {
	Handle(ctx context.Context, q query.GetClassInterventionsQuery) (*query.ClassInterventions, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// DETECT INTERVENTIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// DetectInterventionsJob evaluates every class and publishes one
// InterventionRaisedEvent per alert. Notification and de-duplication
// happen in the event handlers.
type DetectInterventionsJob struct {
	classes   ClassLister
	finder    InterventionFinder
	publisher shared.EventPublisher
	logger    *logger.Logger
	config    DetectInterventionsConfig
	now       func() time.Time

	lastRunStats atomic.Value // *DetectInterventionsStats
}

// DetectInterventionsConfig configures the job.
type DetectInterventionsConfig struct {
	// Concurrency caps classes evaluated in parallel.
	Concurrency int

	// Timeout bounds one run. Zero leaves it to the scheduler.
	Timeout time.Duration

	// Enabled gates a class. Nil enables every class.
	Enabled func(classID shared.ClassID) bool
}

// DefaultDetectInterventionsConfig returns the defaults.
func DefaultDetectInterventionsConfig() DetectInterventionsConfig {
	return DetectInterventionsConfig{
		Concurrency: 4,
		Timeout:     5 * time.Minute,
	}
}

// DetectInterventionsStats describes the last run.
type DetectInterventionsStats struct {
	StartedAt         time.Time
	CompletedAt       time.Time
	Duration          time.Duration
	ClassesChecked    int
	ClassesSkipped    int
	ClassesFailed     int
	StudentsEvaluated int
	AlertsRaised      int
	AlertsByType      map[string]int
}

// NewDetectInterventionsJob creates the job.
func NewDetectInterventionsJob(
	classes ClassLister,
	finder InterventionFinder,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config DetectInterventionsConfig,
) *DetectInterventionsJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &DetectInterventionsJob{
		classes:   classes,
		finder:    finder,
		publisher: publisher,
		logger:    log.With(logger.Component("detect_interventions")),
		config:    config,
		now:       time.Now,
	}
}

// Name returns the job name.
func (j *DetectInterventionsJob) Name() string {
	return "detect_interventions"
}

// Description returns a human-readable description.
func (j *DetectInterventionsJob) Description() string {
	return "Flags struggling students in every class and alerts their teachers"
}

// Run executes one detection pass. A class that fails does not stop the
// others; the run fails if any class did.
func (j *DetectInterventionsJob) Run(ctx context.Context) error {
	stats := &DetectInterventionsStats{
		StartedAt:    j.now(),
		AlertsByType: make(map[string]int),
	}
	defer func() {
		stats.CompletedAt = j.now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	classes, err := j.classes.ListClasses(ctx)
	if err != nil {
		return fmt.Errorf("list classes: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, class := range classes {
		if j.config.Enabled != nil && !j.config.Enabled(class.ID) {
			stats.ClassesSkipped++
			continue
		}
		class := class
		g.Go(func() error {
			res, err := j.finder.Handle(gctx, query.GetClassInterventionsQuery{ClassID: class.ID.String()})

			mu.Lock()
			defer mu.Unlock()
			stats.ClassesChecked++
			if err != nil {
				stats.ClassesFailed++
				errs = append(errs, fmt.Errorf("class %s: %w", class.ID, err))
				j.logger.Warn("intervention detection failed", logger.ClassID(class.ID.String()), logger.Err(err))
				return nil
			}
			stats.StudentsEvaluated += res.Evaluated
			j.publishAlerts(res, stats)
			return nil
		})
	}
	_ = g.Wait()

	j.logger.Info("detect_interventions completed",
		logger.Int("classes", stats.ClassesChecked),
		logger.Int("skipped", stats.ClassesSkipped),
		logger.Int("students", stats.StudentsEvaluated),
		logger.Int("alerts", stats.AlertsRaised),
	)

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d classes failed: %w", len(errs), stats.ClassesChecked, errors.Join(errs...))
	}
	return nil
}

// publishAlerts must be called with the stats lock held.
func (j *DetectInterventionsJob) publishAlerts(res *query.ClassInterventions, stats *DetectInterventionsStats) {
	at := j.now()
	for _, alert := range res.Alerts {
		event := shared.NewInterventionRaisedEvent(
			res.ClassID.String(),
			alert.StudentID.String(),
			string(alert.Type),
			string(alert.Severity),
			alert.Message,
			alert.AvgGrade,
			alert.RecentAvg,
			at,
		)
		if err := j.publisher.Publish(event); err != nil {
			j.logger.Error("failed to publish intervention",
				logger.StudentID(alert.StudentID.String()),
				logger.Err(err),
			)
			continue
		}
		stats.AlertsRaised++
		stats.AlertsByType[string(alert.Type)]++
	}
}

// LastRunStats returns the stats of the last run, or nil before the first.
func (j *DetectInterventionsJob) LastRunStats() *DetectInterventionsStats {
	if v := j.lastRunStats.Load(); v != nil {
		return v.(*DetectInterventionsStats)
	}
	return nil
}
