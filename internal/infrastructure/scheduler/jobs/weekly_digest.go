package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

// StudentLister lists the students of a class in enrollment order.
type StudentLister interface {
	ListStudents(ctx context.Context, classID shared.ClassID) ([]roster.Student, error)
}

// DigestComposer builds one student's weekly digest.
type DigestComposer interface {
	Handle(ctx context.Context, q query.GetWeeklyDigestQuery) (*analytics.WeeklyDigest, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY DIGEST JOB
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyDigestJob composes a digest for every enrolled student and
// publishes a WeeklyDigestComposedEvent carrying it. Delivery to guardians
// is done by the event handler.
type WeeklyDigestJob struct {
	classes   ClassLister
	students  StudentLister
	composer  DigestComposer
	publisher shared.EventPublisher
	logger    *logger.Logger
	config    WeeklyDigestConfig
	now       func() time.Time

	lastRunStats atomic.Value // *WeeklyDigestStats
}

// WeeklyDigestConfig configures the job.
type WeeklyDigestConfig struct {
	// Concurrency caps digests composed in parallel.
	Concurrency int

	Timeout time.Duration

	// SkipInactive drops students with no activity in the window.
	SkipInactive bool

	// Enabled gates a class. Nil enables every class.
	Enabled func(classID shared.ClassID) bool
}

// DefaultWeeklyDigestConfig returns the defaults.
func DefaultWeeklyDigestConfig() WeeklyDigestConfig {
	return WeeklyDigestConfig{
		Concurrency: 8,
		Timeout:     15 * time.Minute,
	}
}

// WeeklyDigestStats describes the last run.
type WeeklyDigestStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	ClassesChecked int
	DigestsSent    int
	SkippedIdle    int
	Failed         int
}

// NewWeeklyDigestJob creates the job.
func NewWeeklyDigestJob(
	classes ClassLister,
	students StudentLister,
	composer DigestComposer,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config WeeklyDigestConfig,
) *WeeklyDigestJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &WeeklyDigestJob{
		classes:   classes,
		students:  students,
		composer:  composer,
		publisher: publisher,
		logger:    log.With(logger.Component("weekly_digest")),
		config:    config,
		now:       time.Now,
	}
}

// Name returns the job name.
func (j *WeeklyDigestJob) Name() string {
	return "weekly_digest"
}

// Description returns a human-readable description.
func (j *WeeklyDigestJob) Description() string {
	return "Composes the weekly parent digest for every student"
}

// Run composes every digest as of the same instant so that all students
// share one window.
func (j *WeeklyDigestJob) Run(ctx context.Context) error {
	at := j.now()
	stats := &WeeklyDigestStats{StartedAt: at}
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
	fail := func(err error) {
		mu.Lock()
		stats.Failed++
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, class := range classes {
		if j.config.Enabled != nil && !j.config.Enabled(class.ID) {
			continue
		}
		students, err := j.students.ListStudents(ctx, class.ID)
		if err != nil {
			fail(fmt.Errorf("class %s: %w", class.ID, err))
			continue
		}
		stats.ClassesChecked++

		for _, st := range students {
			st := st
			g.Go(func() error {
				sent, err := j.composeOne(gctx, st.ID, at)
				if err != nil {
					j.logger.Warn("digest failed", logger.StudentID(st.ID.String()), logger.Err(err))
					fail(fmt.Errorf("student %s: %w", st.ID, err))
					return nil
				}
				mu.Lock()
				if sent {
					stats.DigestsSent++
				} else {
					stats.SkippedIdle++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	j.logger.Info("weekly_digest completed",
		logger.Int("classes", stats.ClassesChecked),
		logger.Int("sent", stats.DigestsSent),
		logger.Int("skipped", stats.SkippedIdle),
		logger.Int("failed", stats.Failed),
	)

	if len(errs) > 0 {
		return fmt.Errorf("%d digests failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (j *WeeklyDigestJob) composeOne(ctx context.Context, id shared.StudentID, at time.Time) (bool, error) {
	digest, err := j.composer.Handle(ctx, query.GetWeeklyDigestQuery{StudentID: id.String(), At: at})
	if err != nil {
		return false, err
	}
	if j.config.SkipInactive && digest.ActiveDays == 0 {
		return false, nil
	}

	raw, err := json.Marshal(digest)
	if err != nil {
		return false, fmt.Errorf("encode digest: %w", err)
	}

	event := shared.NewWeeklyDigestComposedEvent(
		id.String(),
		digest.Period.From,
		digest.Period.To,
		raw,
		len(digest.Achievements),
		len(digest.Concerns),
		at,
	)
	if err := j.publisher.Publish(event); err != nil {
		return false, fmt.Errorf("publish digest: %w", err)
	}
	return true, nil
}

// LastRunStats returns the stats of the last run, or nil before the first.
func (j *WeeklyDigestJob) LastRunStats() *WeeklyDigestStats {
	if v := j.lastRunStats.Load(); v != nil {
		return v.(*WeeklyDigestStats)
	}
	return nil
}
