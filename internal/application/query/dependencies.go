// Package query contains the read side: each handler loads records through
// repositories and hands them to the analytics engine.
package query

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
	"github.com/classpulse/classpulse/pkg/validation"
)

// DefaultFanOut bounds per-student loads within one class query.
const DefaultFanOut = 8

// Dependencies is shared by every analytics query handler.
type Dependencies struct {
	Activity    activity.Repository
	Submissions grading.SubmissionRepository
	Roster      roster.Repository

	// Catalog supplies remediation suggestions. Nil uses the built-in text.
	Catalog analytics.SuggestionCatalog

	Retrier *retry.Retrier
	Logger  *logger.Logger

	// Now and Location define "today". Defaults are time.Now and UTC.
	Now      func() time.Time
	Location *time.Location

	FanOut      int
	TopSubjects int

	// DemoJitter returns a random source for a class whose heatmap may be
	// filled with demo scores, or nil when that is not allowed.
	DemoJitter func(classID shared.ClassID) *rand.Rand
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Retrier == nil {
		d.Retrier = retry.StoreRetrier()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.FanOut <= 0 {
		d.FanOut = DefaultFanOut
	}
	if d.Catalog == nil {
		d.Catalog = analytics.DefaultCatalog{}
	}
	return d
}

// at resolves the reference time for a query: the explicit one when set,
// otherwise the clock, always in the configured location.
func (d Dependencies) at(explicit time.Time) time.Time {
	if explicit.IsZero() {
		return d.Now().In(d.Location)
	}
	return explicit.In(d.Location)
}

func (d Dependencies) studentRecords(ctx context.Context, id shared.StudentID) ([]activity.Record, error) {
	return retry.Value(ctx, d.Retrier, func(ctx context.Context) ([]activity.Record, error) {
		return d.Activity.ListByStudent(ctx, id, nil)
	})
}

func (d Dependencies) student(ctx context.Context, id shared.StudentID) (*roster.Student, error) {
	return retry.Value(ctx, d.Retrier, func(ctx context.Context) (*roster.Student, error) {
		return d.Roster.GetStudent(ctx, id)
	})
}

func (d Dependencies) class(ctx context.Context, id shared.ClassID) (*roster.Class, error) {
	return retry.Value(ctx, d.Retrier, func(ctx context.Context) (*roster.Class, error) {
		return d.Roster.GetClass(ctx, id)
	})
}

// recordsPerStudent loads each student's history concurrently. The result
// is indexed like ids.
func (d Dependencies) recordsPerStudent(ctx context.Context, ids []shared.StudentID) ([][]activity.Record, error) {
	out := make([][]activity.Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.FanOut)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			records, err := d.studentRecords(gctx, id)
			if err != nil {
				return err
			}
			out[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// validate converts a validator failure into a shared validation error.
func validate(op string, q any) error {
	if err := validation.Struct(q); err != nil {
		return shared.WrapError("query", op, shared.ErrValidation, "invalid query", err)
	}
	return nil
}

// storeError wraps a repository failure. Domain errors such as not-found
// pass through unchanged.
func storeError(op string, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.WrapError("query", op, shared.ErrServiceUnavailable, "failed to load data", err)
}
