package query

import (
	"context"

	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLASS METRICS
// ══════════════════════════════════════════════════════════════════════════════

// GetClassMetricsQuery asks for the class dashboard.
type GetClassMetricsQuery struct {
	ClassID string `json:"class_id" validate:"required"`
}

// GetClassMetricsHandler aggregates roster summaries and per-subject grades.
type GetClassMetricsHandler struct {
	deps Dependencies
}

// NewGetClassMetricsHandler creates a handler.
func NewGetClassMetricsHandler(deps Dependencies) *GetClassMetricsHandler {
	return &GetClassMetricsHandler{deps: deps.withDefaults()}
}

// Handle loads the roster, fans out per-student record loads and builds
// the aggregate once every student is in.
func (h *GetClassMetricsHandler) Handle(ctx context.Context, q GetClassMetricsQuery) (*analytics.ClassMetrics, error) {
	if err := validate("GetClassMetrics", q); err != nil {
		return nil, err
	}
	classID := shared.ClassID(q.ClassID)

	class, err := h.deps.class(ctx, classID)
	if err != nil {
		return nil, storeError("GetClassMetrics", err)
	}

	summaries, err := retry.Value(ctx, h.deps.Retrier, func(ctx context.Context) ([]roster.StudentSummary, error) {
		return h.deps.Roster.ListSummaries(ctx, classID)
	})
	if err != nil {
		return nil, storeError("GetClassMetrics", err)
	}

	ids := make([]shared.StudentID, len(summaries))
	students := make([]analytics.RosterStudent, len(summaries))
	for i, s := range summaries {
		ids[i] = s.StudentID
		students[i] = analytics.RosterStudent{
			StudentID:     s.StudentID,
			Name:          s.Name,
			MessagesSent:  s.MessagesSent,
			ActiveMinutes: s.ActiveMinutes,
			Subjects:      s.Subjects,
		}
	}

	perStudent, err := h.deps.recordsPerStudent(ctx, ids)
	if err != nil {
		return nil, storeError("GetClassMetrics", err)
	}

	// Pool grades across the class in roster order so the result does not
	// depend on load timing.
	scores := make(map[string][]float64)
	for _, records := range perStudent {
		for subject, grades := range analytics.SubjectScoresFromRecords(records) {
			scores[subject] = append(scores[subject], grades...)
		}
	}

	in := analytics.ClassInput{
		ClassID:       classID,
		Students:      students,
		SubjectScores: scores,
		Verified:      class.Verified,
	}
	if !class.Verified && h.deps.DemoJitter != nil {
		in.Jitter = h.deps.DemoJitter(classID)
	}

	metrics := analytics.AggregateClassMetrics(in)

	h.deps.Logger.Debug("class metrics computed",
		logger.ClassID(q.ClassID),
		logger.Int("students", metrics.StudentCount),
		logger.String("vibe", string(metrics.Vibe)),
	)
	return &metrics, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET CLASS INTERVENTIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetClassInterventionsQuery asks which students of a class need attention.
type GetClassInterventionsQuery struct {
	ClassID string `json:"class_id" validate:"required"`
}

// ClassInterventions is the alert list for a class.
type ClassInterventions struct {
	ClassID   shared.ClassID                `json:"class_id"`
	Evaluated int                           `json:"evaluated"`
	Alerts    []analytics.InterventionAlert `json:"alerts"`
}

// GetClassInterventionsHandler runs the intervention rules over every
// enrolled student's graded submissions.
type GetClassInterventionsHandler struct {
	deps Dependencies
}

// NewGetClassInterventionsHandler creates a handler.
func NewGetClassInterventionsHandler(deps Dependencies) *GetClassInterventionsHandler {
	return &GetClassInterventionsHandler{deps: deps.withDefaults()}
}

// Handle returns at most one alert per student, in enrollment order.
func (h *GetClassInterventionsHandler) Handle(ctx context.Context, q GetClassInterventionsQuery) (*ClassInterventions, error) {
	if err := validate("GetClassInterventions", q); err != nil {
		return nil, err
	}
	classID := shared.ClassID(q.ClassID)

	if _, err := h.deps.class(ctx, classID); err != nil {
		return nil, storeError("GetClassInterventions", err)
	}

	students, err := retry.Value(ctx, h.deps.Retrier, func(ctx context.Context) ([]roster.Student, error) {
		return h.deps.Roster.ListStudents(ctx, classID)
	})
	if err != nil {
		return nil, storeError("GetClassInterventions", err)
	}

	graded, err := retry.Value(ctx, h.deps.Retrier, func(ctx context.Context) (map[shared.StudentID][]grading.GradedSubmission, error) {
		return h.deps.Submissions.ListGradedByClass(ctx, classID)
	})
	if err != nil {
		return nil, storeError("GetClassInterventions", err)
	}

	scores := StudentScores(students, graded)
	return &ClassInterventions{
		ClassID:   classID,
		Evaluated: len(scores),
		Alerts:    analytics.DetectInterventions(scores),
	}, nil
}

// StudentScores pairs each enrolled student with their graded submissions,
// in enrollment order. Students with nothing graded are still listed.
func StudentScores(students []roster.Student, graded map[shared.StudentID][]grading.GradedSubmission) []analytics.StudentScores {
	out := make([]analytics.StudentScores, 0, len(students))
	for _, st := range students {
		subs := graded[st.ID]
		items := make([]analytics.ScoredItem, len(subs))
		for i, g := range subs {
			items[i] = analytics.ScoredItem{Grade: g.Grade, MaxPoints: g.MaxPoints}
		}
		out = append(out, analytics.StudentScores{
			StudentID: st.ID,
			Name:      st.Name,
			Scores:    items,
		})
	}
	return out
}
