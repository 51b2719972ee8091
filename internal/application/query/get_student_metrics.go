package query

import (
	"context"
	"time"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT METRICS
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentMetricsQuery asks for one student's dashboard numbers.
type GetStudentMetricsQuery struct {
	StudentID string `json:"student_id" validate:"required"`

	// At overrides the reference time. Zero means now.
	At time.Time `json:"at"`
}

// GetStudentMetricsHandler computes StudentMetrics.
type GetStudentMetricsHandler struct {
	deps Dependencies
}

// NewGetStudentMetricsHandler creates a handler.
func NewGetStudentMetricsHandler(deps Dependencies) *GetStudentMetricsHandler {
	return &GetStudentMetricsHandler{deps: deps.withDefaults()}
}

// Handle loads the full history and runs the per-student pipeline. A
// student with no records gets zero values, not an error.
func (h *GetStudentMetricsHandler) Handle(ctx context.Context, q GetStudentMetricsQuery) (*analytics.StudentMetrics, error) {
	if err := validate("GetStudentMetrics", q); err != nil {
		return nil, err
	}
	id := shared.StudentID(q.StudentID)

	if _, err := h.deps.student(ctx, id); err != nil {
		return nil, storeError("GetStudentMetrics", err)
	}

	records, err := h.deps.studentRecords(ctx, id)
	if err != nil {
		return nil, storeError("GetStudentMetrics", err)
	}

	metrics := analytics.ComputeStudentMetrics(analytics.StudentInput{
		StudentID:   id,
		Records:     records,
		Now:         h.deps.at(q.At),
		Catalog:     h.deps.Catalog,
		TopSubjects: h.deps.TopSubjects,
	})

	h.deps.Logger.Debug("student metrics computed",
		logger.StudentID(q.StudentID),
		logger.Int("records", len(records)),
		logger.Int("streak", metrics.StreakDays),
	)
	return &metrics, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEARNING GAPS
// ══════════════════════════════════════════════════════════════════════════════

// GetLearningGapsQuery asks for the topics a student is weak in.
type GetLearningGapsQuery struct {
	StudentID string `json:"student_id" validate:"required"`
}

// GetLearningGapsHandler runs gap analysis over a student's graded records.
type GetLearningGapsHandler struct {
	deps Dependencies
}

// NewGetLearningGapsHandler creates a handler.
func NewGetLearningGapsHandler(deps Dependencies) *GetLearningGapsHandler {
	return &GetLearningGapsHandler{deps: deps.withDefaults()}
}

// Handle returns the gaps weakest first. No graded records yields an empty
// list.
func (h *GetLearningGapsHandler) Handle(ctx context.Context, q GetLearningGapsQuery) ([]analytics.LearningGap, error) {
	if err := validate("GetLearningGaps", q); err != nil {
		return nil, err
	}
	id := shared.StudentID(q.StudentID)

	if _, err := h.deps.student(ctx, id); err != nil {
		return nil, storeError("GetLearningGaps", err)
	}

	records, err := h.deps.studentRecords(ctx, id)
	if err != nil {
		return nil, storeError("GetLearningGaps", err)
	}
	return analytics.AnalyzeLearningGaps(activity.GradedItems(records), h.deps.Catalog), nil
}
