// Package command contains the write operations: grade write-back and
// activity ingestion. The analytics engine itself never writes.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
	"github.com/classpulse/classpulse/pkg/validation"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADE SUBMISSION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// GradeSubmissionCommand grades one submission. RubricScores are
// percentages per criterion ID; ManualGrade is on the assignment's scale
// and is used when the rubric yields nothing.
type GradeSubmissionCommand struct {
	SubmissionID string             `json:"submission_id" validate:"required"`
	RubricScores map[string]float64 `json:"rubric_scores,omitempty" validate:"omitempty,dive,gte=0,lte=100"`
	ManualGrade  *float64           `json:"manual_grade,omitempty" validate:"omitempty,gte=0"`
	Feedback     string             `json:"feedback,omitempty" validate:"max=5000"`
}

// GradeSubmissionResult is what was persisted.
type GradeSubmissionResult struct {
	SubmissionID string                `json:"submission_id"`
	AssignmentID string                `json:"assignment_id"`
	StudentID    shared.StudentID      `json:"student_id"`
	Grade        float64               `json:"grade"`
	MaxPoints    float64               `json:"max_points"`
	FromRubric   bool                  `json:"from_rubric"`
	Report       *grading.RubricReport `json:"rubric_report,omitempty"`
	GradedAt     time.Time             `json:"graded_at"`
}

// GradeSubmissionHandler computes and stores grades.
type GradeSubmissionHandler struct {
	assignments grading.AssignmentRepository
	rubrics     grading.RubricRepository
	submissions grading.SubmissionRepository
	publisher   shared.EventPublisher
	retrier     *retry.Retrier
	logger      *logger.Logger
	now         func() time.Time

	// autograde reports whether rubric scoring is enabled for a class.
	autograde func(classID shared.ClassID) bool
}

// GradeSubmissionDeps groups the handler's collaborators.
type GradeSubmissionDeps struct {
	Assignments grading.AssignmentRepository
	Rubrics     grading.RubricRepository
	Submissions grading.SubmissionRepository
	Publisher   shared.EventPublisher
	Retrier     *retry.Retrier
	Logger      *logger.Logger
	Now         func() time.Time
	Autograde   func(classID shared.ClassID) bool
}

// NewGradeSubmissionHandler creates the handler.
func NewGradeSubmissionHandler(deps GradeSubmissionDeps) *GradeSubmissionHandler {
	h := &GradeSubmissionHandler{
		assignments: deps.Assignments,
		rubrics:     deps.Rubrics,
		submissions: deps.Submissions,
		publisher:   deps.Publisher,
		retrier:     deps.Retrier,
		logger:      deps.Logger,
		now:         deps.Now,
		autograde:   deps.Autograde,
	}
	if h.retrier == nil {
		h.retrier = retry.StoreRetrier()
	}
	if h.logger == nil {
		h.logger = logger.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.autograde == nil {
		h.autograde = func(shared.ClassID) bool { return true }
	}
	h.logger = h.logger.With(logger.Component("grade_submission"))
	return h
}

// Handle grades the submission. The rubric grade wins when any
// well-formed criterion was scored; otherwise the manual grade is used.
func (h *GradeSubmissionHandler) Handle(ctx context.Context, cmd GradeSubmissionCommand) (*GradeSubmissionResult, error) {
	const op = "GradeSubmission"

	if err := validation.Struct(cmd); err != nil {
		return nil, shared.WrapError("command", op, shared.ErrValidation, "invalid grade command", err)
	}

	sub, err := retry.Value(ctx, h.retrier, func(ctx context.Context) (*grading.Submission, error) {
		return h.submissions.GetByID(ctx, cmd.SubmissionID)
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if !sub.CanBeGraded() {
		return nil, shared.NewDomainError("grading", op, shared.ErrInvalidState, "draft submissions cannot be graded")
	}

	assignment, err := retry.Value(ctx, h.retrier, func(ctx context.Context) (*grading.Assignment, error) {
		return h.assignments.GetByID(ctx, sub.AssignmentID)
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if assignment.MaxPoints <= 0 {
		return nil, shared.ErrInvalidMaxPoints
	}

	result := &GradeSubmissionResult{
		SubmissionID: sub.ID,
		AssignmentID: assignment.ID,
		StudentID:    sub.StudentID,
		MaxPoints:    assignment.MaxPoints,
		GradedAt:     h.now(),
	}

	if assignment.HasRubric() && len(cmd.RubricScores) > 0 && h.autograde(assignment.ClassID) {
		rubric, err := retry.Value(ctx, h.retrier, func(ctx context.Context) (*grading.Rubric, error) {
			return h.rubrics.GetByID(ctx, assignment.RubricID)
		})
		if err != nil {
			return nil, wrapStoreError(op, err)
		}

		report := grading.ScoreRubric(*rubric, cmd.RubricScores, assignment.MaxPoints)
		result.Report = &report
		if report.SkippedMalformed > 0 || len(report.UnknownCriteria) > 0 {
			h.logger.Warn("rubric scored with skipped criteria",
				logger.SubmissionID(sub.ID),
				logger.String("rubric_id", rubric.ID),
				logger.Int("malformed", report.SkippedMalformed),
				logger.Strings("unknown", report.UnknownCriteria),
			)
		}
		if report.OK {
			result.Grade = float64(report.Grade)
			result.FromRubric = true
		}
	}

	if !result.FromRubric {
		if cmd.ManualGrade == nil {
			return nil, shared.ErrNoGradeAvailable
		}
		if *cmd.ManualGrade > assignment.MaxPoints {
			return nil, shared.NewDomainError("grading", op, shared.ErrValueOutOfRange, "manual grade exceeds max points")
		}
		result.Grade = *cmd.ManualGrade
	}

	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.submissions.SaveGrade(ctx, sub.ID, result.Grade, cmd.Feedback, result.GradedAt)
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}

	h.logger.Info("submission graded",
		logger.SubmissionID(sub.ID),
		logger.AssignmentID(assignment.ID),
		logger.StudentID(sub.StudentID.String()),
		logger.Float64("grade", result.Grade),
		logger.Bool("from_rubric", result.FromRubric),
	)

	if h.publisher != nil {
		event := shared.NewSubmissionGradedEvent(sub.ID, assignment.ID, sub.StudentID.String(),
			result.Grade, assignment.MaxPoints, result.FromRubric, result.GradedAt)
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish graded event", logger.SubmissionID(sub.ID), logger.Err(err))
		}
	}

	return result, nil
}

func wrapStoreError(op string, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.WrapError("command", op, shared.ErrServiceUnavailable, "store unavailable", err)
}
