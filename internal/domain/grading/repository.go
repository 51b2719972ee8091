package grading

import (
	"context"
	"time"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// AssignmentRepository reads assignments.
type AssignmentRepository interface {
	// GetByID returns shared.ErrAssignmentNotFound when missing.
	GetByID(ctx context.Context, id string) (*Assignment, error)
	ListByClass(ctx context.Context, classID shared.ClassID) ([]Assignment, error)
}

// RubricRepository reads rubrics.
type RubricRepository interface {
	// GetByID returns shared.ErrRubricNotFound when missing.
	GetByID(ctx context.Context, id string) (*Rubric, error)
}

// SubmissionRepository reads submissions and writes computed grades back.
type SubmissionRepository interface {
	// GetByID returns shared.ErrSubmissionNotFound when missing.
	GetByID(ctx context.Context, id string) (*Submission, error)

	// ListGradedByStudent returns graded submissions joined with their
	// assignment, oldest first.
	ListGradedByStudent(ctx context.Context, studentID shared.StudentID) ([]GradedSubmission, error)

	// ListGradedByClass groups graded submissions per student of a class.
	ListGradedByClass(ctx context.Context, classID shared.ClassID) (map[shared.StudentID][]GradedSubmission, error)

	// SaveGrade stores the grade, feedback and status=graded.
	SaveGrade(ctx context.Context, submissionID string, grade float64, feedback string, gradedAt time.Time) error
}
