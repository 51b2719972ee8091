package grading

import (
	"time"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// Assignment is a gradable unit of work in a class.
type Assignment struct {
	ID        string         `json:"id"`
	ClassID   shared.ClassID `json:"class_id"`
	Title     string         `json:"title"`
	Subject   string         `json:"subject,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	MaxPoints float64        `json:"max_points"`
	RubricID  string         `json:"rubric_id,omitempty"`
	DueAt     *time.Time     `json:"due_at,omitempty"`
}

// HasRubric reports whether the assignment is graded with a rubric.
func (a Assignment) HasRubric() bool {
	return a.RubricID != ""
}

// Status is the workflow state of a submission.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusGraded    Status = "graded"
)

// Submission is a student's work for an assignment.
type Submission struct {
	ID           string             `json:"id"`
	AssignmentID string             `json:"assignment_id"`
	StudentID    shared.StudentID   `json:"student_id"`
	Content      string             `json:"content,omitempty"`
	Attachments  []string           `json:"attachments,omitempty"`
	Grade        *float64           `json:"grade,omitempty"`
	Feedback     string             `json:"feedback,omitempty"`
	RubricScores map[string]float64 `json:"rubric_scores,omitempty"`
	Status       Status             `json:"status"`
	SubmittedAt  *time.Time         `json:"submitted_at,omitempty"`
	GradedAt     *time.Time         `json:"graded_at,omitempty"`
}

// IsGraded reports whether a grade value is present.
func (s Submission) IsGraded() bool {
	return s.Grade != nil
}

// CanBeGraded reports whether the submission has left the draft state.
func (s Submission) CanBeGraded() bool {
	return s.Status == StatusSubmitted || s.Status == StatusGraded
}

// GradedSubmission pairs a graded submission with its assignment's scale.
type GradedSubmission struct {
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	Subject      string    `json:"subject,omitempty"`
	Topic        string    `json:"topic,omitempty"`
	Grade        float64   `json:"grade"`
	MaxPoints    float64   `json:"max_points"`
	GradedAt     time.Time `json:"graded_at"`
}

// Percentage returns grade/maxPoints*100, or ok=false when the scale is
// unusable.
func (g GradedSubmission) Percentage() (float64, bool) {
	if g.MaxPoints <= 0 {
		return 0, false
	}
	return g.Grade / g.MaxPoints * 100, true
}
