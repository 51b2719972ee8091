// Package roster describes classes and the per-student summary stats the
// class dashboard is built from.
package roster

import (
	"context"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// Class is a course section.
type Class struct {
	ID        shared.ClassID `json:"id"`
	Name      string         `json:"name"`
	TeacherID string         `json:"teacher_id"`
	// Verified is false for demo and trial classes.
	Verified bool `json:"verified"`
}

// Student is an enrolled student and the guardians who receive digests.
type Student struct {
	ID          shared.StudentID `json:"id"`
	ClassID     shared.ClassID   `json:"class_id"`
	Name        string           `json:"name"`
	GuardianIDs []string         `json:"guardian_ids,omitempty"`
}

// StudentSummary is one roster row with engagement totals.
type StudentSummary struct {
	StudentID     shared.StudentID `json:"student_id"`
	Name          string           `json:"name"`
	MessagesSent  int              `json:"messages_sent"`
	ActiveMinutes int              `json:"active_minutes"`
	Subjects      []string         `json:"subjects"`
}

// Repository reads classes and enrollments.
type Repository interface {
	// GetClass returns shared.ErrClassNotFound when missing.
	GetClass(ctx context.Context, id shared.ClassID) (*Class, error)

	// ListClasses returns every class, ordered by ID.
	ListClasses(ctx context.Context) ([]Class, error)

	// GetStudent returns shared.ErrStudentNotFound when missing.
	GetStudent(ctx context.Context, id shared.StudentID) (*Student, error)

	// ListStudents returns a class's students ordered by enrollment.
	ListStudents(ctx context.Context, classID shared.ClassID) ([]Student, error)

	// ListSummaries returns roster rows in enrollment order.
	ListSummaries(ctx context.Context, classID shared.ClassID) ([]StudentSummary, error)
}
