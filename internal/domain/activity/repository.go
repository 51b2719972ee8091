package activity

import (
	"context"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// Repository defines read access to activity records.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// ListByStudent returns a student's records ordered by timestamp.
	// A nil range returns the full history.
	ListByStudent(ctx context.Context, studentID shared.StudentID, tr *shared.TimeRange) ([]Record, error)

	// ListByClass returns records for every student of a class.
	ListByClass(ctx context.Context, classID shared.ClassID, tr *shared.TimeRange) ([]Record, error)
}

// Writer appends records. Only ingestion paths use it; analytics never does.
type Writer interface {
	Append(ctx context.Context, records ...Record) error
}
