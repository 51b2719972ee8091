package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements activity.Repository and activity.Writer.
type ActivityRepository struct {
	conn *Connection
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{conn: conn}
}

var (
	_ activity.Repository = (*ActivityRepository)(nil)
	_ activity.Writer     = (*ActivityRepository)(nil)
)

const activityColumns = `
	id, student_id, COALESCE(class_id, ''), COALESCE(assignment_id, ''),
	type, occurred_at, subject, topic, grade`

// ListByStudent returns a student's records ordered by timestamp.
func (r *ActivityRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, tr *shared.TimeRange) ([]activity.Record, error) {
	where, args := timeRangeFilter("student_id = $1", []interface{}{studentID.String()}, tr)
	return r.list(ctx, where, args)
}

// ListByClass returns records for every student of a class.
func (r *ActivityRepository) ListByClass(ctx context.Context, classID shared.ClassID, tr *shared.TimeRange) ([]activity.Record, error) {
	where, args := timeRangeFilter("class_id = $1", []interface{}{classID.String()}, tr)
	return r.list(ctx, where, args)
}

func (r *ActivityRepository) list(ctx context.Context, where string, args []interface{}) ([]activity.Record, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM activity_records WHERE %s ORDER BY occurred_at, id`, activityColumns, where)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query activity records: %w", err))
	}
	defer rows.Close()

	records := make([]activity.Record, 0)
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate activity records: %w", err))
	}

	return records, nil
}

// Append inserts records in one batch. Existing IDs are left untouched.
func (r *ActivityRepository) Append(ctx context.Context, records ...activity.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO activity_records (
			id, student_id, class_id, assignment_id, type, occurred_at, subject, topic, grade
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		batch.Queue(query,
			rec.ID,
			rec.StudentID.String(),
			rec.ClassID.String(),
			rec.AssignmentID,
			string(rec.Type),
			rec.Timestamp,
			rec.Metadata.Subject,
			rec.Metadata.Topic,
			rec.Metadata.Grade,
		)
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	results := r.conn.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return classify(fmt.Errorf("failed to append activity record: %w", err))
		}
	}

	return nil
}

func scanActivity(row pgx.Row) (activity.Record, error) {
	var (
		rec       activity.Record
		studentID string
		classID   string
		typ       string
	)
	err := row.Scan(
		&rec.ID,
		&studentID,
		&classID,
		&rec.AssignmentID,
		&typ,
		&rec.Timestamp,
		&rec.Metadata.Subject,
		&rec.Metadata.Topic,
		&rec.Metadata.Grade,
	)
	if err != nil {
		return activity.Record{}, fmt.Errorf("failed to scan activity record: %w", err)
	}
	rec.StudentID = shared.StudentID(studentID)
	rec.ClassID = shared.ClassID(classID)
	rec.Type = activity.Type(typ)
	return rec, nil
}

// timeRangeFilter appends an inclusive occurred_at bound to base.
func timeRangeFilter(base string, args []interface{}, tr *shared.TimeRange) (string, []interface{}) {
	if tr == nil {
		return base, args
	}
	clauses := []string{base}
	if !tr.From.IsZero() {
		args = append(args, tr.From)
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !tr.To.IsZero() {
		args = append(args, tr.To)
		clauses = append(clauses, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}
