package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// RosterRepository implements roster.Repository.
type RosterRepository struct {
	conn *Connection
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(conn *Connection) *RosterRepository {
	return &RosterRepository{conn: conn}
}

var _ roster.Repository = (*RosterRepository)(nil)

// GetClass returns a class by ID.
func (r *RosterRepository) GetClass(ctx context.Context, id shared.ClassID) (*roster.Class, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	c, err := scanClass(r.conn.QueryRow(ctx, `SELECT id, name, teacher_id, verified FROM classes WHERE id = $1`, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrClassNotFound
		}
		return nil, classify(fmt.Errorf("failed to get class: %w", err))
	}
	return &c, nil
}

// ListClasses returns every class ordered by ID.
func (r *RosterRepository) ListClasses(ctx context.Context) ([]roster.Class, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `SELECT id, name, teacher_id, verified FROM classes ORDER BY id`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list classes: %w", err))
	}
	defer rows.Close()

	out := make([]roster.Class, 0)
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

// GetStudent returns an enrolled student.
func (r *RosterRepository) GetStudent(ctx context.Context, id shared.StudentID) (*roster.Student, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	s, err := scanStudent(r.conn.QueryRow(ctx, `SELECT id, class_id, name, guardian_ids FROM students WHERE id = $1`, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, classify(fmt.Errorf("failed to get student: %w", err))
	}
	return &s, nil
}

// ListStudents returns a class's students in enrollment order.
func (r *RosterRepository) ListStudents(ctx context.Context, classID shared.ClassID) ([]roster.Student, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, class_id, name, guardian_ids
		FROM students
		WHERE class_id = $1
		ORDER BY enrollment_seq
	`, classID.String())
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list students: %w", err))
	}
	defer rows.Close()

	out := make([]roster.Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

// ListSummaries returns roster rows with engagement totals in enrollment order.
func (r *RosterRepository) ListSummaries(ctx context.Context, classID shared.ClassID) ([]roster.StudentSummary, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, name, messages_sent, active_minutes, subjects
		FROM students
		WHERE class_id = $1
		ORDER BY enrollment_seq
	`, classID.String())
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list roster summaries: %w", err))
	}
	defer rows.Close()

	out := make([]roster.StudentSummary, 0)
	for rows.Next() {
		var (
			s  roster.StudentSummary
			id string
		)
		if err := rows.Scan(&id, &s.Name, &s.MessagesSent, &s.ActiveMinutes, &s.Subjects); err != nil {
			return nil, fmt.Errorf("failed to scan roster summary: %w", err)
		}
		s.StudentID = shared.StudentID(id)
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

func scanClass(row pgx.Row) (roster.Class, error) {
	var (
		c  roster.Class
		id string
	)
	if err := row.Scan(&id, &c.Name, &c.TeacherID, &c.Verified); err != nil {
		return roster.Class{}, err
	}
	c.ID = shared.ClassID(id)
	return c, nil
}

func scanStudent(row pgx.Row) (roster.Student, error) {
	var (
		s           roster.Student
		id, classID string
	)
	if err := row.Scan(&id, &classID, &s.Name, &s.GuardianIDs); err != nil {
		return roster.Student{}, err
	}
	s.ID = shared.StudentID(id)
	s.ClassID = shared.ClassID(classID)
	return s, nil
}
