package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements grading.AssignmentRepository.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

var _ grading.AssignmentRepository = (*AssignmentRepository)(nil)

const assignmentColumns = `id, class_id, title, subject, topic, max_points, COALESCE(rubric_id, ''), due_at`

// GetByID returns an assignment by ID.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*grading.Assignment, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE id = $1`, assignmentColumns)
	a, err := scanAssignment(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, classify(fmt.Errorf("failed to get assignment: %w", err))
	}
	return &a, nil
}

// ListByClass returns a class's assignments ordered by creation.
func (r *AssignmentRepository) ListByClass(ctx context.Context, classID shared.ClassID) ([]grading.Assignment, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE class_id = $1 ORDER BY created_at, id`, assignmentColumns)
	rows, err := r.conn.Query(ctx, query, classID.String())
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list assignments: %w", err))
	}
	defer rows.Close()

	out := make([]grading.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func scanAssignment(row pgx.Row) (grading.Assignment, error) {
	var (
		a       grading.Assignment
		classID string
	)
	if err := row.Scan(&a.ID, &classID, &a.Title, &a.Subject, &a.Topic, &a.MaxPoints, &a.RubricID, &a.DueAt); err != nil {
		return grading.Assignment{}, err
	}
	a.ClassID = shared.ClassID(classID)
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RUBRIC REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// RubricRepository implements grading.RubricRepository.
type RubricRepository struct {
	conn *Connection
}

// NewRubricRepository creates a new RubricRepository.
func NewRubricRepository(conn *Connection) *RubricRepository {
	return &RubricRepository{conn: conn}
}

var _ grading.RubricRepository = (*RubricRepository)(nil)

// GetByID loads a rubric with its criteria in display order.
func (r *RubricRepository) GetByID(ctx context.Context, id string) (*grading.Rubric, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rubric := &grading.Rubric{}
	err := r.conn.QueryRow(ctx, `SELECT id, assignment_id FROM rubrics WHERE id = $1`, id).
		Scan(&rubric.ID, &rubric.AssignmentID)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRubricNotFound
		}
		return nil, classify(fmt.Errorf("failed to get rubric: %w", err))
	}

	rows, err := r.conn.Query(ctx, `
		SELECT criterion_id, name, weight, levels
		FROM rubric_criteria
		WHERE rubric_id = $1
		ORDER BY position, criterion_id
	`, id)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query rubric criteria: %w", err))
	}
	defer rows.Close()

	rubric.Criteria = make([]grading.Criterion, 0)
	for rows.Next() {
		var (
			c      grading.Criterion
			levels []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Weight, &levels); err != nil {
			return nil, fmt.Errorf("failed to scan criterion: %w", err)
		}
		if len(levels) > 0 {
			if err := json.Unmarshal(levels, &c.Levels); err != nil {
				return nil, fmt.Errorf("criterion %s: decode levels: %w", c.ID, err)
			}
		}
		rubric.Criteria = append(rubric.Criteria, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate criteria: %w", err))
	}

	return rubric, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SubmissionRepository implements grading.SubmissionRepository.
type SubmissionRepository struct {
	conn *Connection
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(conn *Connection) *SubmissionRepository {
	return &SubmissionRepository{conn: conn}
}

var _ grading.SubmissionRepository = (*SubmissionRepository)(nil)

// GetByID returns a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*grading.Submission, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var (
		s         grading.Submission
		studentID string
		status    string
		scores    []byte
		submitted time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id, assignment_id, student_id, content, attachments, grade, feedback,
			   rubric_scores, status, submitted_at, graded_at
		FROM submissions
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.AssignmentID, &studentID, &s.Content, &s.Attachments, &s.Grade,
		&s.Feedback, &scores, &status, &submitted, &s.GradedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSubmissionNotFound
		}
		return nil, classify(fmt.Errorf("failed to get submission: %w", err))
	}

	s.StudentID = shared.StudentID(studentID)
	s.Status = grading.Status(status)
	s.SubmittedAt = &submitted
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &s.RubricScores); err != nil {
			return nil, fmt.Errorf("submission %s: decode rubric scores: %w", s.ID, err)
		}
	}

	return &s, nil
}

const gradedSelect = `
	SELECT s.student_id, s.id, s.assignment_id, a.subject, a.topic, s.grade, a.max_points, s.graded_at
	FROM submissions s
	JOIN assignments a ON a.id = s.assignment_id
	WHERE s.grade IS NOT NULL AND s.graded_at IS NOT NULL`

// ListGradedByStudent returns graded submissions oldest first.
func (r *SubmissionRepository) ListGradedByStudent(ctx context.Context, studentID shared.StudentID) ([]grading.GradedSubmission, error) {
	grouped, err := r.listGraded(ctx, gradedSelect+` AND s.student_id = $1 ORDER BY s.graded_at, s.id`, studentID.String())
	if err != nil {
		return nil, err
	}
	out := grouped[studentID]
	if out == nil {
		out = []grading.GradedSubmission{}
	}
	return out, nil
}

// ListGradedByClass groups graded submissions per student of a class.
func (r *SubmissionRepository) ListGradedByClass(ctx context.Context, classID shared.ClassID) (map[shared.StudentID][]grading.GradedSubmission, error) {
	return r.listGraded(ctx, gradedSelect+` AND a.class_id = $1 ORDER BY s.graded_at, s.id`, classID.String())
}

func (r *SubmissionRepository) listGraded(ctx context.Context, query string, arg string) (map[shared.StudentID][]grading.GradedSubmission, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, query, arg)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query graded submissions: %w", err))
	}
	defer rows.Close()

	out := make(map[shared.StudentID][]grading.GradedSubmission)
	for rows.Next() {
		var (
			studentID string
			g         grading.GradedSubmission
		)
		if err := rows.Scan(&studentID, &g.SubmissionID, &g.AssignmentID, &g.Subject, &g.Topic, &g.Grade, &g.MaxPoints, &g.GradedAt); err != nil {
			return nil, fmt.Errorf("failed to scan graded submission: %w", err)
		}
		id := shared.StudentID(studentID)
		out[id] = append(out[id], g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate graded submissions: %w", err))
	}

	return out, nil
}

// SaveGrade writes the grade back and marks the submission graded.
func (r *SubmissionRepository) SaveGrade(ctx context.Context, submissionID string, grade float64, feedback string, gradedAt time.Time) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `
		UPDATE submissions
		SET grade = $1, feedback = $2, status = 'graded', graded_at = $3
		WHERE id = $4
	`, grade, feedback, gradedAt, submissionID)
	if err != nil {
		return classify(fmt.Errorf("failed to save grade: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrSubmissionNotFound
	}
	return nil
}
