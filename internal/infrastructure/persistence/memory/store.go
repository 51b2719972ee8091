// Package memory holds in-process implementations of the repositories.
// The worker and API fall back to it when no database is configured, and
// analyticsctl loads it from a JSON snapshot.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// EnrolledStudent is a student row together with its engagement totals.
type EnrolledStudent struct {
	roster.Student
	MessagesSent  int      `json:"messages_sent"`
	ActiveMinutes int      `json:"active_minutes"`
	Subjects      []string `json:"subjects,omitempty"`
}

// Snapshot is the JSON document a Store can be loaded from. Students are
// kept in enrollment order.
type Snapshot struct {
	Classes     []roster.Class       `json:"classes"`
	Students    []EnrolledStudent    `json:"students"`
	Activity    []activity.Record    `json:"activity"`
	Assignments []grading.Assignment `json:"assignments"`
	Rubrics     []grading.Rubric     `json:"rubrics"`
	Submissions []grading.Submission `json:"submissions"`
}

// DecodeSnapshot reads a snapshot from r. Unknown fields are rejected.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("memory: decode snapshot: %w", err)
	}
	return &snap, nil
}

// LoadFile builds a Store from the snapshot file at path.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memory: open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := DecodeSnapshot(f)
	if err != nil {
		return nil, err
	}
	return NewStore(snap)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps every aggregate in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	classes     map[shared.ClassID]roster.Class
	students    map[shared.StudentID]EnrolledStudent
	enrollment  []shared.StudentID
	records     []activity.Record
	recordIDs   map[string]struct{}
	assignments map[string]grading.Assignment
	rubrics     map[string]grading.Rubric
	submissions map[string]grading.Submission
}

var (
	_ roster.Repository   = (*Store)(nil)
	_ activity.Repository = (*Store)(nil)
	_ activity.Writer     = (*Store)(nil)
)

// NewStore builds a store from snap. A nil snapshot gives an empty store.
func NewStore(snap *Snapshot) (*Store, error) {
	s := &Store{
		classes:     make(map[shared.ClassID]roster.Class),
		students:    make(map[shared.StudentID]EnrolledStudent),
		recordIDs:   make(map[string]struct{}),
		assignments: make(map[string]grading.Assignment),
		rubrics:     make(map[string]grading.Rubric),
		submissions: make(map[string]grading.Submission),
	}
	if snap == nil {
		return s, nil
	}

	for _, c := range snap.Classes {
		if c.ID == "" {
			return nil, fmt.Errorf("memory: class without ID")
		}
		s.classes[c.ID] = c
	}
	for _, st := range snap.Students {
		if err := s.AddStudent(st); err != nil {
			return nil, err
		}
	}
	if err := s.Append(context.Background(), snap.Activity...); err != nil {
		return nil, err
	}
	for _, a := range snap.Assignments {
		s.assignments[a.ID] = a
	}
	for _, r := range snap.Rubrics {
		s.rubrics[r.ID] = r
	}
	for _, sub := range snap.Submissions {
		s.submissions[sub.ID] = sub
	}
	return s, nil
}

// AddClass inserts or replaces a class.
func (s *Store) AddClass(c roster.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[c.ID] = c
}

// AddStudent enrolls a student. Re-adding keeps the original position.
func (s *Store) AddStudent(st EnrolledStudent) error {
	if st.ID.IsEmpty() {
		return fmt.Errorf("memory: student without ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; !ok {
		s.enrollment = append(s.enrollment, st.ID)
	}
	s.students[st.ID] = st
	return nil
}

// AddAssignment inserts or replaces an assignment.
func (s *Store) AddAssignment(a grading.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = a
}

// AddRubric inserts or replaces a rubric.
func (s *Store) AddRubric(r grading.Rubric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rubrics[r.ID] = r
}

// AddSubmission inserts or replaces a submission.
func (s *Store) AddSubmission(sub grading.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetClass(_ context.Context, id shared.ClassID) (*roster.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return nil, shared.ErrClassNotFound
	}
	return &c, nil
}

func (s *Store) ListClasses(_ context.Context) ([]roster.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roster.Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetStudent(_ context.Context, id shared.StudentID) (*roster.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	out := st.Student
	return &out, nil
}

func (s *Store) ListStudents(_ context.Context, classID shared.ClassID) ([]roster.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []roster.Student
	for _, id := range s.enrollment {
		if st := s.students[id]; st.ClassID == classID {
			out = append(out, st.Student)
		}
	}
	return out, nil
}

func (s *Store) ListSummaries(_ context.Context, classID shared.ClassID) ([]roster.StudentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []roster.StudentSummary
	for _, id := range s.enrollment {
		st := s.students[id]
		if st.ClassID != classID {
			continue
		}
		out = append(out, roster.StudentSummary{
			StudentID:     st.ID,
			Name:          st.Name,
			MessagesSent:  st.MessagesSent,
			ActiveMinutes: st.ActiveMinutes,
			Subjects:      append([]string(nil), st.Subjects...),
		})
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) ListByStudent(_ context.Context, studentID shared.StudentID, tr *shared.TimeRange) ([]activity.Record, error) {
	return s.listRecords(func(r activity.Record) bool { return r.StudentID == studentID }, tr), nil
}

func (s *Store) ListByClass(_ context.Context, classID shared.ClassID, tr *shared.TimeRange) ([]activity.Record, error) {
	return s.listRecords(func(r activity.Record) bool { return r.ClassID == classID }, tr), nil
}

func (s *Store) listRecords(match func(activity.Record) bool, tr *shared.TimeRange) []activity.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []activity.Record
	for _, r := range s.records {
		if !match(r) {
			continue
		}
		if tr != nil && !tr.Contains(r.Timestamp) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Append stores records. Records whose ID is already present are skipped.
func (s *Store) Append(_ context.Context, records ...activity.Record) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("memory: record %q: %w", r.ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ID != "" {
			if _, dup := s.recordIDs[r.ID]; dup {
				continue
			}
			s.recordIDs[r.ID] = struct{}{}
		}
		s.records = append(s.records, r)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADING
// ══════════════════════════════════════════════════════════════════════════════

// Assignments returns the assignment repository view of the store.
func (s *Store) Assignments() *AssignmentRepository { return &AssignmentRepository{s: s} }

// Rubrics returns the rubric repository view of the store.
func (s *Store) Rubrics() *RubricRepository { return &RubricRepository{s: s} }

// Submissions returns the submission repository view of the store.
func (s *Store) Submissions() *SubmissionRepository { return &SubmissionRepository{s: s} }

// AssignmentRepository implements grading.AssignmentRepository.
type AssignmentRepository struct{ s *Store }

var _ grading.AssignmentRepository = (*AssignmentRepository)(nil)

func (r *AssignmentRepository) GetByID(_ context.Context, id string) (*grading.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.assignments[id]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return &a, nil
}

func (r *AssignmentRepository) ListByClass(_ context.Context, classID shared.ClassID) ([]grading.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []grading.Assignment
	for _, a := range r.s.assignments {
		if a.ClassID == classID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RubricRepository implements grading.RubricRepository.
type RubricRepository struct{ s *Store }

var _ grading.RubricRepository = (*RubricRepository)(nil)

func (r *RubricRepository) GetByID(_ context.Context, id string) (*grading.Rubric, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rub, ok := r.s.rubrics[id]
	if !ok {
		return nil, shared.ErrRubricNotFound
	}
	rub.Criteria = append([]grading.Criterion(nil), rub.Criteria...)
	return &rub, nil
}

// SubmissionRepository implements grading.SubmissionRepository.
type SubmissionRepository struct{ s *Store }

var _ grading.SubmissionRepository = (*SubmissionRepository)(nil)

func (r *SubmissionRepository) GetByID(_ context.Context, id string) (*grading.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, shared.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (r *SubmissionRepository) ListGradedByStudent(_ context.Context, studentID shared.StudentID) ([]grading.GradedSubmission, error) {
	grouped := r.listGraded(func(sub grading.Submission, _ grading.Assignment) bool {
		return sub.StudentID == studentID
	})
	return grouped[studentID], nil
}

func (r *SubmissionRepository) ListGradedByClass(_ context.Context, classID shared.ClassID) (map[shared.StudentID][]grading.GradedSubmission, error) {
	return r.listGraded(func(_ grading.Submission, a grading.Assignment) bool {
		return a.ClassID == classID
	}), nil
}

// listGraded joins graded submissions with their assignment, oldest
// grade first within each student.
func (r *SubmissionRepository) listGraded(match func(grading.Submission, grading.Assignment) bool) map[shared.StudentID][]grading.GradedSubmission {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[shared.StudentID][]grading.GradedSubmission)
	for _, sub := range r.s.submissions {
		if sub.Grade == nil || sub.GradedAt == nil {
			continue
		}
		a, ok := r.s.assignments[sub.AssignmentID]
		if !ok || !match(sub, a) {
			continue
		}
		out[sub.StudentID] = append(out[sub.StudentID], grading.GradedSubmission{
			SubmissionID: sub.ID,
			AssignmentID: a.ID,
			Subject:      a.Subject,
			Topic:        a.Topic,
			Grade:        *sub.Grade,
			MaxPoints:    a.MaxPoints,
			GradedAt:     *sub.GradedAt,
		})
	}
	for id, list := range out {
		sort.Slice(list, func(i, j int) bool {
			if list[i].GradedAt.Equal(list[j].GradedAt) {
				return list[i].SubmissionID < list[j].SubmissionID
			}
			return list[i].GradedAt.Before(list[j].GradedAt)
		})
		out[id] = list
	}
	return out
}

func (r *SubmissionRepository) SaveGrade(_ context.Context, submissionID string, grade float64, feedback string, gradedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[submissionID]
	if !ok {
		return shared.ErrSubmissionNotFound
	}
	g := grade
	at := gradedAt
	sub.Grade = &g
	sub.Feedback = feedback
	sub.GradedAt = &at
	sub.Status = grading.StatusGraded
	r.s.submissions[submissionID] = sub
	return nil
}
