package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
)

var gradedAt = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return p.err
}

func points(v float64) *float64 { return &v }

func gradingStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(&memory.Snapshot{
		Assignments: []grading.Assignment{
			{ID: "essay", ClassID: "c-1", Title: "Essay", MaxPoints: 50, RubricID: "rb-1"},
			{ID: "quiz", ClassID: "c-1", Title: "Quiz", MaxPoints: 20},
			{ID: "broken", ClassID: "c-1", Title: "Broken", MaxPoints: 0},
		},
		Rubrics: []grading.Rubric{{
			ID:           "rb-1",
			AssignmentID: "essay",
			Criteria: []grading.Criterion{
				{ID: "content", Weight: 60, Levels: []grading.Level{{Name: "Excellent", Points: 100}}},
				{ID: "style", Weight: 40, Levels: []grading.Level{{Name: "Excellent", Points: 100}}},
			},
		}},
		Submissions: []grading.Submission{
			{ID: "s-essay", AssignmentID: "essay", StudentID: "st-1", Status: grading.StatusSubmitted},
			{ID: "s-quiz", AssignmentID: "quiz", StudentID: "st-1", Status: grading.StatusSubmitted},
			{ID: "s-draft", AssignmentID: "quiz", StudentID: "st-2", Status: grading.StatusDraft},
			{ID: "s-broken", AssignmentID: "broken", StudentID: "st-2", Status: grading.StatusSubmitted},
		},
	})
	require.NoError(t, err)
	return store
}

func newGradeHandler(store *memory.Store, pub shared.EventPublisher) *GradeSubmissionHandler {
	return NewGradeSubmissionHandler(GradeSubmissionDeps{
		Assignments: store.Assignments(),
		Rubrics:     store.Rubrics(),
		Submissions: store.Submissions(),
		Publisher:   pub,
		Now:         func() time.Time { return gradedAt },
	})
}

func TestGradeSubmission_Rubric(t *testing.T) {
	store := gradingStore(t)
	pub := &recordingPublisher{}
	h := newGradeHandler(store, pub)

	res, err := h.Handle(context.Background(), GradeSubmissionCommand{
		SubmissionID: "s-essay",
		RubricScores: map[string]float64{"content": 80, "style": 50},
		Feedback:     "solid structure",
	})
	require.NoError(t, err)
	assert.True(t, res.FromRubric)
	assert.Equal(t, 34.0, res.Grade)
	require.NotNil(t, res.Report)
	assert.Equal(t, 2, res.Report.ScoredCriteria)

	saved, err := store.Submissions().GetByID(context.Background(), "s-essay")
	require.NoError(t, err)
	require.NotNil(t, saved.Grade)
	assert.Equal(t, 34.0, *saved.Grade)
	assert.Equal(t, "solid structure", saved.Feedback)
	assert.Equal(t, grading.StatusGraded, saved.Status)

	require.Len(t, pub.events, 1)
	ev, ok := pub.events[0].(shared.SubmissionGradedEvent)
	require.True(t, ok)
	assert.Equal(t, "st-1", ev.StudentID)
	assert.Equal(t, 50.0, ev.MaxPoints)
	assert.True(t, ev.FromRubric)
	assert.True(t, gradedAt.Equal(ev.OccurredAt()))
}

func TestGradeSubmission_PartialRubricNormalizes(t *testing.T) {
	h := newGradeHandler(gradingStore(t), nil)

	res, err := h.Handle(context.Background(), GradeSubmissionCommand{
		SubmissionID: "s-essay",
		RubricScores: map[string]float64{"content": 90, "extra": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 45.0, res.Grade)
	assert.Equal(t, []string{"extra"}, res.Report.UnknownCriteria)
}

func TestGradeSubmission_FallsBackToManual(t *testing.T) {
	h := newGradeHandler(gradingStore(t), nil)

	res, err := h.Handle(context.Background(), GradeSubmissionCommand{
		SubmissionID: "s-essay",
		RubricScores: map[string]float64{"unknown": 70},
		ManualGrade:  points(41),
	})
	require.NoError(t, err)
	assert.False(t, res.FromRubric)
	assert.Equal(t, 41.0, res.Grade)
	require.NotNil(t, res.Report)
	assert.False(t, res.Report.OK)

	_, err = h.Handle(context.Background(), GradeSubmissionCommand{
		SubmissionID: "s-essay",
		RubricScores: map[string]float64{"unknown": 70},
	})
	assert.True(t, errors.Is(err, shared.ErrNoGradeAvailable))
}

func TestGradeSubmission_AutogradeDisabled(t *testing.T) {
	store := gradingStore(t)
	h := NewGradeSubmissionHandler(GradeSubmissionDeps{
		Assignments: store.Assignments(),
		Rubrics:     store.Rubrics(),
		Submissions: store.Submissions(),
		Autograde:   func(shared.ClassID) bool { return false },
	})

	res, err := h.Handle(context.Background(), GradeSubmissionCommand{
		SubmissionID: "s-essay",
		RubricScores: map[string]float64{"content": 100, "style": 100},
		ManualGrade:  points(12),
	})
	require.NoError(t, err)
	assert.False(t, res.FromRubric)
	assert.Nil(t, res.Report)
	assert.Equal(t, 12.0, res.Grade)
}

func TestGradeSubmission_Errors(t *testing.T) {
	h := newGradeHandler(gradingStore(t), nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		cmd   GradeSubmissionCommand
		check func(error) bool
	}{
		{"missing id", GradeSubmissionCommand{}, shared.IsValidation},
		{"score above 100", GradeSubmissionCommand{SubmissionID: "s-essay", RubricScores: map[string]float64{"content": 150}}, shared.IsValidation},
		{"negative manual", GradeSubmissionCommand{SubmissionID: "s-quiz", ManualGrade: points(-1)}, shared.IsValidation},
		{"unknown submission", GradeSubmissionCommand{SubmissionID: "nope", ManualGrade: points(1)}, shared.IsNotFound},
		{"draft", GradeSubmissionCommand{SubmissionID: "s-draft", ManualGrade: points(1)}, func(err error) bool {
			return errors.Is(err, shared.ErrInvalidState)
		}},
		{"manual above max", GradeSubmissionCommand{SubmissionID: "s-quiz", ManualGrade: points(21)}, func(err error) bool {
			return errors.Is(err, shared.ErrValueOutOfRange)
		}},
		{"zero max points", GradeSubmissionCommand{SubmissionID: "s-broken", ManualGrade: points(1)}, func(err error) bool {
			return errors.Is(err, shared.ErrInvalidMaxPoints)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestGradeSubmission_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus closed")}
	h := newGradeHandler(gradingStore(t), pub)

	res, err := h.Handle(context.Background(), GradeSubmissionCommand{SubmissionID: "s-quiz", ManualGrade: points(18)})
	require.NoError(t, err)
	assert.Equal(t, 18.0, res.Grade)
	assert.Len(t, pub.events, 1)
}

func TestRecordActivity(t *testing.T) {
	store := gradingStore(t)
	h := NewRecordActivityHandler(store, nil, nil)
	h.now = func() time.Time { return gradedAt }

	records, err := h.Handle(context.Background(),
		RecordActivityCommand{StudentID: "st-1", ClassID: "c-1", Type: "message_sent"},
		RecordActivityCommand{ID: "r-9", StudentID: "st-1", Type: "assignment_submitted", Subject: "Math", Grade: points(88)},
	)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].ID)
	assert.True(t, gradedAt.Equal(records[0].Timestamp))

	stored, err := store.ListByStudent(context.Background(), "st-1", nil)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	graded := activity.GradedItems(stored)
	require.Len(t, graded, 1)
	assert.Equal(t, 88.0, graded[0].Grade)
}

func TestRecordActivity_Invalid(t *testing.T) {
	store := gradingStore(t)
	h := NewRecordActivityHandler(store, nil, nil)

	_, err := h.Handle(context.Background())
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(),
		RecordActivityCommand{StudentID: "st-1", Type: "message_sent"},
		RecordActivityCommand{StudentID: "st-1", Type: "teleported"},
	)
	assert.True(t, shared.IsValidation(err))

	stored, err := store.ListByStudent(context.Background(), "st-1", nil)
	require.NoError(t, err)
	assert.Empty(t, stored, "a bad batch writes nothing")
}
