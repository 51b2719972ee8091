package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func grade(v float64) *float64 { return &v }

func fixture(t *testing.T) *memory.Store {
	t.Helper()
	gradedAt := now.AddDate(0, 0, -1)
	store, err := memory.NewStore(&memory.Snapshot{
		Classes: []roster.Class{
			{ID: "c-1", Name: "Algebra", TeacherID: "t-1", Verified: true},
			{ID: "c-2", Name: "Biology", TeacherID: "t-2", Verified: true},
		},
		Students: []memory.EnrolledStudent{
			{Student: roster.Student{ID: "s-1", ClassID: "c-1", Name: "Ada"}},
			{Student: roster.Student{ID: "s-2", ClassID: "c-1", Name: "Ben"}},
			{Student: roster.Student{ID: "s-3", ClassID: "c-2", Name: "Cy"}},
		},
		Activity: []activity.Record{
			{ID: "r-1", StudentID: "s-1", ClassID: "c-1", Type: activity.TypeAssignmentSubmitted,
				Timestamp: now.AddDate(0, 0, -1), Metadata: activity.Metadata{Subject: "Math", Grade: grade(95)}},
			{ID: "r-2", StudentID: "s-1", ClassID: "c-1", Type: activity.TypeMessageSent, Timestamp: now},
		},
		Assignments: []grading.Assignment{
			{ID: "a-1", ClassID: "c-1", Title: "Quiz", MaxPoints: 50},
			{ID: "a-2", ClassID: "c-2", Title: "Lab", MaxPoints: 10},
		},
		Submissions: []grading.Submission{
			{ID: "sub-1", AssignmentID: "a-1", StudentID: "s-2", Grade: grade(20), Status: grading.StatusGraded, GradedAt: &gradedAt},
			{ID: "sub-2", AssignmentID: "a-2", StudentID: "s-3", Grade: grade(3), Status: grading.StatusGraded, GradedAt: &gradedAt},
		},
	})
	require.NoError(t, err)
	return store
}

func queryDeps(store *memory.Store) query.Dependencies {
	return query.Dependencies{
		Activity:    store,
		Submissions: store.Submissions(),
		Roster:      store,
		Now:         func() time.Time { return now },
	}
}

func TestDetectInterventionsJob(t *testing.T) {
	store := fixture(t)
	pub := &capturePublisher{}
	cfg := DefaultDetectInterventionsConfig()
	cfg.Enabled = func(id shared.ClassID) bool { return id != "c-2" }

	job := NewDetectInterventionsJob(store, query.NewGetClassInterventionsHandler(queryDeps(store)), pub, nil, cfg)
	job.now = func() time.Time { return now }
	assert.Nil(t, job.LastRunStats())

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, pub.events, 1)
	ev, ok := pub.events[0].(shared.InterventionRaisedEvent)
	require.True(t, ok)
	assert.Equal(t, "c-1", ev.ClassID)
	assert.Equal(t, "s-2", ev.StudentID)
	assert.Equal(t, string(analytics.AlertLowPerformance), ev.AlertType)
	assert.Equal(t, 40.0, ev.AvgGrade)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ClassesChecked)
	assert.Equal(t, 1, stats.ClassesSkipped)
	assert.Equal(t, 2, stats.StudentsEvaluated)
	assert.Equal(t, 1, stats.AlertsByType[string(analytics.AlertLowPerformance)])
}

type partialFinder struct {
	InterventionFinder
	failFor string
}

func (f partialFinder) Handle(ctx context.Context, q query.GetClassInterventionsQuery) (*query.ClassInterventions, error) {
	if q.ClassID == f.failFor {
		return nil, errors.New("store down")
	}
	return f.InterventionFinder.Handle(ctx, q)
}

func TestDetectInterventionsJob_ClassFailureDoesNotStopOthers(t *testing.T) {
	store := fixture(t)
	pub := &capturePublisher{}
	finder := partialFinder{InterventionFinder: query.NewGetClassInterventionsHandler(queryDeps(store)), failFor: "c-1"}

	job := NewDetectInterventionsJob(store, finder, pub, nil, DefaultDetectInterventionsConfig())
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 classes failed")

	require.Len(t, pub.events, 1)
	assert.Equal(t, "s-3", pub.events[0].(shared.InterventionRaisedEvent).StudentID)
	assert.Equal(t, 1, job.LastRunStats().ClassesFailed)
}

func TestWeeklyDigestJob(t *testing.T) {
	store := fixture(t)
	pub := &capturePublisher{}
	job := NewWeeklyDigestJob(store, store, query.NewGetWeeklyDigestHandler(queryDeps(store)), pub, nil, DefaultWeeklyDigestConfig())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, pub.events, 3)

	byStudent := map[string]shared.WeeklyDigestComposedEvent{}
	for _, e := range pub.events {
		ev := e.(shared.WeeklyDigestComposedEvent)
		byStudent[ev.StudentID] = ev
	}
	ada, ok := byStudent["s-1"]
	require.True(t, ok)
	assert.True(t, now.Equal(ada.PeriodEnd))

	var digest analytics.WeeklyDigest
	require.NoError(t, json.Unmarshal(ada.Digest, &digest))
	assert.Equal(t, "Ada", digest.StudentName)
	assert.Equal(t, 2, digest.ActiveDays)
	assert.Equal(t, 1, digest.AssignmentsCompleted)

	stats := job.LastRunStats()
	assert.Equal(t, 2, stats.ClassesChecked)
	assert.Equal(t, 3, stats.DigestsSent)
}

func TestWeeklyDigestJob_SkipInactive(t *testing.T) {
	store := fixture(t)
	pub := &capturePublisher{}
	cfg := DefaultWeeklyDigestConfig()
	cfg.SkipInactive = true
	cfg.Enabled = func(id shared.ClassID) bool { return id == "c-1" }

	job := NewWeeklyDigestJob(store, store, query.NewGetWeeklyDigestHandler(queryDeps(store)), pub, nil, cfg)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "s-1", pub.events[0].(shared.WeeklyDigestComposedEvent).StudentID)
	assert.Equal(t, 1, job.LastRunStats().SkippedIdle)
}
