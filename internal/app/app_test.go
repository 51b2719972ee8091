package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
)

func writeSnapshot(t *testing.T) string {
	t.Helper()
	snap := memory.Snapshot{
		Classes: []roster.Class{{ID: "c-1", Name: "Chemistry", TeacherID: "t-1", Verified: true}},
		Students: []memory.EnrolledStudent{
			{Student: roster.Student{ID: "s-1", ClassID: "c-1", Name: "Ada"}},
		},
		Assignments: []grading.Assignment{{ID: "a-1", ClassID: "c-1", Title: "Lab", MaxPoints: 10}},
		Submissions: []grading.Submission{{ID: "sub-1", AssignmentID: "a-1", StudentID: "s-1", Status: grading.StatusSubmitted}},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func testConfig(snapshot string) *config.Config {
	return &config.Config{
		App:       config.AppConfig{Version: "test", Location: time.UTC},
		Database:  config.DatabaseConfig{SnapshotPath: snapshot},
		Redis:     config.RedisConfig{Disabled: true},
		Analytics: config.AnalyticsConfig{FanOutConcurrency: 2, TopSubjects: 3},
		Features:  config.NewFeatureFlags(),
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []shared.Event
}

func (s *eventSink) handle(e shared.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNew_MemoryBackends(t *testing.T) {
	a, err := New(context.Background(), testConfig(writeSnapshot(t)), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "memory", a.Storage.Backend)
	assert.False(t, a.Distributed)

	metrics, err := a.Queries.ClassMetrics.Handle(context.Background(), query.GetClassMetricsQuery{ClassID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.StudentCount)

	assert.True(t, a.Health.Check(context.Background()).Healthy)
}

func TestNew_BadSnapshot(t *testing.T) {
	_, err := New(context.Background(), testConfig(filepath.Join(t.TempDir(), "missing.json")), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load snapshot")
}

func TestGradeFlowsToDelivery(t *testing.T) {
	a, err := New(context.Background(), testConfig(writeSnapshot(t)), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Subscribe(Subscriptions{GradeNotices: true, Delivery: true}))
	sink := &eventSink{}
	require.NoError(t, a.Bus.Subscribe(shared.EventNotificationRequested, sink.handle))

	manual := 7.0
	res, err := a.Commands.GradeSubmission.Handle(context.Background(), command.GradeSubmissionCommand{
		SubmissionID: "sub-1",
		ManualGrade:  &manual,
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Grade)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionChangesArePublished(t *testing.T) {
	a, err := New(context.Background(), testConfig(""), nil)
	require.NoError(t, err)
	defer a.Close()

	sink := &eventSink{}
	require.NoError(t, a.Bus.Subscribe(shared.EventSessionChanged, sink.handle))

	repo, err := a.Sessions.Open(context.Background(), "sess-1")
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Set(context.Background(), "theme", []byte(`"dark"`)))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSyncFlagOff(t *testing.T) {
	cfg := testConfig("")
	require.NoError(t, cfg.Features.DisableFeature(config.FeatureSessionSync))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, forwarding := a.Sessions.(forwardingStore)
	assert.False(t, forwarding)
}

func TestDemoJitterGate(t *testing.T) {
	cfg := testConfig("")
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	jitter := a.demoJitter(42)
	assert.Nil(t, jitter("c-1"))

	cfg.Features.SetClassOverride("c-1", config.FeatureHeatmapDemoJitter, true)
	r1, r2 := jitter("c-1"), jitter("c-1")
	require.NotNil(t, r1)
	assert.Equal(t, r1.Int63(), r2.Int63(), "a fixed seed is reproducible")
}
