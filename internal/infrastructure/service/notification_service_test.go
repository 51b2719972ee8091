package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

type recordingPublisher struct {
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

var fixedNow = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

func newTestNotification(t *testing.T) *notification.Notification {
	t.Helper()
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:          "n-1",
		Kind:        notification.KindInterventionAlert,
		RecipientID: "teacher-1",
		Title:       "Student needs attention",
		Message:     "Average below 60%",
		At:          fixedNow,
	})
	require.NoError(t, err)
	return n
}

func TestBusNotifier_PublishesRequestedEvent(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := NewBusNotifier(pub, logger.Nop())
	notifier.now = func() time.Time { return fixedNow }

	n := newTestNotification(t)
	require.NoError(t, notifier.Notify(context.Background(), n))

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, shared.EventNotificationRequested, ev.EventType())
	assert.Equal(t, "teacher-1", ev.AggregateID())
	assert.Equal(t, "high", ev.Payload()["priority"])
	assert.Equal(t, "Average below 60%", ev.Payload()["body"])
	assert.Equal(t, notification.StatusDispatched, n.Status)
}

func TestBusNotifier_PublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	notifier := NewBusNotifier(pub, nil)

	n := newTestNotification(t)
	err := notifier.Notify(context.Background(), n)

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, "bus down", n.LastError)
}

func TestBusNotifier_CanceledContext(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := NewBusNotifier(pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, notifier.Notify(ctx, newTestNotification(t)), context.Canceled)
	assert.Empty(t, pub.events)
}

func TestLogDeliveryHandler(t *testing.T) {
	h := LogDeliveryHandler(logger.Nop())
	ev := shared.NewNotificationRequestedEvent("n-1", "p-1", "weekly_digest", "low", "Weekly digest", "body", fixedNow)
	assert.NoError(t, h(ev))
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator()
	a, b := g.GenerateID(), g.GenerateID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENT RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

type stubRoster struct {
	roster.Repository
	classes  map[shared.ClassID]*roster.Class
	students map[shared.StudentID]*roster.Student
	err      error
}

func (s *stubRoster) GetClass(_ context.Context, id shared.ClassID) (*roster.Class, error) {
	if s.err != nil {
		return nil, s.err
	}
	if c, ok := s.classes[id]; ok {
		return c, nil
	}
	return nil, shared.ErrClassNotFound
}

func (s *stubRoster) GetStudent(_ context.Context, id shared.StudentID) (*roster.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	if st, ok := s.students[id]; ok {
		return st, nil
	}
	return nil, shared.ErrStudentNotFound
}

func TestRosterRecipientResolver(t *testing.T) {
	repo := &stubRoster{
		classes: map[shared.ClassID]*roster.Class{
			"c-1": {ID: "c-1", TeacherID: "t-1"},
			"c-2": {ID: "c-2"},
		},
		students: map[shared.StudentID]*roster.Student{
			"s-1": {ID: "s-1", GuardianIDs: []string{"p-1", "", "p-2"}},
		},
	}
	r := NewRosterRecipientResolver(repo)
	ctx := context.Background()

	teachers, err := r.TeachersOf(ctx, "c-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, []notification.RecipientID{"t-1"}, teachers)

	teachers, err = r.TeachersOf(ctx, "c-2", "s-1")
	require.NoError(t, err)
	assert.Empty(t, teachers)

	teachers, err = r.TeachersOf(ctx, "missing", "s-1")
	require.NoError(t, err)
	assert.Empty(t, teachers)

	guardians, err := r.GuardiansOf(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []notification.RecipientID{"p-1", "p-2"}, guardians)

	guardians, err = r.GuardiansOf(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, guardians)

	repo.err = errors.New("db down")
	_, err = r.GuardiansOf(ctx, "s-1")
	assert.Error(t, err)
}
