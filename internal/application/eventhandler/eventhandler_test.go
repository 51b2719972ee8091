package eventhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/retry"
)

var t0 = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

type stubResolver struct {
	teachers  map[string][]notification.RecipientID
	guardians map[string][]notification.RecipientID
}

func (r stubResolver) TeachersOf(_ context.Context, classID, _ string) ([]notification.RecipientID, error) {
	return r.teachers[classID], nil
}

func (r stubResolver) GuardiansOf(_ context.Context, studentID string) ([]notification.RecipientID, error) {
	return r.guardians[studentID], nil
}

type outbox struct {
	mu   sync.Mutex
	sent []*notification.Notification
	fail error
}

func (o *outbox) Notify(_ context.Context, n *notification.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, n)
	return nil
}

type seqIDs struct{ n int }

func (g *seqIDs) GenerateID() string {
	g.n++
	return fmt.Sprintf("n-%d", g.n)
}

// remoteEvent mimics an event rebuilt from the Redis bus.
type remoteEvent struct {
	typ     shared.EventType
	payload map[string]interface{}
}

func (e remoteEvent) EventType() shared.EventType     { return e.typ }
func (e remoteEvent) OccurredAt() time.Time           { return t0 }
func (e remoteEvent) AggregateID() string             { return "" }
func (e remoteEvent) Payload() map[string]interface{} { return e.payload }

func fastRetrier() *retry.Retrier {
	return retry.New(retry.WithMaxAttempts(2), retry.WithInitialDelay(time.Millisecond))
}

func interventionEvent(student, alert, severity string) shared.InterventionRaisedEvent {
	return shared.NewInterventionRaisedEvent("c-1", student, alert, severity, "Average grade is 40.0%", 40, nil, t0)
}

func TestOnInterventionRaised_NotifiesTeacher(t *testing.T) {
	box := &outbox{}
	h := NewOnInterventionRaisedHandler(
		stubResolver{teachers: map[string][]notification.RecipientID{"c-1": {"t-1"}}},
		box, &seqIDs{}, fastRetrier(), nil, DefaultInterventionConfig(),
	)
	h.sender.now = func() time.Time { return t0 }

	require.NoError(t, h.Handle(interventionEvent("s-2", "low_performance", "high")))
	require.Len(t, box.sent, 1)

	n := box.sent[0]
	assert.Equal(t, notification.RecipientID("t-1"), n.RecipientID)
	assert.Equal(t, notification.KindInterventionAlert, n.Kind)
	assert.Equal(t, notification.PriorityHigh, n.Priority)
	assert.Equal(t, "Student needs attention: low performance", n.Title)
	assert.Equal(t, "Average grade is 40.0%", n.Message)
	assert.Equal(t, "40.0", n.Metadata["avg_grade"])
	assert.NotContains(t, n.Metadata, "recent_avg")
}

func TestOnInterventionRaised_Cooldown(t *testing.T) {
	box := &outbox{}
	h := NewOnInterventionRaisedHandler(
		stubResolver{teachers: map[string][]notification.RecipientID{"c-1": {"t-1"}}},
		box, &seqIDs{}, fastRetrier(), nil, InterventionConfig{Cooldown: time.Hour},
	)
	now := t0
	h.sender.now = func() time.Time { return now }

	require.NoError(t, h.Handle(interventionEvent("s-2", "low_performance", "high")))
	require.NoError(t, h.Handle(interventionEvent("s-2", "low_performance", "high")))
	assert.Len(t, box.sent, 1, "repeat within cooldown is suppressed")

	require.NoError(t, h.Handle(interventionEvent("s-2", "negative_trend", "medium")))
	assert.Len(t, box.sent, 2, "a different alert type is not suppressed")
	assert.Equal(t, notification.PriorityNormal, box.sent[1].Priority)

	now = t0.Add(2 * time.Hour)
	require.NoError(t, h.Handle(interventionEvent("s-2", "low_performance", "high")))
	assert.Len(t, box.sent, 3)
}

func TestOnInterventionRaised_FailedDeliveryIsRetriedNextTime(t *testing.T) {
	box := &outbox{fail: shared.ErrNotificationFailed}
	h := NewOnInterventionRaisedHandler(
		stubResolver{teachers: map[string][]notification.RecipientID{"c-1": {"t-1"}}},
		box, &seqIDs{}, fastRetrier(), nil, DefaultInterventionConfig(),
	)

	err := h.Handle(interventionEvent("s-2", "low_performance", "high"))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))

	box.fail = nil
	require.NoError(t, h.Handle(interventionEvent("s-2", "low_performance", "high")))
	assert.Len(t, box.sent, 1)
}

func TestOnInterventionRaised_RemoteEventAndNoTeacher(t *testing.T) {
	box := &outbox{}
	h := NewOnInterventionRaisedHandler(
		stubResolver{teachers: map[string][]notification.RecipientID{"c-1": {"t-1"}}},
		box, &seqIDs{}, fastRetrier(), nil, DefaultInterventionConfig(),
	)

	err := h.Handle(remoteEvent{typ: shared.EventInterventionRaised, payload: map[string]interface{}{
		"class_id": "c-1", "student_id": "s-3", "alert_type": "declining_performance",
		"severity": "medium", "message": "Recent grades dropped", "avg_grade": 72.0, "recent_avg": 61.5,
	}})
	require.NoError(t, err)
	require.Len(t, box.sent, 1)
	assert.Equal(t, "61.5", box.sent[0].Metadata["recent_avg"])

	require.NoError(t, h.Handle(shared.NewInterventionRaisedEvent("c-9", "s-4", "low_performance", "high", "x", 10, nil, t0)))
	assert.Len(t, box.sent, 1, "class without teacher notifies nobody")

	require.NoError(t, h.Handle(shared.NewSessionChangedEvent("sess", "k", false, t0)))
	assert.Len(t, box.sent, 1)
}

func TestOnWeeklyDigestComposed(t *testing.T) {
	box := &outbox{}
	h := NewOnWeeklyDigestComposedHandler(
		stubResolver{guardians: map[string][]notification.RecipientID{"s-1": {"g-1", "g-2"}}},
		box, &seqIDs{}, fastRetrier(), nil,
	)

	avg := 82.5
	digest := analytics.WeeklyDigest{
		StudentID:            "s-1",
		StudentName:          "Ada",
		ActiveDays:           4,
		AssignmentsCompleted: 3,
		AverageGrade:         &avg,
		Streak:               4,
		Achievements:         []string{"Kept a 4-day activity streak"},
		Concerns:             []string{},
		NextSteps:            []string{"Review Motion"},
	}
	raw, err := json.Marshal(digest)
	require.NoError(t, err)

	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)
	require.NoError(t, h.Handle(shared.NewWeeklyDigestComposedEvent("s-1", from, to, raw, 1, 0, to)))

	require.Len(t, box.sent, 2)
	n := box.sent[0]
	assert.Equal(t, notification.KindWeeklyDigest, n.Kind)
	assert.Equal(t, notification.PriorityLow, n.Priority)
	assert.Equal(t, "Ada. Weekly update: Mar 3 - Mar 9", n.Title)
	assert.Contains(t, n.Message, "Average grade: 82.5.")
	assert.Contains(t, n.Message, "- Review Motion")
	assert.NotContains(t, n.Message, "Concerns:")
	assert.Equal(t, notification.RecipientID("g-2"), box.sent[1].RecipientID)
}

func TestOnWeeklyDigestComposed_SummaryOnly(t *testing.T) {
	box := &outbox{}
	h := NewOnWeeklyDigestComposedHandler(
		stubResolver{guardians: map[string][]notification.RecipientID{"s-1": {"g-1"}}},
		box, &seqIDs{}, fastRetrier(), nil,
	)

	err := h.Handle(remoteEvent{typ: shared.EventWeeklyDigestComposed, payload: map[string]interface{}{
		"student_id": "s-1", "period_start": "2026-03-03T00:00:00Z", "period_end": "2026-03-09T18:00:00Z",
		"achievements": 2, "concerns": 1,
	}})
	require.NoError(t, err)
	require.Len(t, box.sent, 1)
	assert.Equal(t, "This week: 2 achievements, 1 things to watch.", box.sent[0].Message)

	require.NoError(t, h.Handle(shared.NewWeeklyDigestComposedEvent("s-nobody", t0, t0, nil, 0, 0, t0)))
	assert.Len(t, box.sent, 1)
}

func TestOnSubmissionGraded(t *testing.T) {
	box := &outbox{}
	h := NewOnSubmissionGradedHandler(box, &seqIDs{}, fastRetrier(), nil)

	require.NoError(t, h.Handle(shared.NewSubmissionGradedEvent("sub-1", "a-1", "s-1", 34, 50, true, t0)))
	require.Len(t, box.sent, 1)
	n := box.sent[0]
	assert.Equal(t, notification.RecipientID("s-1"), n.RecipientID)
	assert.Equal(t, notification.KindGradePosted, n.Kind)
	assert.Equal(t, "You scored 34 out of 50 (68%).", n.Message)
	assert.Equal(t, "true", n.Metadata["from_rubric"])
	assert.Equal(t, notification.NotificationID("n-1"), n.ID)
}

type capturePublisher struct{ events []shared.Event }

func (p *capturePublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func TestSessionChangeForwarder(t *testing.T) {
	pub := &capturePublisher{}
	state := session.NewState("sess-1")
	state.Subscribe(SessionChangeForwarder(pub, func() time.Time { return t0 }, nil))

	state.Apply(session.Change{SessionID: "sess-1", Key: "theme", Value: []byte(`"dark"`)})
	state.Apply(session.Change{SessionID: "sess-1", Key: "theme", Deleted: true})

	require.Len(t, pub.events, 2)
	first := pub.events[0].(shared.SessionChangedEvent)
	assert.Equal(t, "theme", first.Key)
	assert.False(t, first.Deleted)
	assert.True(t, pub.events[1].(shared.SessionChangedEvent).Deleted)
}
