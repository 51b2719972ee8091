package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Grading events
	EventSubmissionGraded EventType = "grading.submission_graded"

	// Analytics events
	EventInterventionRaised   EventType = "analytics.intervention_raised"
	EventWeeklyDigestComposed EventType = "analytics.weekly_digest_composed"

	// Notification events
	EventNotificationRequested EventType = "notification.requested"
	EventNotificationFailed    EventType = "notification.failed"

	// Session events
	EventSessionChanged EventType = "session.changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at "at".
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Grading Events
// ═══════════════════════════════════════════════════════════════════════════

// SubmissionGradedEvent is emitted after a computed or manual grade is persisted.
type SubmissionGradedEvent struct {
	BaseEvent
	SubmissionID string  `json:"submission_id"`
	AssignmentID string  `json:"assignment_id"`
	StudentID    string  `json:"student_id"`
	Grade        float64 `json:"grade"`
	MaxPoints    float64 `json:"max_points"`
	FromRubric   bool    `json:"from_rubric"`
}

// Payload implements Event interface.
func (e SubmissionGradedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"submission_id": e.SubmissionID,
		"assignment_id": e.AssignmentID,
		"student_id":    e.StudentID,
		"grade":         e.Grade,
		"max_points":    e.MaxPoints,
		"from_rubric":   e.FromRubric,
	}
}

// NewSubmissionGradedEvent creates a new SubmissionGradedEvent.
func NewSubmissionGradedEvent(submissionID, assignmentID, studentID string, grade, maxPoints float64, fromRubric bool, at time.Time) SubmissionGradedEvent {
	return SubmissionGradedEvent{
		BaseEvent:    NewBaseEvent(EventSubmissionGraded, submissionID, at),
		SubmissionID: submissionID,
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Grade:        grade,
		MaxPoints:    maxPoints,
		FromRubric:   fromRubric,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Analytics Events
// ═══════════════════════════════════════════════════════════════════════════

// InterventionRaisedEvent carries one intervention alert for a student.
type InterventionRaisedEvent struct {
	BaseEvent
	ClassID   string   `json:"class_id"`
	StudentID string   `json:"student_id"`
	AlertType string   `json:"alert_type"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	AvgGrade  float64  `json:"avg_grade"`
	RecentAvg *float64 `json:"recent_avg,omitempty"`
}

// Payload implements Event interface.
func (e InterventionRaisedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"class_id":   e.ClassID,
		"student_id": e.StudentID,
		"alert_type": e.AlertType,
		"severity":   e.Severity,
		"message":    e.Message,
		"avg_grade":  e.AvgGrade,
	}
	if e.RecentAvg != nil {
		p["recent_avg"] = *e.RecentAvg
	}
	return p
}

// NewInterventionRaisedEvent creates a new InterventionRaisedEvent.
func NewInterventionRaisedEvent(classID, studentID, alertType, severity, message string, avg float64, recent *float64, at time.Time) InterventionRaisedEvent {
	return InterventionRaisedEvent{
		BaseEvent: NewBaseEvent(EventInterventionRaised, studentID, at),
		ClassID:   classID,
		StudentID: studentID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		AvgGrade:  avg,
		RecentAvg: recent,
	}
}

// WeeklyDigestComposedEvent is emitted once a student's digest is ready.
type WeeklyDigestComposedEvent struct {
	BaseEvent
	StudentID    string          `json:"student_id"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	Digest       json.RawMessage `json:"digest"`
	Achievements int             `json:"achievements"`
	Concerns     int             `json:"concerns"`
}

// Payload implements Event interface.
func (e WeeklyDigestComposedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"student_id":   e.StudentID,
		"period_start": e.PeriodStart.Format(time.RFC3339),
		"period_end":   e.PeriodEnd.Format(time.RFC3339),
		"achievements": e.Achievements,
		"concerns":     e.Concerns,
	}
	if len(e.Digest) > 0 {
		p["digest"] = e.Digest
	}
	return p
}

// NewWeeklyDigestComposedEvent creates a new WeeklyDigestComposedEvent.
func NewWeeklyDigestComposedEvent(studentID string, from, to time.Time, digest json.RawMessage, achievements, concerns int, at time.Time) WeeklyDigestComposedEvent {
	return WeeklyDigestComposedEvent{
		BaseEvent:    NewBaseEvent(EventWeeklyDigestComposed, studentID, at),
		StudentID:    studentID,
		PeriodStart:  from,
		PeriodEnd:    to,
		Digest:       digest,
		Achievements: achievements,
		Concerns:     concerns,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Notification Events
// ═══════════════════════════════════════════════════════════════════════════

// NotificationRequestedEvent asks subscribers to deliver a message.
type NotificationRequestedEvent struct {
	BaseEvent
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Kind           string `json:"kind"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// Payload implements Event interface.
func (e NotificationRequestedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notification_id": e.NotificationID,
		"recipient_id":    e.RecipientID,
		"kind":            e.Kind,
		"priority":        e.Priority,
		"title":           e.Title,
		"body":            e.Body,
	}
}

// NewNotificationRequestedEvent creates a new NotificationRequestedEvent.
func NewNotificationRequestedEvent(id, recipientID, kind, priority, title, body string, at time.Time) NotificationRequestedEvent {
	return NotificationRequestedEvent{
		BaseEvent:      NewBaseEvent(EventNotificationRequested, recipientID, at),
		NotificationID: id,
		RecipientID:    recipientID,
		Kind:           kind,
		Priority:       priority,
		Title:          title,
		Body:           body,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionChangedEvent reports a write to a session key.
type SessionChangedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Deleted   bool   `json:"deleted"`
}

// Payload implements Event interface.
func (e SessionChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"key":        e.Key,
		"deleted":    e.Deleted,
	}
}

// NewSessionChangedEvent creates a new SessionChangedEvent.
func NewSessionChangedEvent(sessionID, key string, deleted bool, at time.Time) SessionChangedEvent {
	return SessionChangedEvent{
		BaseEvent: NewBaseEvent(EventSessionChanged, sessionID, at),
		SessionID: sessionID,
		Key:       key,
		Deleted:   deleted,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
