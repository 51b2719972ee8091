// Package notification models messages sent to teachers and parents about
// student progress. Delivery itself is an outside concern behind Notifier.
package notification

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for notification package.
var (
	ErrInvalidNotificationID   = errors.New("notification: invalid ID")
	ErrInvalidKind             = errors.New("notification: invalid kind")
	ErrInvalidRecipientID      = errors.New("notification: invalid recipient ID")
	ErrEmptyMessage            = errors.New("notification: message cannot be empty")
	ErrInvalidStatusTransition = errors.New("notification: invalid status transition")
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID uniquely identifies a notification.
type NotificationID string

// IsValid checks that the ID is not empty.
func (id NotificationID) IsValid() bool {
	return len(id) > 0
}

// RecipientID is the teacher, parent or student receiving a notification.
type RecipientID string

// IsValid checks that the recipient ID is not empty.
func (id RecipientID) IsValid() bool {
	return len(id) > 0
}

// Kind says what the notification is about.
type Kind string

const (
	// KindInterventionAlert tells a teacher a student needs attention.
	KindInterventionAlert Kind = "intervention_alert"

	// KindWeeklyDigest is the parent-facing weekly summary.
	KindWeeklyDigest Kind = "weekly_digest"

	// KindGradePosted tells a student a submission was graded.
	KindGradePosted Kind = "grade_posted"
)

// IsValid checks the kind against the known values.
func (k Kind) IsValid() bool {
	switch k {
	case KindInterventionAlert, KindWeeklyDigest, KindGradePosted:
		return true
	}
	return false
}

// DefaultPriority returns the priority used when none is given.
func (k Kind) DefaultPriority() Priority {
	switch k {
	case KindInterventionAlert:
		return PriorityHigh
	case KindWeeklyDigest:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY & STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Priority orders notifications for delivery.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// IsValid checks the priority range.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Status is the dispatch state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification is a message addressed to one recipient.
type Notification struct {
	ID          NotificationID    `json:"id"`
	Kind        Kind              `json:"kind"`
	RecipientID RecipientID       `json:"recipient_id"`
	Priority    Priority          `json:"priority"`
	Status      Status            `json:"status"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewNotificationParams holds the inputs for NewNotification.
type NewNotificationParams struct {
	ID          NotificationID
	Kind        Kind
	RecipientID RecipientID
	Title       string
	Message     string
	Priority    *Priority
	Metadata    map[string]string
	At          time.Time
}

// NewNotification creates a validated pending notification.
func NewNotification(params NewNotificationParams) (*Notification, error) {
	if !params.ID.IsValid() {
		return nil, ErrInvalidNotificationID
	}
	if !params.Kind.IsValid() {
		return nil, ErrInvalidKind
	}
	if !params.RecipientID.IsValid() {
		return nil, ErrInvalidRecipientID
	}
	if params.Message == "" {
		return nil, ErrEmptyMessage
	}

	priority := params.Kind.DefaultPriority()
	if params.Priority != nil && params.Priority.IsValid() {
		priority = *params.Priority
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	return &Notification{
		ID:          params.ID,
		Kind:        params.Kind,
		RecipientID: params.RecipientID,
		Priority:    priority,
		Status:      StatusPending,
		Title:       params.Title,
		Message:     params.Message,
		Metadata:    metadata,
		CreatedAt:   params.At,
		UpdatedAt:   params.At,
	}, nil
}

// MarkDispatched records a successful hand-off to the transport.
func (n *Notification) MarkDispatched(at time.Time) error {
	if n.Status != StatusPending {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusDispatched
	n.UpdatedAt = at
	return nil
}

// MarkFailed records a failed hand-off.
func (n *Notification) MarkFailed(err error, at time.Time) error {
	if n.Status != StatusPending {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusFailed
	if err != nil {
		n.LastError = err.Error()
	}
	n.UpdatedAt = at
	return nil
}

func (n *Notification) String() string {
	return fmt.Sprintf("Notification{id=%s, kind=%s, recipient=%s, status=%s}",
		n.ID, n.Kind, n.RecipientID, n.Status)
}
