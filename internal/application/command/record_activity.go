package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
	"github.com/classpulse/classpulse/pkg/validation"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Appends platform activity (messages, submissions, study sessions) so the
// analytics queries can see it.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data for one activity record.
type RecordActivityCommand struct {
	// ID is optional; a UUID is generated when empty.
	ID           string    `json:"id,omitempty"`
	StudentID    string    `json:"student_id" validate:"required"`
	ClassID      string    `json:"class_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	Type         string    `json:"type" validate:"required,oneof=message_sent assignment_submitted session_active other"`
	Timestamp    time.Time `json:"timestamp"`
	Subject      string    `json:"subject,omitempty" validate:"max=200"`
	Topic        string    `json:"topic,omitempty" validate:"max=200"`
	Grade        *float64  `json:"grade,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// toRecord converts the command, defaulting ID and timestamp.
func (c RecordActivityCommand) toRecord(now time.Time) activity.Record {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return activity.Record{
		ID:           id,
		StudentID:    shared.StudentID(c.StudentID),
		ClassID:      shared.ClassID(c.ClassID),
		AssignmentID: c.AssignmentID,
		Type:         activity.Type(c.Type),
		Timestamp:    ts,
		Metadata: activity.Metadata{
			Subject: c.Subject,
			Topic:   c.Topic,
			Grade:   c.Grade,
		},
	}
}

// RecordActivityHandler appends records through an activity.Writer.
type RecordActivityHandler struct {
	writer  activity.Writer
	retrier *retry.Retrier
	logger  *logger.Logger
	now     func() time.Time
}

// NewRecordActivityHandler creates a new handler.
func NewRecordActivityHandler(writer activity.Writer, retrier *retry.Retrier, log *logger.Logger) *RecordActivityHandler {
	if retrier == nil {
		retrier = retry.StoreRetrier()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordActivityHandler{
		writer:  writer,
		retrier: retrier,
		logger:  log.With(logger.Component("record_activity")),
		now:     time.Now,
	}
}

// Handle validates every command and appends them in one call. Nothing is
// written when any command is invalid. The stored records are returned.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmds ...RecordActivityCommand) ([]activity.Record, error) {
	const op = "RecordActivity"

	if len(cmds) == 0 {
		return nil, shared.NewDomainError("command", op, shared.ErrEmptyValue, "no activity given")
	}

	now := h.now()
	records := make([]activity.Record, 0, len(cmds))
	for _, cmd := range cmds {
		if err := validation.Struct(cmd); err != nil {
			return nil, shared.WrapError("command", op, shared.ErrValidation, "invalid activity", err)
		}
		rec := cmd.toRecord(now)
		if err := rec.Validate(); err != nil {
			return nil, shared.WrapError("command", op, shared.ErrValidation, "invalid activity", err)
		}
		records = append(records, rec)
	}

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.writer.Append(ctx, records...)
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}

	h.logger.Debug("activity recorded", logger.RecordCount(len(records)))
	return records, nil
}
