package eventhandler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

type gradedPayload struct {
	SubmissionID string  `json:"submission_id"`
	AssignmentID string  `json:"assignment_id"`
	StudentID    string  `json:"student_id"`
	Grade        float64 `json:"grade"`
	MaxPoints    float64 `json:"max_points"`
	FromRubric   bool    `json:"from_rubric"`
}

// OnSubmissionGradedHandler tells the student their work was graded.
type OnSubmissionGradedHandler struct {
	sender  sender
	logger  *logger.Logger
	timeout time.Duration
}

// NewOnSubmissionGradedHandler creates the handler.
func NewOnSubmissionGradedHandler(notifier notification.Notifier, ids IDGenerator, retrier *retry.Retrier, log *logger.Logger) *OnSubmissionGradedHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("on_submission_graded"))
	return &OnSubmissionGradedHandler{
		sender:  newSender(notifier, ids, retrier, log),
		logger:  log,
		timeout: DefaultHandlerTimeout,
	}
}

// Handle implements shared.EventHandler.
func (h *OnSubmissionGradedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.HandleContext(ctx, event)
}

// HandleContext processes one SubmissionGraded event.
func (h *OnSubmissionGradedHandler) HandleContext(ctx context.Context, event shared.Event) error {
	if event.EventType() != shared.EventSubmissionGraded {
		return nil
	}

	var p gradedPayload
	if err := decodePayload(event, &p); err != nil {
		return err
	}
	if p.StudentID == "" {
		return nil
	}

	body := fmt.Sprintf("You scored %s out of %s.", formatPoints(p.Grade), formatPoints(p.MaxPoints))
	if p.MaxPoints > 0 {
		body = fmt.Sprintf("You scored %s out of %s (%.0f%%).", formatPoints(p.Grade), formatPoints(p.MaxPoints), p.Grade/p.MaxPoints*100)
	}

	_, err := h.sender.send(ctx, []notification.RecipientID{notification.RecipientID(p.StudentID)}, message{
		kind:  notification.KindGradePosted,
		title: "Your submission was graded",
		body:  body,
		metadata: map[string]string{
			"submission_id": p.SubmissionID,
			"assignment_id": p.AssignmentID,
			"from_rubric":   strconv.FormatBool(p.FromRubric),
		},
	})
	if err == nil {
		h.logger.Debug("grade notification sent", logger.SubmissionID(p.SubmissionID))
	}
	return err
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
