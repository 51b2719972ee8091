// Package eventhandler reacts to domain events by turning them into
// notifications for teachers, guardians and students.
//
// Events may arrive either as the typed values published in-process or
// rebuilt from the Redis bus with only their payload map, so every handler
// reads the payload rather than type-asserting.
package eventhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// IDGenerator produces notification IDs.
type IDGenerator interface {
	GenerateID() string
}

// DefaultHandlerTimeout bounds a single event's handling.
const DefaultHandlerTimeout = 10 * time.Second

// decodePayload copies an event's payload into out through JSON.
func decodePayload(event shared.Event, out any) error {
	raw, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.EventType(), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType(), err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDER
// ══════════════════════════════════════════════════════════════════════════════

// sender builds and dispatches one notification per recipient.
type sender struct {
	notifier notification.Notifier
	ids      IDGenerator
	retrier  *retry.Retrier
	logger   *logger.Logger
	now      func() time.Time
}

func newSender(notifier notification.Notifier, ids IDGenerator, retrier *retry.Retrier, log *logger.Logger) sender {
	if retrier == nil {
		retrier = retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(100*time.Millisecond))
	}
	if log == nil {
		log = logger.Nop()
	}
	return sender{
		notifier: notifier,
		ids:      ids,
		retrier:  retrier,
		logger:   log,
		now:      time.Now,
	}
}

type message struct {
	kind     notification.Kind
	priority *notification.Priority
	title    string
	body     string
	metadata map[string]string
}

// send notifies every recipient. A failed recipient does not stop the
// others; the failures are joined into the returned error.
func (s sender) send(ctx context.Context, recipients []notification.RecipientID, msg message) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, rcpt := range recipients {
		err := s.retrier.Do(ctx, func(ctx context.Context) error {
			n, err := notification.NewNotification(notification.NewNotificationParams{
				ID:          notification.NotificationID(s.ids.GenerateID()),
				Kind:        msg.kind,
				RecipientID: rcpt,
				Title:       msg.title,
				Message:     msg.body,
				Priority:    msg.priority,
				Metadata:    msg.metadata,
				At:          s.now(),
			})
			if err != nil {
				return err
			}
			err = s.notifier.Notify(ctx, n)
			if err != nil && shared.IsRetryable(err) {
				return retry.Transient(err)
			}
			return err
		})
		if err != nil {
			s.logger.Warn("notification not sent",
				logger.String("recipient_id", string(rcpt)),
				logger.String("kind", string(msg.kind)),
				logger.Err(err),
			)
			errs = append(errs, fmt.Errorf("recipient %s: %w", rcpt, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func priorityFor(severity string) *notification.Priority {
	p := notification.PriorityNormal
	if severity == "high" {
		p = notification.PriorityHigh
	}
	return &p
}
