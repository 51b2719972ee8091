// Package service holds infrastructure adapters that implement domain
// ports: notification dispatch over the event bus, recipient lookup from
// the roster, and ID generation.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

// IDGenerator produces random UUID strings.
type IDGenerator struct{}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

func (g *IDGenerator) GenerateID() string {
	return uuid.New().String()
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// BusNotifier implements notification.Notifier by publishing a
// NotificationRequestedEvent. Subscribers on the bus do the delivery.
type BusNotifier struct {
	bus    shared.EventPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewBusNotifier creates a notifier publishing to bus.
func NewBusNotifier(bus shared.EventPublisher, log *logger.Logger) *BusNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &BusNotifier{
		bus:    bus,
		logger: log.With(logger.Component("notifier")),
		now:    time.Now,
	}
}

// Notify publishes n and records the outcome on it.
func (s *BusNotifier) Notify(ctx context.Context, n *notification.Notification) error {
	if n == nil {
		return fmt.Errorf("notify: nil notification")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := shared.NewNotificationRequestedEvent(
		string(n.ID),
		string(n.RecipientID),
		string(n.Kind),
		n.Priority.String(),
		n.Title,
		n.Message,
		s.now(),
	)

	if err := s.bus.Publish(event); err != nil {
		_ = n.MarkFailed(err, s.now())
		s.logger.Error("notification dispatch failed",
			logger.String("notification_id", string(n.ID)),
			logger.String("recipient_id", string(n.RecipientID)),
			logger.Err(err),
		)
		return shared.WrapError("notification", "Send", shared.ErrServiceUnavailable, "failed to dispatch notification", err)
	}

	_ = n.MarkDispatched(s.now())
	s.logger.Debug("notification dispatched",
		logger.String("notification_id", string(n.ID)),
		logger.String("kind", string(n.Kind)),
	)
	return nil
}

// LogDeliveryHandler is the default delivery subscriber. It writes each
// requested notification to the log; real transports subscribe the same way.
func LogDeliveryHandler(log *logger.Logger) shared.EventHandler {
	log = log.With(logger.Component("notification_delivery"))
	return func(event shared.Event) error {
		p := event.Payload()
		log.Info("notification delivered",
			logger.Any("notification_id", p["notification_id"]),
			logger.Any("recipient_id", p["recipient_id"]),
			logger.Any("kind", p["kind"]),
			logger.Any("priority", p["priority"]),
			logger.Any("title", p["title"]),
		)
		return nil
	}
}
