package eventhandler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INTERVENTION RAISED HANDLER
// Tells the class teacher that a student needs attention. The detection
// job runs on an interval, so the same alert would otherwise repeat on
// every run; a per-student cooldown keeps teachers from being flooded.
// ═══════════════════════════════════════════════════════════════════════════

// InterventionConfig configures OnInterventionRaisedHandler.
type InterventionConfig struct {
	// Cooldown is the minimum gap between two notifications for the same
	// student and alert type.
	Cooldown time.Duration

	// Timeout bounds one event.
	Timeout time.Duration
}

// DefaultInterventionConfig returns the defaults.
func DefaultInterventionConfig() InterventionConfig {
	return InterventionConfig{
		Cooldown: 24 * time.Hour,
		Timeout:  DefaultHandlerTimeout,
	}
}

type interventionPayload struct {
	ClassID   string   `json:"class_id"`
	StudentID string   `json:"student_id"`
	AlertType string   `json:"alert_type"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	AvgGrade  float64  `json:"avg_grade"`
	RecentAvg *float64 `json:"recent_avg"`
}

// OnInterventionRaisedHandler notifies teachers about intervention alerts.
type OnInterventionRaisedHandler struct {
	resolver notification.RecipientResolver
	sender   sender
	logger   *logger.Logger
	config   InterventionConfig

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewOnInterventionRaisedHandler creates the handler.
func NewOnInterventionRaisedHandler(
	resolver notification.RecipientResolver,
	notifier notification.Notifier,
	ids IDGenerator,
	retrier *retry.Retrier,
	log *logger.Logger,
	config InterventionConfig,
) *OnInterventionRaisedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHandlerTimeout
	}
	log = log.With(logger.Component("on_intervention_raised"))
	return &OnInterventionRaisedHandler{
		resolver: resolver,
		sender:   newSender(notifier, ids, retrier, log),
		logger:   log,
		config:   config,
		lastSent: make(map[string]time.Time),
	}
}

// Handle implements shared.EventHandler.
func (h *OnInterventionRaisedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()
	return h.HandleContext(ctx, event)
}

// HandleContext processes one InterventionRaised event.
func (h *OnInterventionRaisedHandler) HandleContext(ctx context.Context, event shared.Event) error {
	if event.EventType() != shared.EventInterventionRaised {
		return nil
	}

	var p interventionPayload
	if err := decodePayload(event, &p); err != nil {
		return err
	}
	if p.StudentID == "" {
		h.logger.Warn("intervention event without student", logger.String("aggregate_id", event.AggregateID()))
		return nil
	}

	key := p.StudentID + "|" + p.AlertType
	at := h.sender.now()
	if h.coolingDown(key, at) {
		h.logger.Debug("intervention alert suppressed by cooldown",
			logger.StudentID(p.StudentID),
			logger.String("alert_type", p.AlertType),
		)
		return nil
	}

	teachers, err := h.resolver.TeachersOf(ctx, p.ClassID, p.StudentID)
	if err != nil {
		return fmt.Errorf("resolve teachers of %s: %w", p.ClassID, err)
	}
	if len(teachers) == 0 {
		h.logger.Info("no teacher to notify", logger.ClassID(p.ClassID), logger.StudentID(p.StudentID))
		return nil
	}

	metadata := map[string]string{
		"class_id":   p.ClassID,
		"student_id": p.StudentID,
		"alert_type": p.AlertType,
		"severity":   p.Severity,
		"avg_grade":  fmt.Sprintf("%.1f", p.AvgGrade),
	}
	if p.RecentAvg != nil {
		metadata["recent_avg"] = fmt.Sprintf("%.1f", *p.RecentAvg)
	}

	sent, err := h.sender.send(ctx, teachers, message{
		kind:     notification.KindInterventionAlert,
		priority: priorityFor(p.Severity),
		title:    interventionTitle(p.AlertType),
		body:     p.Message,
		metadata: metadata,
	})
	if sent > 0 {
		h.markSent(key, at)
	}

	h.logger.Info("intervention alert dispatched",
		logger.ClassID(p.ClassID),
		logger.StudentID(p.StudentID),
		logger.String("alert_type", p.AlertType),
		logger.Int("recipients", sent),
	)
	return err
}

func (h *OnInterventionRaisedHandler) coolingDown(key string, at time.Time) bool {
	if h.config.Cooldown <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastSent[key]
	return ok && at.Sub(last) < h.config.Cooldown
}

func (h *OnInterventionRaisedHandler) markSent(key string, at time.Time) {
	h.mu.Lock()
	h.lastSent[key] = at
	h.mu.Unlock()
}

func interventionTitle(alertType string) string {
	if alertType == "" {
		return "Student needs attention"
	}
	return "Student needs attention: " + strings.ReplaceAll(alertType, "_", " ")
}
