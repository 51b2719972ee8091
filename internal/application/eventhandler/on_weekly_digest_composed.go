package eventhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON WEEKLY DIGEST COMPOSED HANDLER
// Sends the composed digest to the student's guardians.
// ═══════════════════════════════════════════════════════════════════════════

type digestPayload struct {
	StudentID    string          `json:"student_id"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	Achievements int             `json:"achievements"`
	Concerns     int             `json:"concerns"`
	Digest       json.RawMessage `json:"digest"`
}

// OnWeeklyDigestComposedHandler delivers weekly digests to guardians.
type OnWeeklyDigestComposedHandler struct {
	resolver notification.RecipientResolver
	sender   sender
	logger   *logger.Logger
	timeout  time.Duration
}

// NewOnWeeklyDigestComposedHandler creates the handler.
func NewOnWeeklyDigestComposedHandler(
	resolver notification.RecipientResolver,
	notifier notification.Notifier,
	ids IDGenerator,
	retrier *retry.Retrier,
	log *logger.Logger,
) *OnWeeklyDigestComposedHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("on_weekly_digest_composed"))
	return &OnWeeklyDigestComposedHandler{
		resolver: resolver,
		sender:   newSender(notifier, ids, retrier, log),
		logger:   log,
		timeout:  DefaultHandlerTimeout,
	}
}

// Handle implements shared.EventHandler.
func (h *OnWeeklyDigestComposedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.HandleContext(ctx, event)
}

// HandleContext processes one WeeklyDigestComposed event.
func (h *OnWeeklyDigestComposedHandler) HandleContext(ctx context.Context, event shared.Event) error {
	if event.EventType() != shared.EventWeeklyDigestComposed {
		return nil
	}

	var p digestPayload
	if err := decodePayload(event, &p); err != nil {
		return err
	}
	if p.StudentID == "" {
		return nil
	}

	guardians, err := h.resolver.GuardiansOf(ctx, p.StudentID)
	if err != nil {
		return fmt.Errorf("resolve guardians of %s: %w", p.StudentID, err)
	}
	if len(guardians) == 0 {
		h.logger.Debug("student has no guardians", logger.StudentID(p.StudentID))
		return nil
	}

	var digest *analytics.WeeklyDigest
	if len(p.Digest) > 0 {
		var d analytics.WeeklyDigest
		if err := json.Unmarshal(p.Digest, &d); err != nil {
			h.logger.Warn("undecodable digest body, sending summary only", logger.StudentID(p.StudentID), logger.Err(err))
		} else {
			digest = &d
		}
	}

	title := fmt.Sprintf("Weekly update: %s - %s", p.PeriodStart.Format("Jan 2"), p.PeriodEnd.Format("Jan 2"))
	if digest != nil && digest.StudentName != "" {
		title = digest.StudentName + ". " + title
	}

	sent, err := h.sender.send(ctx, guardians, message{
		kind:  notification.KindWeeklyDigest,
		title: title,
		body:  RenderDigest(digest, p.Achievements, p.Concerns),
		metadata: map[string]string{
			"student_id":   p.StudentID,
			"period_start": p.PeriodStart.Format(time.RFC3339),
			"period_end":   p.PeriodEnd.Format(time.RFC3339),
		},
	})

	h.logger.Info("weekly digest delivered",
		logger.StudentID(p.StudentID),
		logger.Int("recipients", sent),
	)
	return err
}

// RenderDigest formats a digest as plain text. With no digest body only
// the counts are shown.
func RenderDigest(d *analytics.WeeklyDigest, achievements, concerns int) string {
	if d == nil {
		return fmt.Sprintf("This week: %d achievements, %d things to watch.", achievements, concerns)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active days: %d. Assignments completed: %d.", d.ActiveDays, d.AssignmentsCompleted)
	if d.AverageGrade != nil {
		fmt.Fprintf(&b, " Average grade: %.1f.", *d.AverageGrade)
	}
	if d.Streak > 0 {
		fmt.Fprintf(&b, " Current streak: %d days.", d.Streak)
	}
	section := func(name string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n\n%s:", name)
		for _, l := range lines {
			b.WriteString("\n- " + l)
		}
	}
	section("Achievements", d.Achievements)
	section("Concerns", d.Concerns)
	section("Next steps", d.NextSteps)
	return b.String()
}
