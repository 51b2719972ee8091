package query

import (
	"context"
	"time"

	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// GetWeeklyDigestQuery asks for the parent-facing digest of one student.
type GetWeeklyDigestQuery struct {
	StudentID string `json:"student_id" validate:"required"`

	// At is the last instant of the digest window. Zero means now.
	At time.Time `json:"at"`
}

// GetWeeklyDigestHandler composes weekly digests.
type GetWeeklyDigestHandler struct {
	deps Dependencies
}

// NewGetWeeklyDigestHandler creates a handler.
func NewGetWeeklyDigestHandler(deps Dependencies) *GetWeeklyDigestHandler {
	return &GetWeeklyDigestHandler{deps: deps.withDefaults()}
}

// Handle composes the digest for the seven days ending at q.At. The whole
// history is loaded because the streak is not bounded by the window.
func (h *GetWeeklyDigestHandler) Handle(ctx context.Context, q GetWeeklyDigestQuery) (*analytics.WeeklyDigest, error) {
	if err := validate("GetWeeklyDigest", q); err != nil {
		return nil, err
	}
	id := shared.StudentID(q.StudentID)

	st, err := h.deps.student(ctx, id)
	if err != nil {
		return nil, storeError("GetWeeklyDigest", err)
	}

	records, err := h.deps.studentRecords(ctx, id)
	if err != nil {
		return nil, storeError("GetWeeklyDigest", err)
	}

	digest := analytics.ComposeWeeklyDigest(analytics.DigestInput{
		StudentID:   id,
		StudentName: st.Name,
		Records:     records,
		Now:         h.deps.at(q.At),
		Catalog:     h.deps.Catalog,
	})
	return &digest, nil
}
