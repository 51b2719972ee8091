package shared

import (
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// StudentID identifies a student.
type StudentID string

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// IsEmpty checks if the ID is empty.
func (s StudentID) IsEmpty() bool {
	return strings.TrimSpace(string(s)) == ""
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if sid.IsEmpty() {
		return "", NewDomainError("shared", "NewStudentID", ErrInvalidID, "student ID is empty")
	}
	return sid, nil
}

// ClassID identifies a class (course section).
type ClassID string

// String returns the string representation.
func (c ClassID) String() string {
	return string(c)
}

// NewClassID creates a new ClassID with validation.
func NewClassID(id string) (ClassID, error) {
	cid := ClassID(strings.TrimSpace(id))
	if cid == "" {
		return "", NewDomainError("shared", "NewClassID", ErrInvalidID, "class ID is empty")
	}
	return cid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a closed time period.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range, bounds included.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && !tm.After(t.To)
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}
