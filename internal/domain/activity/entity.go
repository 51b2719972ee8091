// Package activity contains the immutable activity records produced by the
// platform: messages, submissions and study sessions. Records are read-only
// inputs to the analytics engine.
// This is a pure domain layer with zero external dependencies.
package activity

import (
	"errors"
	"sort"
	"time"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// Domain errors for activity package.
var (
	ErrInvalidStudentID = errors.New("activity: invalid student ID")
	ErrInvalidType      = errors.New("activity: invalid record type")
	ErrZeroTimestamp    = errors.New("activity: timestamp is required")
)

// Type enumerates what a record describes.
type Type string

const (
	TypeMessageSent         Type = "message_sent"
	TypeAssignmentSubmitted Type = "assignment_submitted"
	TypeSessionActive       Type = "session_active"
	TypeOther               Type = "other"
)

// IsValid checks if the type is one of the known values.
func (t Type) IsValid() bool {
	switch t {
	case TypeMessageSent, TypeAssignmentSubmitted, TypeSessionActive, TypeOther:
		return true
	}
	return false
}

// Metadata carries optional tags on a record.
type Metadata struct {
	Subject string   `json:"subject,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Grade   *float64 `json:"grade,omitempty"`
}

// Record is a single timestamped activity. Records are never mutated once
// written.
type Record struct {
	ID           string           `json:"id"`
	StudentID    shared.StudentID `json:"student_id"`
	ClassID      shared.ClassID   `json:"class_id,omitempty"`
	AssignmentID string           `json:"assignment_id,omitempty"`
	Type         Type             `json:"type"`
	Timestamp    time.Time        `json:"timestamp"`
	Metadata     Metadata         `json:"metadata"`
}

// Validate checks the structural invariants of a record.
func (r Record) Validate() error {
	if r.StudentID.IsEmpty() {
		return ErrInvalidStudentID
	}
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// IsGraded reports whether the record carries a grade.
func (r Record) IsGraded() bool {
	return r.Metadata.Grade != nil
}

// GradedItem is a grade with the tags the analytics engine groups by.
type GradedItem struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Grade     float64   `json:"grade"`
}

// GradedItems extracts graded records, oldest first. Records with equal
// timestamps keep their input order.
func GradedItems(records []Record) []GradedItem {
	items := make([]GradedItem, 0, len(records))
	for _, r := range records {
		if !r.IsGraded() {
			continue
		}
		items = append(items, GradedItem{
			Timestamp: r.Timestamp,
			Subject:   r.Metadata.Subject,
			Topic:     r.Metadata.Topic,
			Grade:     *r.Metadata.Grade,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items
}

// Grades returns just the grade values from items, in order.
func Grades(items []GradedItem) []float64 {
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = it.Grade
	}
	return out
}

// InRange returns the records whose timestamp falls inside tr.
func InRange(records []Record, tr shared.TimeRange) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if tr.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out
}

// CountByType counts records of type t.
func CountByType(records []Record, t Type) int {
	n := 0
	for _, r := range records {
		if r.Type == t {
			n++
		}
	}
	return n
}
