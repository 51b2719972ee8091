// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")

	// Analytics kinds. Neither is returned by the engine itself: missing data
	// yields neutral defaults and malformed criteria are skipped and counted.
	ErrMissingData     = errors.New("missing data")
	ErrMalformedRubric = errors.New("malformed rubric")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "grading", "analytics", "roster"
	Op      string // Operation that failed, e.g., "Grade", "Load"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Grading domain errors
var (
	ErrAssignmentNotFound = NewDomainError("grading", "FindAssignment", ErrNotFound, "assignment not found")
	ErrRubricNotFound     = NewDomainError("grading", "FindRubric", ErrNotFound, "rubric not found")
	ErrSubmissionNotFound = NewDomainError("grading", "FindSubmission", ErrNotFound, "submission not found")
	ErrNoGradeAvailable   = NewDomainError("grading", "Grade", ErrMissingData, "no rubric scores and no manual grade")
	ErrInvalidMaxPoints   = NewDomainError("grading", "Validate", ErrValueOutOfRange, "max points must be positive")
)

// Roster domain errors
var (
	ErrClassNotFound   = NewDomainError("roster", "FindClass", ErrNotFound, "class not found")
	ErrStudentNotFound = NewDomainError("roster", "FindStudent", ErrNotFound, "student not found")
)

// Session errors
var (
	ErrSessionKeyNotFound = NewDomainError("session", "Get", ErrNotFound, "session key not found")
	ErrSessionClosed      = NewDomainError("session", "Use", ErrInvalidState, "session repository is closed")
)

// Notification errors
var (
	ErrNotificationFailed = NewDomainError("notification", "Send", ErrServiceUnavailable, "failed to dispatch notification")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
