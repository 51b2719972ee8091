package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Response is the envelope for every JSON body the API writes.
type Response struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError is the error part of the envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta carries response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

// APIVersion is reported in every response's meta.
const APIVersion = "v1"

// RespondOK writes a 200 envelope around payload.
func RespondOK(c *gin.Context, payload interface{}) {
	Respond(c, http.StatusOK, payload, nil)
}

// Respond writes a success envelope with optional meta.
func Respond(c *gin.Context, status int, payload interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = APIVersion

	c.JSON(status, Response{
		Success:   true,
		Data:      payload,
		Meta:      meta,
		RequestID: RequestIDFrom(c),
	})
}

// RespondError writes an error envelope and aborts the chain.
func RespondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: RequestIDFrom(c),
	})
}

// RespondDomainError maps err onto a status code and writes it.
func RespondDomainError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "An unexpected error occurred"
	}
	_ = c.Error(err)
	RespondError(c, status, code, msg)
}

// StatusFor classifies an error for the HTTP layer.
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrMissingData):
		return http.StatusUnprocessableEntity, "missing_data"
	case shared.IsValidation(err), errors.Is(err, shared.ErrMalformedRubric):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case shared.IsRetryable(err):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}
