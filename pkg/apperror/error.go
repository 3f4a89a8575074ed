// Package apperror defines the application error kinds shared by all
// loreweave components. Errors carry a stable machine-readable code, a
// human message, optional structured details (offending field, offending
// id) and an optional wrapped internal cause.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error with a stable code.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches errors by code, so sentinel comparisons work through
// WithMessage/WithDetails copies: errors.Is(err, apperror.ErrConflict).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithInternal returns a copy of the error with an internal cause attached.
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithMessagef returns a copy of the error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error.
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Error kinds. Validation, not-found, conflict and cycle errors are caller
// errors and carry enough detail to act on; backend and internal errors are
// wrapped infrastructure failures, deliberately generic toward the caller.
var (
	ErrValidation         = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")
	ErrNotFound           = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrConflict           = New(http.StatusConflict, "conflict", "Resource conflict")
	ErrCycleDetected      = New(http.StatusConflict, "cycle_detected", "Operation would create a cycle")
	ErrBackendUnavailable = New(http.StatusServiceUnavailable, "backend_unavailable", "Storage backend unavailable")
	ErrIndexUnavailable   = New(http.StatusServiceUnavailable, "index_unavailable", "Search index unavailable")
	ErrBadRequest         = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrInternal           = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
)

// NewValidation creates a validation error naming the offending field.
func NewValidation(field, message string) *Error {
	return ErrValidation.
		WithMessage(message).
		WithDetails(map[string]any{"field": field})
}

// NewNotFound creates a not-found error for a resource type and id.
func NewNotFound(resource, id string) *Error {
	return ErrNotFound.
		WithMessagef("%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

// NewConflict creates a conflict error for a resource type and id.
func NewConflict(resource, id, message string) *Error {
	return ErrConflict.
		WithMessage(message).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

// NewCycleDetected creates a cycle error for an illegal hierarchy move.
func NewCycleDetected(nodeID, parentID string) *Error {
	return ErrCycleDetected.
		WithMessagef("moving node %q under %q would create a cycle", nodeID, parentID).
		WithDetails(map[string]any{"id": nodeID, "parent_id": parentID})
}

// NewBackendUnavailable wraps a backend failure with operation context.
func NewBackendUnavailable(op string, err error) *Error {
	return ErrBackendUnavailable.
		WithMessagef("storage operation %s failed", op).
		WithInternal(err)
}

// NewInternal wraps an unexpected failure with a message.
func NewInternal(message string, err error) *Error {
	return ErrInternal.WithMessage(message).WithInternal(err)
}
