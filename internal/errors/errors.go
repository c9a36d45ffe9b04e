// Package errors defines the domain error taxonomy shared by all layers.
// Every error that crosses the service boundary carries a stable code so the
// HTTP layer can map it without inspecting messages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Stable error codes. The HTTP layer maps these to status codes; callers use
// them to decide whether a retry can help.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodePrecondition = "PRECONDITION_FAILED"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Error is a domain error with a stable code and optional structured details.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error and returns it.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// Detail returns a previously attached detail value, or nil.
func (e *Error) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// New creates a domain error with the given code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a resource does not exist (or is not active).
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s does not exist", resource, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeValidation, message).WithDetail("field", field)
}

// InvalidState reports that the entity is not in a state that allows the
// requested operation.
func InvalidState(message string) *Error {
	return New(ErrCodeInvalidState, message)
}

// Forbidden reports that the actor lacks the role or ownership required.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// PreconditionFailed reports a structural precondition failure.
func PreconditionFailed(message string) *Error {
	return New(ErrCodePrecondition, message)
}

// Conflict reports a concurrent-modification or uniqueness conflict.
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// CodeOf returns the domain code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// DetailOf returns a detail value from a domain error, or nil.
func DetailOf(err error, key string) any {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Detail(key)
	}
	return nil
}
