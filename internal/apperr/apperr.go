// Package apperr defines the engine's error taxonomy and its mapping to
// HTTP statuses and caller-safe messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Taxonomy kinds. Match with errors.Is.
var (
	ErrAccessDenied        = errors.New("access denied")
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrToolExecution       = errors.New("tool execution failed")
	ErrRateLimited         = errors.New("rate limited")
)

// Error carries a taxonomy kind, a message for operators and the model,
// and an optional cause. Message must never contain values from records
// or fields outside an allowlist.
type Error struct {
	Kind    error
	Message string
	Err     error
	// Refused marks a request stopped by an access rule (ownership,
	// collection or field allowlist) rather than by bad input.
	Refused bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newf(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func AccessDenied(format string, args ...interface{}) *Error {
	return newf(ErrAccessDenied, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(ErrValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(ErrNotFound, format, args...)
}

// Refuse marks e as stopped by an access rule and returns it.
func (e *Error) Refuse() *Error {
	e.Refused = true
	return e
}

// IsDenied reports whether err records an access denial: any AccessDenied
// error, or another kind raised by an access rule.
func IsDenied(err error) bool {
	if errors.Is(err, ErrAccessDenied) {
		return true
	}
	var ae *Error
	return errors.As(err, &ae) && ae.Refused
}

// ProviderUnavailable wraps a model provider failure.
func ProviderUnavailable(err error) *Error {
	return &Error{Kind: ErrProviderUnavailable, Message: "model provider call failed", Err: err}
}

// ToolExecution wraps a failure raised by a tool executor.
func ToolExecution(tool string, err error) *Error {
	return &Error{Kind: ErrToolExecution, Message: fmt.Sprintf("tool %s failed", tool), Err: err}
}

// Public messages. These are the only error strings a chat caller sees.
const (
	MsgAccessDenied        = "Access denied"
	MsgValidation          = "Invalid request"
	MsgNotFound            = "Agent not found"
	MsgProviderUnavailable = "AI service temporarily unavailable. Please try again."
	MsgRateLimited         = "Too many requests. Please try again later."
	MsgInternal            = "An error occurred while processing your request. Please try again."
)

// HTTPStatus maps an error to a status code and a fixed, non-identifying message.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden, MsgAccessDenied
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, MsgValidation
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, MsgNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, MsgRateLimited
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusInternalServerError, MsgProviderUnavailable
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}
