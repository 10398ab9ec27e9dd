// Package domain provides the SDK data model and canonical error types.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of an SDK error.
type ErrorKind string

const (
	// ErrorKindConfiguration indicates missing or unusable configuration
	// (base URL, public key). Never retried automatically.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindValidation indicates caller input was rejected before any I/O.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindAuth indicates the server rejected the access token.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindTransient indicates a network failure or unexpected status.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindConcurrency indicates the operation was skipped because an
	// equivalent one is already in flight.
	ErrorKindConcurrency ErrorKind = "concurrency"
)

// Error is the canonical SDK error.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the HTTP status that produced the error, 0 when no
	// response was received.
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and message so wrapped copies created
// with WithStatusCode or WithCause still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// NewError creates a new SDK error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// WithStatusCode returns a copy of the error carrying an HTTP status.
func (e *Error) WithStatusCode(code int) *Error {
	cp := *e
	cp.StatusCode = code
	return &cp
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

var (
	// ErrMissingConfig is returned when the base URL or public key is blank.
	ErrMissingConfig = NewError(ErrorKindConfiguration, "missing baseUrl or publicKey")

	// ErrInvalidConnectCode is returned for connect codes that are not six digits.
	ErrInvalidConnectCode = NewError(ErrorKindValidation, "only 6-digit code supported")

	// ErrBootstrapInFlight is returned when another bootstrap is running.
	ErrBootstrapInFlight = NewError(ErrorKindConcurrency, "bootstrap already in progress")

	// ErrPublicKeyChanged is returned when an auth response arrives for a
	// public key that was replaced while the exchange was running.
	ErrPublicKeyChanged = NewError(ErrorKindConcurrency, "public key changed during auth exchange")

	// ErrMissingToken is returned when a bootstrap succeeded but left no
	// usable access token behind.
	ErrMissingToken = NewError(ErrorKindAuth, "missing access token after bootstrap")

	// ErrInvalidToken is returned when the ingest endpoint reports the
	// access token as invalid or expired.
	ErrInvalidToken = NewError(ErrorKindAuth, "invalid token")
)

// KindOf reports the kind of err, or the empty kind if err is not an *Error.
func KindOf(err error) ErrorKind {
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return sdkErr.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrorFromStatus classifies an unsuccessful HTTP exchange.
func ErrorFromStatus(code int, message string) *Error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(ErrorKindAuth, message).WithStatusCode(code)
	default:
		return NewError(ErrorKindTransient, message).WithStatusCode(code)
	}
}
