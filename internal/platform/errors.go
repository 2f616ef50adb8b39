package platform

import (
	"errors"
	"fmt"
)

// Kind classifies a boundary failure so callers can pattern-match on the
// category instead of inspecting status codes or message text.
type Kind string

const (
	// KindNetwork covers timeouts, connection resets, and 5xx responses.
	// Retryable by the caller; never clears the session.
	KindNetwork Kind = "network"

	// KindAuthorization is a 401/403 on a business request. Handled
	// transparently by the transport via refresh-and-retry.
	KindAuthorization Kind = "authorization"

	// KindRefreshDenied is a 401/403 from the refresh endpoint itself.
	// Definitive: the session is over.
	KindRefreshDenied Kind = "refresh_denied"

	// KindValidation is any other 4xx. Passed straight through, no
	// session impact.
	KindValidation Kind = "validation"

	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Error is the tagged result type returned from every boundary call.
type Error struct {
	// Kind is the error category.
	Kind Kind

	// Status is the HTTP status code, 0 for transport-level failures.
	Status int

	// Message is a human-readable description, taken from the server's
	// error body when one was provided.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new tagged Error.
func NewError(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// WrapError wraps an existing error with a tagged Error.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of an error, or KindUnknown if the error does not
// carry one. A nil error has no kind and also reports KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// classifyStatus maps an HTTP status code from a business endpoint to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthorization
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}
