// Package errkind classifies orchestrator errors into the taxonomy from
// spec.md §7, as an explicit enum rather than the heuristic string-sniffing
// classifier the design notes warn against (spec.md §9).
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error taxonomy buckets from spec.md §7.
type Kind int

const (
	// Unknown is never retried and never surfaced with a specific status;
	// callers should treat it as an internal error.
	Unknown Kind = iota
	Validation
	AuthN
	AuthZ
	Precondition
	Transient
	NotFoundAtProvider
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case AuthN:
		return "authentication"
	case AuthZ:
		return "authorization"
	case Precondition:
		return "precondition"
	case Transient:
		return "transient"
	case NotFoundAtProvider:
		return "not_found_at_provider"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with an explicit Kind so that every layer
// above it can branch on Kind instead of re-deriving it from the message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Classify returns the Kind of err, walking wrapped *Error values first and
// falling back to a small set of well-known sentinels (context cancellation,
// deadline exceeded) that every provider implementation is expected to wrap
// rather than let escape raw.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	return Unknown
}

// Retryable reports whether an error of this Kind should be retried by the
// transient-error backoff policy (spec.md §7). Only Transient errors qualify;
// NotFoundAtProvider is a success-shaped outcome handled by the caller, never
// a retry target.
func Retryable(err error) bool {
	return Classify(err) == Transient
}

// FromHTTPStatus classifies a provider HTTP response per spec.md §7: 404 is
// NotFoundAtProvider (treated as "completed", never a failure); 429 and 5xx
// are Transient; everything else in the 4xx range is Precondition/Validation
// territory handled by the caller.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return NotFoundAtProvider
	case status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Validation
	default:
		return Unknown
	}
}
