// Package errors provides the error taxonomy shared by the orchestrator,
// the GitHub adapter and the HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable, machine-checkable error category.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindInvalidState   Kind = "invalid_state"
	KindUpstream       Kind = "upstream"
	KindRateLimited    Kind = "rate_limited"
	KindPartialFailure Kind = "partial_failure"
	KindInternal       Kind = "internal"
)

// Sentinel errors, one per kind. errors.Is matches any *Error of the same kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrInvalidState   = &Error{Kind: KindInvalidState}
	ErrUpstream       = &Error{Kind: KindUpstream}
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrPartialFailure = &Error{Kind: KindPartialFailure}
)

// Error is a classified error. Op names the failing operation, Message is the
// human readable part that is safe to return to API callers.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int           // upstream HTTP status, 0 when not from GitHub
	RetryAfter time.Duration // set for KindRateLimited when known
	// Permanent marks an upstream failure that another attempt cannot fix,
	// such as rejected service credentials.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "an internal error occurred"
}

// RetryAfterOf returns the retry hint carried by a rate-limited error.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable returns true if the error is transient. Only upstream failures
// not marked Permanent qualify; rate limits are surfaced to the caller
// instead of retried.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindUpstream && !e.Permanent
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name errors keep them.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target any) bool { return errors.As(err, target) }
