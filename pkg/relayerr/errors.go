// Package relayerr defines the typed error taxonomy shared by every layer of
// the controller, per the error handling design: a fixed enumeration of
// kinds rather than ad-hoc string tags or sentinel errors per call site.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind is a fixed enumeration of the error kinds the controller can surface.
// Treat this as exhaustive: adding a new failure mode means adding a new
// Kind, not inventing a new sentinel error somewhere else in the tree.
type Kind int

const (
	// KindInternal is anything unexpected; logged with context, never leaks
	// internals to the surface.
	KindInternal Kind = iota
	// KindInputInvalid is a schema or constraint violation from a caller.
	KindInputInvalid
	// KindNotFound means the referenced id does not exist.
	KindNotFound
	// KindConflict is a uniqueness or precondition failure.
	KindConflict
	// KindQuotaExceeded means plan limits have been reached.
	KindQuotaExceeded
	// KindThrottled is a rate-limit rejection.
	KindThrottled
	// KindQueued is not an error: the caller asked to assign and was queued.
	KindQueued
	// KindWorkerUnavailable means no candidate worker and no queue admission.
	KindWorkerUnavailable
	// KindPlatformTransient is retried with jittered exponential backoff.
	KindPlatformTransient
	// KindPlatformPermanent is not retried.
	KindPlatformPermanent
	// KindStoreBusy is retried locally with bounded backoff.
	KindStoreBusy
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "InputInvalid"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindThrottled:
		return "Throttled"
	case KindQueued:
		return "Queued"
	case KindWorkerUnavailable:
		return "WorkerUnavailable"
	case KindPlatformTransient:
		return "PlatformTransient"
	case KindPlatformPermanent:
		return "PlatformPermanent"
	case KindStoreBusy:
		return "StoreBusy"
	default:
		return "InternalError"
	}
}

// Error is the single error type threaded through every layer. Details
// carries kind-specific structured context (e.g. {resource, current, max}
// for KindQuotaExceeded, {retry_after_s} for KindThrottled).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a relayerr.Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a relayerr.Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NotFound is a convenience constructor for the common case.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", resource, id)
}

// Conflict is a convenience constructor for the common case.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}
