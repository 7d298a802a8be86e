package errdefs

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy every failure in the system surfaces under.
type Kind string

const (
	KindValidation           Kind = "Validation"
	KindUnauthorized         Kind = "Unauthorized"
	KindForbidden            Kind = "Forbidden"
	KindNotFound             Kind = "NotFound"
	KindMissingInputArtifact Kind = "MissingInputArtifact"
	KindArtifactWriteError   Kind = "ArtifactWriteError"
	KindProviderTransient    Kind = "ProviderTransient"
	KindProviderPermanent    Kind = "ProviderPermanent"
	KindProviderUnavailable  Kind = "ProviderUnavailable"
	KindTimeout              Kind = "Timeout"
	KindCostDenied           Kind = "CostDenied"
	KindCancelled            Kind = "Cancelled"
	KindInternal             Kind = "Internal"
)

// Error is the structured error type used across package boundaries.
// The zero Kind is treated as Internal.
type Error struct {
	Kind          Kind
	Message       string
	Stage         string
	Attempt       int
	CorrelationID string

	// Retryable overrides the kind's default classification for the
	// kinds that are retryable per-case (ArtifactWriteError).
	Retryable bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithStage returns a copy annotated with the stage name.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// WithAttempt returns a copy annotated with the attempt number.
func (e *Error) WithAttempt(attempt int) *Error {
	c := *e
	c.Attempt = attempt
	return &c
}

// WithCorrelation returns a copy annotated with a correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	c := *e
	c.CorrelationID = id
	return &c
}

// New creates an error of the given kind. Retryability defaults from the
// kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind)}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	e := New(kind, msg)
	e.cause = cause
	return e
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindProviderTransient, KindProviderUnavailable, KindTimeout:
		return true
	}
	return false
}

// KindOf extracts the kind from any error. Non-taxonomy errors report
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == "" {
			return KindInternal
		}
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the orchestrator's retry loop may re-run
// the failed operation. Unknown errors are not retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// AsError converts any error into a taxonomy error, passing *Error
// through untouched.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "unexpected error", err)
}
