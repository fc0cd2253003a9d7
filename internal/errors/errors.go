package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the platform's semantic categories.
type Kind string

const (
	// KindValidation represents a malformed or illegal request
	KindValidation Kind = "validation"
	// KindNotFound represents a missing finding, account, or control
	KindNotFound Kind = "not_found"
	// KindConflict represents a state-machine transition from an illegal source state
	KindConflict Kind = "conflict"
	// KindAdapterTransient represents a retryable cloud API failure
	KindAdapterTransient Kind = "adapter_transient"
	// KindAdapterPermanent represents a non-retryable cloud API failure
	KindAdapterPermanent Kind = "adapter_permanent"
	// KindInternal represents a database, object storage, or catalog failure
	KindInternal Kind = "internal"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a structured error carrying classification and context.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New creates a new Error
func New(kind Kind, severity Severity, message string) *Error {
	return &Error{
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *Error {
	return New(KindValidation, SeverityMedium, message)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *Error {
	return New(KindNotFound, SeverityMedium, message)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *Error {
	return New(KindConflict, SeverityMedium, message)
}

// NewAdapterTransientError creates a retryable cloud adapter error
func NewAdapterTransientError(message string) *Error {
	return New(KindAdapterTransient, SeverityMedium, message)
}

// NewAdapterPermanentError creates a non-retryable cloud adapter error
func NewAdapterPermanentError(message string) *Error {
	return New(KindAdapterPermanent, SeverityHigh, message)
}

// NewInternalError creates a new internal error
func NewInternalError(message string) *Error {
	return New(KindInternal, SeverityCritical, message)
}

// WithCause sets the cause of the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail attaches a contextual key/value pair
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's kind
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of an error; unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error should be retried by the adapter
func IsRetryable(err error) bool {
	return IsKind(err, KindAdapterTransient)
}

// Wrap annotates err with a kind and message, preserving the chain
func Wrap(err error, kind Kind, message string) *Error {
	severity := SeverityMedium
	if kind == KindInternal {
		severity = SeverityCritical
	}
	return New(kind, severity, message).WithCause(err)
}
