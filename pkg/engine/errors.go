package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for recovery and presentation logic.
type ErrorKind string

const (
	// ErrorKindValidation indicates a field-attributed constraint failure:
	// required, regex, uniqueness, bounds, or type coercion. Recoverable;
	// never partially applied.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindStateTransition indicates an illegal workflow transition or
	// an unknown state. Carries human-readable from/to names.
	ErrorKindStateTransition ErrorKind = "state_transition"

	// ErrorKindSequence indicates a wizard run sequencing problem: wrong
	// step index, run already completed, or a lost concurrent submission.
	// Signals client desync; recoverable.
	ErrorKindSequence ErrorKind = "sequence"

	// ErrorKindNotFound indicates a missing run, model, entity, or property
	// mid-resolution. Aborts and rolls back the current operation.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindPermission indicates the caller lacks the required
	// permission. Checked before any mutation begins.
	ErrorKindPermission ErrorKind = "permission"

	// ErrorKindStore indicates a transaction or connectivity failure in the
	// backing store. Triggers rollback and is surfaced as an internal
	// failure, never silently retried.
	ErrorKindStore ErrorKind = "store"

	// ErrorKindInternal indicates a bug or an unclassified failure.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is a classified error with field and step context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Property is the field the error is attributed to, if any.
	Property string `json:"property,omitempty"`

	// StepIndex is the wizard step the error occurred in, or -1.
	StepIndex int `json:"step_index,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Property != "" {
		msg += fmt.Sprintf(" (property=%s)", e.Property)
	}
	if e.StepIndex >= 0 {
		msg += fmt.Sprintf(" (step=%d)", e.StepIndex)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind so callers can compare against sentinel kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		StepIndex: -1,
	}
}

// NewValidationError creates a field-attributed validation error.
func NewValidationError(property, format string, args ...any) *Error {
	e := newError(ErrorKindValidation, format, args...)
	e.Property = property
	return e
}

// NewStateTransitionError creates a workflow transition error.
func NewStateTransitionError(format string, args ...any) *Error {
	return newError(ErrorKindStateTransition, format, args...)
}

// NewSequenceError creates a wizard sequencing error.
func NewSequenceError(format string, args ...any) *Error {
	return newError(ErrorKindSequence, format, args...)
}

// NewNotFoundError creates a missing-object error.
func NewNotFoundError(format string, args ...any) *Error {
	return newError(ErrorKindNotFound, format, args...)
}

// NewPermissionError creates a permission-denied error.
func NewPermissionError(format string, args ...any) *Error {
	return newError(ErrorKindPermission, format, args...)
}

// NewStoreError wraps a backing-store failure.
func NewStoreError(err error, format string, args ...any) *Error {
	e := newError(ErrorKindStore, format, args...)
	e.Err = err
	return e
}

// NewInternalError wraps an unclassified failure.
func NewInternalError(err error, format string, args ...any) *Error {
	e := newError(ErrorKindInternal, format, args...)
	e.Err = err
	return e
}

// WithStep attributes the error to a wizard step.
func (e *Error) WithStep(index int) *Error {
	e.StepIndex = index
	return e
}

// KindOf returns the kind of a classified error, or ErrorKindInternal for
// anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == ErrorKindValidation }

// IsSequence reports whether err is a sequencing error.
func IsSequence(err error) bool { return KindOf(err) == ErrorKindSequence }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == ErrorKindNotFound }

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool { return KindOf(err) == ErrorKindPermission }

// IsStateTransition reports whether err is a transition error.
func IsStateTransition(err error) bool { return KindOf(err) == ErrorKindStateTransition }

// IsRecoverable reports whether the client can fix the request and retry.
// Store and internal failures are not recoverable by the caller.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case ErrorKindValidation, ErrorKindStateTransition, ErrorKindSequence, ErrorKindPermission:
		return true
	default:
		return false
	}
}
