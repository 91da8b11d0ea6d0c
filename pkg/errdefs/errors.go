package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to react to it
// without parsing error strings.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means the workspace, project, container or volume does not exist.
	KindNotFound
	// KindConflict means the request collides with current state
	// (volume in use, workspace running, illegal transition).
	KindConflict
	// KindInvalid means the request itself is malformed.
	KindInvalid
	// KindCanceled means the caller gave up before the operation finished.
	KindCanceled
	// KindRuntimeUnavailable means the container engine is unreachable or
	// returned an unexpected error.
	KindRuntimeUnavailable
	// KindOperationTimeout means a runtime call exceeded its bound.
	KindOperationTimeout
	// KindInvariantViolation means engine bookkeeping is inconsistent.
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindCanceled:
		return "canceled"
	case KindRuntimeUnavailable:
		return "runtime_unavailable"
	case KindOperationTimeout:
		return "operation_timeout"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Outcome is the three-way result every public operation reports.
type Outcome int

const (
	Succeeded Outcome = iota
	FailedRecoverable
	FailedFatal
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case FailedRecoverable:
		return "failed_recoverable"
	default:
		return "failed_fatal"
	}
}

// Error is the typed failure returned by engine components.
type Error struct {
	Kind     Kind
	Op       string // operation that failed, e.g. "workspace.start"
	Resource string // resource the operation acted on, e.g. "workspace:ws-1"
	Err      error  // underlying cause, kept verbatim
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Resource != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Resource)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a typed error of the given kind
func New(kind Kind, op, resource string, err error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: err}
}

// NotFound creates a NotFound error
func NotFound(op, resource string) error {
	return New(KindNotFound, op, resource, nil)
}

// Conflict creates a Conflict error with a descriptive message
func Conflict(op, resource, format string, args ...any) error {
	return New(KindConflict, op, resource, fmt.Errorf(format, args...))
}

// Invalid creates an Invalid error with a descriptive message
func Invalid(op, resource, format string, args ...any) error {
	return New(KindInvalid, op, resource, fmt.Errorf(format, args...))
}

// RuntimeUnavailable wraps a container engine failure
func RuntimeUnavailable(op, resource string, err error) error {
	return New(KindRuntimeUnavailable, op, resource, err)
}

// Timeout wraps a deadline failure
func Timeout(op, resource string, err error) error {
	return New(KindOperationTimeout, op, resource, err)
}

// InvariantViolation records inconsistent bookkeeping
func InvariantViolation(op, resource, format string, args ...any) error {
	return New(KindInvariantViolation, op, resource, fmt.Errorf(format, args...))
}

// KindOf returns the kind carried by err. Context errors that were never
// wrapped are mapped to OperationTimeout or Canceled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindUnknown
}

// FromContext converts a bare context error into a typed one and leaves
// everything else untouched.
func FromContext(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(op, resource, err)
	case errors.Is(err, context.Canceled):
		return New(KindCanceled, op, resource, err)
	}
	return err
}

// Classify maps err onto the three-way outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Succeeded
	}
	switch KindOf(err) {
	case KindNotFound, KindConflict, KindInvalid, KindCanceled:
		return FailedRecoverable
	default:
		return FailedFatal
	}
}

// IsNotFound checks if an error is a NotFound error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict checks if an error is a Conflict error
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsInvalid checks if an error is an Invalid error
func IsInvalid(err error) bool { return KindOf(err) == KindInvalid }

// IsRuntimeUnavailable checks if an error is a RuntimeUnavailable error
func IsRuntimeUnavailable(err error) bool { return KindOf(err) == KindRuntimeUnavailable }

// IsTimeout checks if an error is an OperationTimeout error
func IsTimeout(err error) bool { return KindOf(err) == KindOperationTimeout }

// IsInvariantViolation checks if an error is an InvariantViolation error
func IsInvariantViolation(err error) bool { return KindOf(err) == KindInvariantViolation }

// ParseKind is the inverse of Kind.String. Unrecognised names map to KindUnknown.
func ParseKind(s string) Kind {
	for k := KindNotFound; k <= KindInvariantViolation; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}
