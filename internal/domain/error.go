package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrForbidden           = errors.New("operation not allowed for this user")
	ErrInsufficientCredits = errors.New("insufficient credits")

	// Booking outcomes
	ErrNotEntitled      = errors.New("not entitled")
	ErrCapacityExceeded = errors.New("session is full")
	ErrDeadlinePassed   = errors.New("deadline passed")

	// Concurrency and integration
	ErrConflict            = errors.New("concurrent update, please try again")
	ErrDuplicateEvent      = errors.New("event already processed")
	ErrExternalUnavailable = errors.New("external service unavailable")

	// Storage plumbing
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid transaction handle")
	ErrReadDatabaseRow    = errors.New("could not read database row")
)

// Kind is the caller-facing classification of an error.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotEntitled         Kind = "NOT_ENTITLED"
	KindCapacityExceeded    Kind = "CAPACITY_EXCEEDED"
	KindDeadlinePassed      Kind = "DEADLINE_PASSED"
	KindConflict            Kind = "CONFLICT"
	KindDuplicateEvent      Kind = "DUPLICATE_EVENT"
	KindExternalUnavailable Kind = "EXTERNAL_UNAVAILABLE"
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindInternal            Kind = "INTERNAL"
)

// KindOf classifies err by the sentinel it wraps. nil yields "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrNotEntitled), errors.Is(err, ErrInsufficientCredits):
		return KindNotEntitled
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrDeadlinePassed):
		return KindDeadlinePassed
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrDuplicateEvent):
		return KindDuplicateEvent
	case errors.Is(err, ErrExternalUnavailable):
		return KindExternalUnavailable
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}

// IsRetryable reports whether repeating the operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrExternalUnavailable)
}

// ReasonError carries a human readable reason next to a sentinel.
type ReasonError struct {
	Err    error
	Reason string
}

func (e *ReasonError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *ReasonError) Unwrap() error { return e.Err }

// WithReason wraps sentinel with a reason shown to the member.
func WithReason(sentinel error, reason string) error {
	return &ReasonError{Err: sentinel, Reason: reason}
}

// ReasonOf extracts the reason attached with WithReason, or the error text.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var re *ReasonError
	if errors.As(err, &re) && re.Reason != "" {
		return re.Reason
	}
	return err.Error()
}
