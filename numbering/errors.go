package numbering

import (
	"errors"
	"fmt"
)

// ErrSeriesNotFound is returned by Allocator.Series for a prefix that has
// never been allocated from.
var ErrSeriesNotFound = errors.New("numbering: series not found")

// ErrorCode categorizes allocation errors.
type ErrorCode string

const (
	// ErrCodeConflict indicates a duplicate designator or a write conflict
	// at commit. Retried within the budget.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeTransient indicates any other store failure. Retried within the
	// budget.
	ErrCodeTransient ErrorCode = "TRANSIENT_STORE"

	// ErrCodeExhausted indicates the retry budget elapsed without a
	// successful attempt.
	ErrCodeExhausted ErrorCode = "EXHAUSTED"

	// ErrCodeConfiguration indicates invalid options or arguments.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeOverflow indicates the series counter reached math.MaxInt64.
	ErrCodeOverflow ErrorCode = "SERIES_OVERFLOW"
)

// ConflictReason tells the two kinds of conflict apart.
type ConflictReason string

const (
	// ConflictDuplicate means the candidate designator was already recorded.
	ConflictDuplicate ConflictReason = "duplicate"

	// ConflictCommit means the store rejected the commit.
	ConflictCommit ConflictReason = "commit"
)

// Error is returned by allocation operations.
//
// Per-attempt errors (Conflict, Transient) stay inside the retry loop and
// reach callers only as the cause wrapped by an Exhausted error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Prefix is the series the allocation was for.
	Prefix string

	// Designator is the candidate designator, when one was computed.
	Designator string

	// ID is the numeric part of Designator.
	ID int64

	// State is the last attempt state reached before the failure.
	State AttemptState

	// Reason is set for conflicts.
	Reason ConflictReason

	// Attempts is the number of attempts made (Exhausted and Overflow).
	Attempts int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Designator != "" {
		msg += fmt.Sprintf(" (prefix=%q, designator=%q)", e.Prefix, e.Designator)
	} else if e.Prefix != "" {
		msg += fmt.Sprintf(" (prefix=%q)", e.Prefix)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConflict returns true if the outermost allocation error in err's chain
// is a conflict.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsTransient returns true if the outermost allocation error in err's chain
// is a transient store error.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

// IsExhausted returns true if the retry budget ran out.
func IsExhausted(err error) bool {
	return hasCode(err, ErrCodeExhausted)
}

// IsConfiguration returns true if the options or arguments were invalid.
func IsConfiguration(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsOverflow returns true if the series cannot issue another number.
func IsOverflow(err error) bool {
	return hasCode(err, ErrCodeOverflow)
}

func configurationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: fmt.Sprintf(format, args...)}
}
