package core

// errors.go defines the error vocabulary shared by every service operation.
//
// Callers branch with errors.Is on the sentinels below; the web layer maps
// them to HTTP status codes and MapError turns them into user messages.
// Validation always happens before any state change, so an ErrValidation
// means nothing was written.

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrValidation marks malformed input. Concrete failures are *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a part, category or import session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would reuse an existing external ID.
	ErrConflict = errors.New("conflict")

	// ErrPrecondition is returned when an import is not in a state that allows
	// the requested step (unreviewed rows, rows without IDs).
	ErrPrecondition = errors.New("precondition failed")

	// ErrResetDisabled is returned by ResetCounters unless explicitly enabled.
	ErrResetDisabled = errors.New("counter reset is disabled")
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string // Request field name
	Value   string // The invalid value, possibly truncated
	Message string // Human-readable reason
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "invalid input: " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, value, format string, args ...any) error {
	if utf8.RuneCountInString(value) > 64 {
		value = string([]rune(value)[:64]) + "..."
	}
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// checkLen validates the rune length of s against [min, max].
func checkLen(field, s string, min, max int) error {
	n := utf8.RuneCountInString(s)
	if n < min {
		if min == 1 {
			return invalid(field, s, "is required")
		}
		return invalid(field, s, "must be at least %d characters", min)
	}
	if n > max {
		return invalid(field, s, "must be at most %d characters", max)
	}
	return nil
}

// checkRange validates n against [min, max].
func checkRange(field string, n, min, max int) error {
	if n < min || n > max {
		return invalid(field, fmt.Sprint(n), "must be between %d and %d", min, max)
	}
	return nil
}
