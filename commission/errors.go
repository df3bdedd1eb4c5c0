/*
errors.go - Error types for the commission engine

ERROR CATEGORIES:
  1. Lookup errors - referenced master data missing
  2. Validation errors - malformed input rejected at the boundary
  3. Store errors - wrapped and propagated unchanged

A missing payout grid match is NOT an error. It yields a zero-rate record
with StatusNoGridMatch.
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is the parent of every ValidationError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedCategory is returned when a grid is requested for a
	// category that has none.
	ErrUnsupportedCategory = errors.New("unsupported product category")

	// ErrInvalidRemainderRule is returned for an unknown remainder rule name.
	ErrInvalidRemainderRule = errors.New("invalid remainder rule")

	// ErrStoreRequired is returned when an operation needs a store the engine
	// was built without.
	ErrStoreRequired = errors.New("operation requires a history store")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedCategory) ||
		errors.Is(err, ErrInvalidRemainderRule)
}
