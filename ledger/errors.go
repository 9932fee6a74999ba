/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and components wrap these errors with additional context; callers
  match them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. NotFound            - referenced student, group or payment key is absent
  2. DuplicateKey        - student id or group name collision
  3. Validation          - blank name, malformed date, out-of-range month
  4. ConstraintViolation - a write would break a uniqueness/foreign-key rule

  Every category is recoverable by the caller. No entity is left corrupted:
  multi-step operations return the first error and roll back.

USAGE:
  if errors.Is(err, ledger.ErrDuplicateKey) {
      // ask the operator for another id
  }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) {
      fmt.Println(verr.Field)
  }

SEE ALSO:
  - store.go: Stores return these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced student, group or payment key
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a student id or group name is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrValidation is returned when input fails validation before any write.
	ErrValidation = errors.New("validation failed")

	// ErrConstraintViolation is returned when a write would break a uniqueness
	// or foreign-key invariant of the store.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNothingToUndo is returned by UndoDelete when no snapshot is held.
	ErrNothingToUndo = fmt.Errorf("nothing to undo: %w", ErrNotFound)
)

// Entity kinds used in structured errors.
const (
	KindStudent = "student"
	KindGroup   = "group"
	KindPayment = "payment"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateKeyError names the colliding key.
type DuplicateKeyError struct {
	Kind string
	Key  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// ValidationError describes an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConstraintError wraps a low-level store failure that violated a schema rule.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Err == nil {
		return "constraint violation: " + e.Constraint
	}
	return fmt.Sprintf("constraint violation: %s: %v", e.Constraint, e.Err)
}

// Unwrap exposes both the sentinel and the underlying driver error.
func (e *ConstraintError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConstraintViolation}
	}
	return []error{ErrConstraintViolation, e.Err}
}

func studentNotFound(id StudentID) error {
	return &NotFoundError{Kind: KindStudent, Key: id.String()}
}

func groupNotFound(name string) error {
	return &NotFoundError{Kind: KindGroup, Key: name}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to caller input rather than
// a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrNotFound)
}
