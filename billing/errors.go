/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. NotFound    - referenced entity does not exist
  2. Validation  - business rule violation (bad input, illegal transition)
  3. Conflict    - duplicate billable entry, generation with nothing to bill
  4. Concurrency - optimistic locking detected a lost update

USAGE:
  Domain packages wrap with context and callers test the kind:

    if billing.IsConflict(err) {
        // report 409
    }

SEE ALSO:
  - tariff/ledger.go: wraps ErrConflict for duplicate line items
  - recovery/reconciler.go: retries on ErrConcurrentModification
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced case, line item, invoice,
	// payment, or catalog entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for negative amounts, missing mandatory
	// fields, and illegal state transitions.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned for duplicate billable entries and for invoice
	// generation with unvalidated or zero line items.
	ErrConflict = errors.New("conflict")

	// ErrConcurrentModification is returned when optimistic locking detects
	// that a case row changed under a read-modify-write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrOverlappingTariff is returned when writing a catalog entry whose
	// active validity range overlaps an existing one for the same
	// (phase, category).
	ErrOverlappingTariff = errors.New("overlapping active tariff range")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError reports which entity was missing.
type NotFoundError struct {
	Kind string // "case", "line item", "invoice", "payment", "catalog entry"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries a human-readable reason for a rejected operation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalidf builds a ValidationError from a format string.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// DuplicateChargeError reports an attempted second billable entry for a
// charge that must be unique per case.
type DuplicateChargeError struct {
	CaseID   CaseID
	Phase    Phase
	Category string
	Existing LineItemID
}

func (e *DuplicateChargeError) Error() string {
	return fmt.Sprintf("charge already exists for case %s (%s/%s): line item %s",
		e.CaseID, e.Phase, e.Category, e.Existing)
}

func (e *DuplicateChargeError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation returns true if the error is due to invalid input or an
// illegal transition.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict returns true for duplicate or empty-generation conflicts.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool { return errors.Is(err, ErrConcurrentModification) }
