/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All engine error codes in one place. Callers classify failures with
  errors.Is against the sentinels; structured types carry the detail a
  client needs to recover (overage amounts, conflicting holders, ...).

ERROR CATEGORIES:
  1. Validation errors   - malformed input, unbalanced allocations
  2. Transition errors   - illegal status edges
  3. Concurrency errors  - advisory locks, stale version tokens
  4. Soft blocks         - PO overage, recoverable with an override
  5. Store errors        - Ledger Store failures

PROPAGATION POLICY:
  Validation and transition errors are returned synchronously and never
  partially applied. Downstream side effects (stamping, broadcast) fail
  independently and surface as warnings, never as errors: the engine
  favors "the money state is correct" over "every artifact is correct".

SEE ALSO:
  - orchestrator.go: produces these errors
  - api/handlers.go: maps them onto HTTP statuses
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrValidationFailed is returned for malformed or unbalanced input.
	ErrValidationFailed = errors.New("validation failed")

	// ErrTransitionNotAllowed is returned for an illegal status edge.
	ErrTransitionNotAllowed = errors.New("transition not allowed")

	// ErrLocked is returned when another actor holds the advisory lock.
	// Callers are responsible for retry/backoff; the engine never blocks.
	ErrLocked = errors.New("entity locked by another actor")

	// ErrVersionConflict is returned when an optimistic-concurrency token
	// is stale, i.e. the entity changed since the caller read it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPOOverage is the soft block for exceeding a PO line item's
	// capacity. Recoverable: re-request with an explicit override.
	ErrPOOverage = errors.New("purchase order line item over capacity")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUndoNotFound is returned when an undo entry is expired, already
	// consumed, or absent.
	ErrUndoNotFound = errors.New("undo entry not found")

	// ErrDatabaseError wraps Ledger Store failures.
	ErrDatabaseError = errors.New("ledger store error")
)

// =============================================================================
// STRUCTURED ERRORS - carry additional context
// =============================================================================

// TransitionError reports an illegal status edge with a structured reason.
type TransitionError struct {
	EntityType EntityType
	From       string
	To         string
	Reason     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s from %q to %q: %s", e.EntityType, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrTransitionNotAllowed }

// UnbalancedAllocationsError reports an allocation set that does not cover
// the invoice's billable remaining within Epsilon.
type UnbalancedAllocationsError struct {
	InvoiceID  InvoiceID
	Difference decimal.Decimal
}

func (e *UnbalancedAllocationsError) Error() string {
	return fmt.Sprintf("allocations for invoice %s are off by %s", e.InvoiceID, e.Difference.StringFixed(2))
}

func (e *UnbalancedAllocationsError) Unwrap() error { return ErrValidationFailed }

// POOverageError is the structured soft block: it carries the remaining
// and overage amounts so the caller can re-request with an override.
type POOverageError struct {
	POLineItemID POLineItemID
	CostCodeID   CostCodeID
	Remaining    decimal.Decimal
	Overage      decimal.Decimal
}

func (e *POOverageError) Error() string {
	return fmt.Sprintf("PO line item %s over capacity by %s (remaining %s)",
		e.POLineItemID, e.Overage.StringFixed(2), e.Remaining.StringFixed(2))
}

func (e *POOverageError) Unwrap() error { return ErrPOOverage }

// LockHeldError reports who holds the conflicting advisory lock.
type LockHeldError struct {
	EntityType EntityType
	EntityID   string
	Holder     string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("%s %s is locked by %s", e.EntityType, e.EntityID, e.Holder)
}

func (e *LockHeldError) Unwrap() error { return ErrLocked }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrTransitionNotAllowed)
}

// IsConflict returns true for concurrency failures that may succeed on retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrPOOverage)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUndoNotFound)
}
