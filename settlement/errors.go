/*
errors.go - Centralized error types for the settlement engine

ERROR CATEGORIES:
  1. Not found - order, recipe or ledger entry absent (recoverable, not retried)
  2. Invalid input - malformed event or order request, rejected before any mutation
  3. Partial settlement - order paid but its ledger entry missing
  4. Store conflicts - status races, duplicate rows
  5. Dead-lettered - failures after the dedup write (ErrDeadLettered)

Duplicate events are NOT errors. They surface as OutcomeSkipped.

SEE ALSO:
  - handler.go: Produces PartialSettlementError
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package settlement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the parent of every "absent" error below.
	ErrNotFound = errors.New("not found")

	ErrOrderNotFound       = fmt.Errorf("order %w", ErrNotFound)
	ErrRecipeNotFound      = fmt.Errorf("recipe %w", ErrNotFound)
	ErrLedgerEntryNotFound = fmt.Errorf("ledger entry %w", ErrNotFound)

	// ErrInvalidInput is returned before any state is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPartialSettlement marks an order that is paid without a ledger entry.
	ErrPartialSettlement = errors.New("partial settlement")

	// ErrStatusConflict is returned by a conditional status write whose
	// expected current status no longer holds.
	ErrStatusConflict = errors.New("order status conflict")

	// ErrDuplicateLedgerEntry is returned when an order already has its entry.
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists for order")

	// ErrDuplicateOrder is returned when an order id or payment intent id is reused.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrDeadLettered wraps a failure that happened after the event id was
	// recorded. The event is already in the dead-letter sink; redelivering
	// it is skipped.
	ErrDeadLettered = errors.New("event dead-lettered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PartialSettlementError identifies a paid order whose ledger entry could not
// be written because its recipe no longer resolves.
type PartialSettlementError struct {
	OrderID  OrderID
	RecipeID RecipeID
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("partial settlement: order %s is paid but recipe %s not found", e.OrderID, e.RecipeID)
}

func (e *PartialSettlementError) Unwrap() error {
	return ErrPartialSettlement
}

// StatusConflictError provides details about a failed conditional status write.
type StatusConflictError struct {
	OrderID  OrderID
	Expected OrderStatus
	Actual   OrderStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("order %s: expected status %s, found %s", e.OrderID, e.Expected, e.Actual)
}

func (e *StatusConflictError) Unwrap() error {
	return ErrStatusConflict
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true for store-level uniqueness or status conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict) ||
		errors.Is(err, ErrDuplicateLedgerEntry) ||
		errors.Is(err, ErrDuplicateOrder)
}
