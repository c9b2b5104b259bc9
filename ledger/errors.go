/*
errors.go - Centralized error types for the stock ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer translates these into HTTP status codes; nothing below
  the transaction processors is allowed to swallow them.

ERROR CATEGORIES:
  1. Validation errors - bad quantities, unknown products
  2. Allocation errors - FIFO consumption cannot satisfy a line
  3. Store errors - lost races, duplicate submissions

PROPAGATION:
  Every error raised inside the allocation engine or the return policy
  aborts the enclosing transaction. There are no partial commits: a sale
  that is short on any line leaves the ledger untouched.

SEE ALSO:
  - allocation.go: Raises InsufficientStockError
  - sale.go / returns.go: Translate errors for callers
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
	// ErrInvalidQuantity is returned when a requested quantity is zero,
	// negative, or exceeds what is legally returnable.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrProductNotFound is returned when a referenced product does not
	// exist in the catalog.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is returned when FIFO consumption cannot fully
	// satisfy a sale line. The sale is rejected, never under-fulfilled.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBatchNotFound is returned when a referenced batch does not exist.
	// The return policy synthesizes a batch rather than failing, so this
	// normally surfaces only for bad explicit batch references.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrSaleItemNotFound is returned when a return references an unknown
	// sale line.
	ErrSaleItemNotFound = errors.New("sale item not found")

	// ErrConcurrencyConflict is returned when a transaction lost a race for
	// a batch row. The whole transaction rolled back; the caller may retry.
	ErrConcurrencyConflict = errors.New("concurrent stock modification")

	// ErrDuplicateIdempotencyKey is returned when a sale or return carries
	// an idempotency key that was already processed. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports how short a product's live batches were.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	ShortBy   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, short by %d",
		e.ProductID, e.Requested, e.ShortBy)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidQuantityError reports why a quantity was rejected.
type InvalidQuantityError struct {
	Quantity int
	Reason   string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d: %s", e.Quantity, e.Reason)
}

func (e *InvalidQuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrSaleItemNotFound)
}
