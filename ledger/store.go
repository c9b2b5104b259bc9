/*
store.go - Persistence interfaces for the stock ledger

PURPOSE:
  Defines the interface between the ledger's domain logic and the database.
  The transaction processors never touch a database handle directly; they
  receive a TxStore and run each RecordSale / RecordReturn inside exactly
  one WithTx scope.

KEY INTERFACES:
  Store:   Row-level operations (batches, sales, allocations, returns)
  TxStore: Store plus scoped transactions (commit-or-rollback on every exit)

TRANSACTION CONTRACT:
  WithTx(fn) runs fn against a transactional view of the store. If fn
  returns an error the transaction is rolled back and no write survives;
  otherwise it commits. This closes the window the naive pattern leaves
  open (sale header committed, stock decrement lost).

CONCURRENCY CONTRACT:
  AdjustBatchQuantity applies a delta only if the resulting quantity stays
  non-negative, as a single compare-and-swap. Two concurrent sales racing
  for the same batch cannot both win: the loser gets ErrConcurrencyConflict
  and its whole transaction rolls back.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and development

SEE ALSO:
  - sale.go, returns.go: The only callers of WithTx
  - query.go: Read-only projections built on the same interface
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

type Store interface {
	// --- Batches ---

	// InsertBatch creates a new intake lot and returns its id.
	InsertBatch(ctx context.Context, b Batch) (BatchID, error)

	// GetBatch returns a batch by id, or nil if it does not exist.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// ListBatches returns the batches of a product in ReceivedAt order
	// (ties broken by id ascending). With includeEmpty=false only batches
	// with quantity > 0 are returned; consumption planning uses that form,
	// audit callers pass includeEmpty=true.
	ListBatches(ctx context.Context, productID ProductID, order BatchOrder, includeEmpty bool) ([]Batch, error)

	// ListAllBatches returns every batch of every product, newest first.
	ListAllBatches(ctx context.Context) ([]Batch, error)

	// AdjustBatchQuantity atomically applies delta to a batch's quantity.
	// Fails with ErrConcurrencyConflict if the adjustment would drive the
	// quantity negative (a concurrent writer consumed the stock first) and
	// with ErrBatchNotFound if the batch does not exist.
	AdjustBatchQuantity(ctx context.Context, id BatchID, delta int) error

	// LatestBatch returns the most recently received batch of a product
	// (LIFO restock target), or nil if the product has no batch at all.
	LatestBatch(ctx context.Context, productID ProductID) (*Batch, error)

	// --- Sales ---

	// InsertSale creates a sale header. Fails with
	// ErrDuplicateIdempotencyKey if the sale's key was already used.
	InsertSale(ctx context.Context, s Sale) (SaleID, error)

	InsertSaleItem(ctx context.Context, it SaleItem) (SaleItemID, error)
	InsertAllocation(ctx context.Context, a Allocation) error

	// GetSaleItem returns a sale line by id, or nil if it does not exist.
	GetSaleItem(ctx context.Context, id SaleItemID) (*SaleItem, error)

	// ReduceSaleItemQuantity decrements the effective sold quantity of a
	// line. Fails with ErrConcurrencyConflict if the reduction would drive
	// it negative (a concurrent return won the race).
	ReduceSaleItemQuantity(ctx context.Context, id SaleItemID, by int) error

	// AllocationsForSaleItem returns the allocation history of a line with
	// batch provenance, in allocation order.
	AllocationsForSaleItem(ctx context.Context, id SaleItemID) ([]AllocationDetail, error)

	// --- Returns ---

	// InsertReturn records a return. Fails with
	// ErrDuplicateIdempotencyKey if the return's key was already used.
	InsertReturn(ctx context.Context, r Return) (ReturnID, error)

	// ReturnedQuantity sums prior returns against a sale line.
	ReturnedQuantity(ctx context.Context, id SaleItemID) (int, error)

	// ListReturns returns all returns, newest first.
	ListReturns(ctx context.Context) ([]Return, error)

	// --- Catalog reads ---

	// GetProduct returns a product by id, or nil if it does not exist.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// ProductExists is the catalog boundary check used to validate sale
	// and intake lines before the ledger accepts them.
	ProductExists(ctx context.Context, id ProductID) (bool, error)

	// --- Aggregates ---

	// OnHand sums batch quantities for a product.
	OnHand(ctx context.Context, productID ProductID) (int, error)

	// NearExpiry returns live batches with an expiry date on or before
	// cutoff, ordered by expiry ascending.
	NearExpiry(ctx context.Context, cutoff time.Time) ([]Batch, error)

	// LowStock returns products whose summed on-hand quantity is at or
	// below threshold, lowest first.
	LowStock(ctx context.Context, threshold int) ([]ProductOnHand, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Scoped unit of work
// =============================================================================

// TxStore wraps Store with transaction support. RecordSale and RecordReturn
// each execute as exactly one WithTx scope: either everything commits (sale
// header, lines, allocations, batch decrements) or nothing does.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
