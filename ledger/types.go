/*
Package ledger provides the batch-level stock ledger core.

PURPOSE:
  This package contains the data model and transactional algorithms for
  lot-tracked inventory. Products are stocked in discrete batches that carry
  their own quantity, expiry date, cost and provenance. Selling consumes
  batches oldest-first (FIFO) and records exactly which batch satisfied which
  sale line; returning restocks the most recent batch (LIFO).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency amount backed by decimal.Decimal
  - Batch: One intake lot of a product (the unit of stock bookkeeping)
  - Sale / SaleItem: A checkout and its lines
  - Allocation: "this many units of this line came from this batch"
  - Return: Units handed back against a sale line

DESIGN PRINCIPLES:
  1. The batch table is the sole source of truth for on-hand stock.
     There is no cached counter to drift out of sync.
  2. Allocations are never deleted. Returns adjust batch quantity and the
     sale line's effective quantity; the allocation history stays intact
     for expiry and recall traceability.
  3. Precision: Money uses decimal.Decimal, never float64.
  4. Stock quantities are integers. You cannot sell half a blister pack.

SEE ALSO:
  - allocation.go: FIFO consumption planning and LIFO restock selection
  - sale.go: Sale transaction processor
  - returns.go: Return transaction processor
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount (always decimal, never float)
// =============================================================================

type Money = decimal.Decimal

func NewMoney(value float64) Money { return decimal.NewFromFloat(value) }

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ProductID  int64
	BatchID    int64
	SaleID     int64
	SaleItemID int64
	ReturnID   int64
)

// =============================================================================
// PRODUCT - Catalog entry (referenced, never mutated, by the ledger)
// =============================================================================

// Product is owned by the catalog. The ledger only reads it to validate
// sale and intake lines and to decorate receipts.
type Product struct {
	ID             ProductID
	Name           string
	SKU            string
	Medical        bool
	CategoryID     *int64
	ManufacturerID *int64
	FormulaID      *int64
	Unit           string
	SalePrice      Money
	Notes          string
}

// =============================================================================
// BATCH - One intake lot of a product
// =============================================================================

// Batch is the unit of stock bookkeeping. Quantity is mutated only by the
// allocation engine (decrement) and the return restock policy (increment)
// and never goes negative.
//
// ReceivedAt is the ordering key: FIFO consumption walks batches oldest
// first, LIFO restock picks the newest. Ties break on ID ascending so
// allocation order is deterministic.
type Batch struct {
	ID         BatchID
	ProductID  ProductID
	SupplierID *int64
	LotLabel   string
	Quantity   int
	ExpiryDate *time.Time
	CostPrice  Money
	ReceivedAt time.Time
}

// Expired reports whether the batch has an expiry date in the past.
func (b Batch) Expired(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}

// BatchOrder selects the ReceivedAt ordering for ListBatches.
type BatchOrder string

const (
	OldestFirst BatchOrder = "received_at asc"  // FIFO consumption
	NewestFirst BatchOrder = "received_at desc" // LIFO restock
)

// SyntheticLotLabel marks a batch created by the return policy when a
// product has no batch left to restock into.
const SyntheticLotLabel = "RETURN"

// =============================================================================
// SALE - Checkout header and lines
// =============================================================================

// Sale is created once per checkout and never mutated afterwards. Returns
// reference its lines but do not recompute the recorded total.
type Sale struct {
	ID            SaleID
	OperatorID    string
	CustomerName  string
	CustomerPhone string
	Discount      Money
	Tax           Money
	Total         Money
	// IdempotencyKey guards against double submission from the POS.
	// Unique when set; replays are rejected, not re-applied.
	IdempotencyKey string
	CreatedAt      time.Time
}

// SaleItem is one line of a sale. Quantity is the effective sold quantity:
// it starts at the requested amount and is reduced by returns. The original
// request is always recoverable as Quantity plus the line's return total.
type SaleItem struct {
	ID        SaleItemID
	SaleID    SaleID
	ProductID ProductID
	Quantity  int
	UnitPrice Money
}

// =============================================================================
// ALLOCATION - Which batch served which sale line
// =============================================================================

// Allocation records that Quantity units of a sale line were physically
// drawn from a batch. Created exclusively at sale time, never deleted.
type Allocation struct {
	SaleItemID SaleItemID
	BatchID    BatchID
	Quantity   int
}

// =============================================================================
// RETURN - Units handed back against a sale line
// =============================================================================

type Return struct {
	ID             ReturnID
	SaleItemID     SaleItemID
	Quantity       int
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// RECEIPTS - Results handed back to the POS / returns UI
// =============================================================================

// AllocationDetail is one allocation decorated with batch provenance for
// receipt rendering and sale-history drill-down.
type AllocationDetail struct {
	BatchID    BatchID
	LotLabel   string
	ExpiryDate *time.Time
	SupplierID *int64
	Quantity   int
}

// LineReceipt is the per-line outcome of a recorded sale.
type LineReceipt struct {
	SaleItemID  SaleItemID
	ProductID   ProductID
	ProductName string
	Quantity    int
	UnitPrice   Money
	Allocations []AllocationDetail
}

// SaleReceipt is returned by RecordSale on success.
type SaleReceipt struct {
	SaleID    SaleID
	Total     Money
	CreatedAt time.Time
	Lines     []LineReceipt
}

// ReturnReceipt is returned by RecordReturn on success.
type ReturnReceipt struct {
	ReturnID       ReturnID
	SaleItemID     SaleItemID
	ProductID      ProductID
	Quantity       int
	RestockBatchID BatchID
	Synthesized    bool // true when the policy had to create a RETURN batch
	CreatedAt      time.Time
}

// ProductOnHand pairs a product with its summed batch quantity.
// Produced by the low-stock query.
type ProductOnHand struct {
	ProductID ProductID
	Name      string
	OnHand    int
}
