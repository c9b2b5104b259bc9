/*
query.go - Read-only stock projections

PURPOSE:
  Advisory aggregates for dashboards and reordering: batches nearing
  expiry, products running low, allocation drill-down for sale history.

ADVISORY ONLY:
  These reads must never feed a write decision. The allocation engine
  always re-queries live batches inside its own transaction, so a stale
  dashboard number can never overdraw a batch.

SEE ALSO:
  - allocation.go: The write path these projections must not influence
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STOCK QUERY SERVICE
// =============================================================================

// StockQuery serves read-only projections over the ledger.
type StockQuery struct {
	store Store
	now   func() time.Time
}

func NewStockQuery(store Store) *StockQuery {
	return &StockQuery{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// NearExpiry returns live batches whose expiry date falls within
// horizonDays from today, soonest first. Batches without an expiry date
// are never reported.
func (q *StockQuery) NearExpiry(ctx context.Context, horizonDays int) ([]Batch, error) {
	cutoff := q.now().AddDate(0, 0, horizonDays)
	return q.store.NearExpiry(ctx, cutoff)
}

// LowStock returns products whose summed on-hand quantity is at or below
// threshold, lowest first. Products with no batches at all count as zero.
func (q *StockQuery) LowStock(ctx context.Context, threshold int) ([]ProductOnHand, error) {
	return q.store.LowStock(ctx, threshold)
}

// AllocationHistory returns the batch-level provenance of one sale line:
// which lots served it, with expiry and supplier for recall drill-down.
func (q *StockQuery) AllocationHistory(ctx context.Context, saleItemID SaleItemID) ([]AllocationDetail, error) {
	item, err := q.store.GetSaleItem(ctx, saleItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrSaleItemNotFound
	}
	return q.store.AllocationsForSaleItem(ctx, saleItemID)
}
