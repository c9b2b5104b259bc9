/*
ledger.go - Stock ledger service (intake and on-hand reads)

PURPOSE:
  The set of batch records per product IS the stock ledger; this service is
  its public face. Intake creates batches, GetOnHand and ListBatches read
  them. All mutation beyond intake goes through the sale and return
  processors - external callers never decrement a batch directly.

INVARIANT:
  A product's on-hand quantity is always the sum of its batch quantities.
  There is no cached counter anywhere in the system that could diverge.

SEE ALSO:
  - sale.go: The only consumer of batch stock
  - returns.go: The only other producer of batch stock
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// STOCK LEDGER - Intake and reads over the batch table
// =============================================================================

// StockLedger exposes intake and read access to the batch table.
type StockLedger struct {
	store TxStore
}

func NewStockLedger(store TxStore) *StockLedger {
	return &StockLedger{store: store}
}

// IntakeRequest describes one received lot.
type IntakeRequest struct {
	ProductID  ProductID
	SupplierID *int64
	LotLabel   string
	Quantity   int
	ExpiryDate *time.Time
	CostPrice  Money
	ReceivedAt time.Time
}

// Intake creates a new batch for a received lot.
// The quantity must be positive and the product must exist in the catalog.
func (l *StockLedger) Intake(ctx context.Context, req IntakeRequest) (*Batch, error) {
	if req.Quantity <= 0 {
		return nil, &InvalidQuantityError{Quantity: req.Quantity, Reason: "intake quantity must be positive"}
	}

	exists, err := l.store.ProductExists(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to check product %d: %w", req.ProductID, err)
	}
	if !exists {
		return nil, fmt.Errorf("intake for product %d: %w", req.ProductID, ErrProductNotFound)
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	batch := Batch{
		ProductID:  req.ProductID,
		SupplierID: req.SupplierID,
		LotLabel:   req.LotLabel,
		Quantity:   req.Quantity,
		ExpiryDate: req.ExpiryDate,
		CostPrice:  req.CostPrice,
		ReceivedAt: receivedAt,
	}

	id, err := l.store.InsertBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to record intake: %w", err)
	}
	batch.ID = id
	return &batch, nil
}

// GetOnHand sums batch quantities for a product. Side-effect free.
func (l *StockLedger) GetOnHand(ctx context.Context, productID ProductID) (int, error) {
	return l.store.OnHand(ctx, productID)
}

// ListBatches returns a product's batches in the given ReceivedAt order.
// Consumption planning callers pass includeEmpty=false; audit and
// reporting callers pass true to see depleted lots as well.
func (l *StockLedger) ListBatches(ctx context.Context, productID ProductID, order BatchOrder, includeEmpty bool) ([]Batch, error) {
	return l.store.ListBatches(ctx, productID, order, includeEmpty)
}

// ListAllBatches returns every batch across all products, newest first.
// Intake audit view.
func (l *StockLedger) ListAllBatches(ctx context.Context) ([]Batch, error) {
	return l.store.ListAllBatches(ctx)
}
