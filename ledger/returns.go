/*
returns.go - Return transaction processor

PURPOSE:
  Accepts a previously sold sale line and a return quantity, restocks the
  returned units into a batch chosen by the LIFO policy and records a
  Return row - all inside one transaction.

PRECONDITIONS:
  quantity > 0 and quantity <= the line's current effective sold quantity.
  The effective quantity is what remains after prior returns, so a line
  can never be returned past what was actually kept.

WHAT A RETURN DOES NOT DO:
  - It does not delete or modify Allocation rows; which batch originally
    served the sale stays on record for traceability.
  - It does not touch the sale header's recorded total.

SEE ALSO:
  - allocation.go: SelectRestockBatch (LIFO policy, RETURN batch fallback)
  - sale.go: The consumption side this reverses in aggregate
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RETURN PROCESSOR
// =============================================================================

// ReturnRequest is a return as submitted by the returns desk.
type ReturnRequest struct {
	SaleItemID     SaleItemID
	Quantity       int
	Reason         string
	IdempotencyKey string
}

// ReturnProcessor records returns against the ledger.
type ReturnProcessor struct {
	store TxStore
	now   func() time.Time
}

func NewReturnProcessor(store TxStore) *ReturnProcessor {
	return &ReturnProcessor{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RecordReturn validates the request, restocks the returned units LIFO,
// records the return and reduces the line's effective sold quantity.
// Runs as a single unit of work.
func (p *ReturnProcessor) RecordReturn(ctx context.Context, req ReturnRequest) (*ReturnReceipt, error) {
	if req.Quantity <= 0 {
		return nil, &InvalidQuantityError{Quantity: req.Quantity, Reason: "return quantity must be positive"}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var receipt *ReturnReceipt
	err := p.store.WithTx(ctx, func(store Store) error {
		item, err := store.GetSaleItem(ctx, req.SaleItemID)
		if err != nil {
			return fmt.Errorf("failed to load sale item %d: %w", req.SaleItemID, err)
		}
		if item == nil {
			return fmt.Errorf("return against sale item %d: %w", req.SaleItemID, ErrSaleItemNotFound)
		}

		// item.Quantity is already the effective sold quantity (original
		// minus prior returns), so it bounds what is legally returnable.
		if req.Quantity > item.Quantity {
			return &InvalidQuantityError{
				Quantity: req.Quantity,
				Reason:   fmt.Sprintf("only %d units of sale item %d remain returnable", item.Quantity, item.ID),
			}
		}

		now := p.now()
		batchID, synthesized, err := SelectRestockBatch(ctx, store, item.ProductID, req.Quantity, now)
		if err != nil {
			return err
		}

		returnID, err := store.InsertReturn(ctx, Return{
			SaleItemID:     req.SaleItemID,
			Quantity:       req.Quantity,
			Reason:         req.Reason,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		if err := store.ReduceSaleItemQuantity(ctx, req.SaleItemID, req.Quantity); err != nil {
			return err
		}

		receipt = &ReturnReceipt{
			ReturnID:       returnID,
			SaleItemID:     req.SaleItemID,
			ProductID:      item.ProductID,
			Quantity:       req.Quantity,
			RestockBatchID: batchID,
			Synthesized:    synthesized,
			CreatedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// History returns all recorded returns, newest first.
func (p *ReturnProcessor) History(ctx context.Context) ([]Return, error) {
	return p.store.ListReturns(ctx)
}
