/*
allocation.go - FIFO consumption planning and LIFO restock selection

PURPOSE:
  The allocation engine answers one question: given a product and a
  requested quantity, which batches give up how many units? It walks live
  batches oldest-first and drains each in turn until the request is met.

SHORTAGE POLICY:
  If the batches run out before the request is met, the WHOLE line fails
  with InsufficientStockError. The engine never commits a partial plan.
  Silently under-fulfilling while recording the full requested quantity
  would break the conservation invariant (recorded sold != actually drawn),
  so shortage is a hard, transaction-aborting error.

DETERMINISM:
  Batches sharing an identical ReceivedAt are consumed in id order, so the
  same ledger state always yields the same plan.

RESTOCK POLICY (returns):
  Returned stock goes into the most recently received batch of the product,
  regardless of which batch the sale originally drew from. Returned goods
  are assumed immediately resaleable and are conservatively pooled with the
  freshest lot. If the product has no batch at all, a synthetic "RETURN"
  batch with zero cost is created. This is a deliberate policy choice, not
  a shortcut: reversing the original allocations would reattribute stock to
  possibly depleted or since-sold-through lots for no operational gain.

SEE ALSO:
  - sale.go: Applies consumption plans inside the sale transaction
  - returns.go: Applies the restock policy inside the return transaction
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// CONSUMPTION PLAN - Output of the allocation engine
// =============================================================================

// Draw is one step of a consumption plan: take Quantity units from Batch.
type Draw struct {
	Batch    Batch
	Quantity int
}

// ConsumptionPlan is the ordered list of draws that satisfies one sale line.
type ConsumptionPlan struct {
	ProductID ProductID
	Requested int
	Draws     []Draw
}

// TotalDrawn sums the plan's draw quantities. Equals Requested for any plan
// the engine returns without error.
func (p ConsumptionPlan) TotalDrawn() int {
	total := 0
	for _, d := range p.Draws {
		total += d.Quantity
	}
	return total
}

// =============================================================================
// PLANNING - Pure, side-effect free
// =============================================================================

// PlanConsumption builds a FIFO consumption plan from the given batches.
// The batches must already be live (quantity > 0) and ordered oldest-first,
// ties broken by id; that ordering is the store's contract (ListBatches
// with OldestFirst), not re-checked here.
//
// Fails with InsufficientStockError when the batches cannot cover the
// request. The returned plan always covers the request exactly.
func PlanConsumption(productID ProductID, requested int, batches []Batch) (ConsumptionPlan, error) {
	plan := ConsumptionPlan{ProductID: productID, Requested: requested}

	if requested <= 0 {
		return plan, &InvalidQuantityError{Quantity: requested, Reason: "requested quantity must be positive"}
	}

	remaining := requested
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		if b.Quantity <= 0 {
			continue
		}
		take := min(remaining, b.Quantity)
		plan.Draws = append(plan.Draws, Draw{Batch: b, Quantity: take})
		remaining -= take
	}

	if remaining > 0 {
		return ConsumptionPlan{}, &InsufficientStockError{
			ProductID: productID,
			Requested: requested,
			ShortBy:   remaining,
		}
	}
	return plan, nil
}

// =============================================================================
// ALLOCATION ENGINE - Plans against live stock and applies atomically
// =============================================================================

// AllocationEngine consumes batches for sale lines. It must only be used
// inside a transaction scope: Allocate re-reads live batches through the
// store it is given so that advisory reads (dashboards, availability
// checks) can never leak into the write path.
type AllocationEngine struct{}

// Allocate plans FIFO consumption for a line and applies it: each drawn
// batch is decremented and an allocation row is written per draw.
//
// The batch decrement is a compare-and-swap; if a concurrent sale drained
// a batch between the read and the write, ErrConcurrencyConflict surfaces
// and the enclosing transaction rolls back.
func (AllocationEngine) Allocate(ctx context.Context, store Store, saleItemID SaleItemID, productID ProductID, quantity int) ([]Draw, error) {
	batches, err := store.ListBatches(ctx, productID, OldestFirst, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches for product %d: %w", productID, err)
	}

	plan, err := PlanConsumption(productID, quantity, batches)
	if err != nil {
		return nil, err
	}

	for _, d := range plan.Draws {
		if err := store.AdjustBatchQuantity(ctx, d.Batch.ID, -d.Quantity); err != nil {
			return nil, err
		}
		if err := store.InsertAllocation(ctx, Allocation{
			SaleItemID: saleItemID,
			BatchID:    d.Batch.ID,
			Quantity:   d.Quantity,
		}); err != nil {
			return nil, fmt.Errorf("failed to record allocation: %w", err)
		}
	}
	return plan.Draws, nil
}

// =============================================================================
// RESTOCK POLICY - LIFO destination for returns
// =============================================================================

// SelectRestockBatch picks the return destination for a product: the most
// recently received batch, or a freshly synthesized zero-cost RETURN batch
// when the product has none. Returns the destination batch id and whether
// it was synthesized.
func SelectRestockBatch(ctx context.Context, store Store, productID ProductID, quantity int, now time.Time) (BatchID, bool, error) {
	latest, err := store.LatestBatch(ctx, productID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find restock batch: %w", err)
	}

	if latest != nil {
		if err := store.AdjustBatchQuantity(ctx, latest.ID, quantity); err != nil {
			return 0, false, err
		}
		return latest.ID, false, nil
	}

	id, err := store.InsertBatch(ctx, Batch{
		ProductID:  productID,
		LotLabel:   SyntheticLotLabel,
		Quantity:   quantity,
		CostPrice:  NewMoney(0),
		ReceivedAt: now,
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to synthesize restock batch: %w", err)
	}
	return id, true, nil
}
