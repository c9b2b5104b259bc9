package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

func batch(id int64, productID int64, qty int, receivedAt time.Time) ledger.Batch {
	return ledger.Batch{
		ID:         ledger.BatchID(id),
		ProductID:  ledger.ProductID(productID),
		Quantity:   qty,
		CostPrice:  ledger.NewMoney(1),
		ReceivedAt: receivedAt,
	}
}

// newStockedStore seeds a memory store with one product and its batches,
// returning the assigned batch ids in insertion order.
func newStockedStore(t *testing.T, productID int64, batches ...ledger.Batch) (*store.TxMemory, []ledger.BatchID) {
	t.Helper()
	m := store.NewTxMemory()
	m.PutProduct(ledger.Product{ID: ledger.ProductID(productID), Name: "Paracetamol 500mg", SalePrice: ledger.NewMoney(2)})

	ids := make([]ledger.BatchID, 0, len(batches))
	for _, b := range batches {
		b.ID = 0
		b.ProductID = ledger.ProductID(productID)
		id, err := m.InsertBatch(context.Background(), b)
		if err != nil {
			t.Fatalf("failed to seed batch: %v", err)
		}
		ids = append(ids, id)
	}
	return m, ids
}

// =============================================================================
// CONSUMPTION PLANNING TESTS
// =============================================================================

func TestPlanConsumption_SingleBatchCoversRequest(t *testing.T) {
	// GIVEN: One batch with 10 units
	// WHEN: Planning consumption of 4
	// THEN: One draw of 4 from that batch

	batches := []ledger.Batch{batch(1, 1, 10, day(1))}

	plan, err := ledger.PlanConsumption(1, 4, batches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Draws) != 1 {
		t.Fatalf("expected 1 draw, got %d", len(plan.Draws))
	}
	if plan.Draws[0].Quantity != 4 {
		t.Errorf("expected draw of 4, got %d", plan.Draws[0].Quantity)
	}
	if plan.TotalDrawn() != 4 {
		t.Errorf("expected total drawn 4, got %d", plan.TotalDrawn())
	}
}

func TestPlanConsumption_SpansBatchesOldestFirst(t *testing.T) {
	// GIVEN: Batch A (older, 5 units) and batch B (newer, 10 units)
	// WHEN: Planning consumption of 7
	// THEN: A is fully drained (5) before B is touched (2)

	batches := []ledger.Batch{
		batch(1, 1, 5, day(1)),
		batch(2, 1, 10, day(2)),
	}

	plan, err := ledger.PlanConsumption(1, 7, batches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].Batch.ID != 1 || plan.Draws[0].Quantity != 5 {
		t.Errorf("expected first draw {batch 1, qty 5}, got {batch %d, qty %d}",
			plan.Draws[0].Batch.ID, plan.Draws[0].Quantity)
	}
	if plan.Draws[1].Batch.ID != 2 || plan.Draws[1].Quantity != 2 {
		t.Errorf("expected second draw {batch 2, qty 2}, got {batch %d, qty %d}",
			plan.Draws[1].Batch.ID, plan.Draws[1].Quantity)
	}
}

func TestPlanConsumption_ExactDepletion(t *testing.T) {
	// GIVEN: Batches totalling exactly the request
	// WHEN: Planning consumption
	// THEN: Plan succeeds and drains everything

	batches := []ledger.Batch{
		batch(1, 1, 3, day(1)),
		batch(2, 1, 4, day(2)),
	}

	plan, err := ledger.PlanConsumption(1, 7, batches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TotalDrawn() != 7 {
		t.Errorf("expected total drawn 7, got %d", plan.TotalDrawn())
	}
}

func TestPlanConsumption_Shortage_ReportsShortBy(t *testing.T) {
	// GIVEN: 8 units on hand across two batches
	// WHEN: Planning consumption of 20
	// THEN: InsufficientStockError with ShortBy 12, no partial plan

	batches := []ledger.Batch{
		batch(1, 1, 5, day(1)),
		batch(2, 1, 3, day(2)),
	}

	plan, err := ledger.PlanConsumption(1, 20, batches)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var short *ledger.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %T: %v", err, err)
	}
	if short.ProductID != 1 || short.Requested != 20 || short.ShortBy != 12 {
		t.Errorf("expected {product 1, requested 20, short 12}, got %+v", short)
	}
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Error("error should unwrap to ErrInsufficientStock")
	}
	if len(plan.Draws) != 0 {
		t.Errorf("shortage must not yield a partial plan, got %d draws", len(plan.Draws))
	}
}

func TestPlanConsumption_ZeroRequest_Rejected(t *testing.T) {
	// GIVEN: Plenty of stock
	// WHEN: Planning consumption of 0
	// THEN: InvalidQuantityError

	batches := []ledger.Batch{batch(1, 1, 10, day(1))}

	_, err := ledger.PlanConsumption(1, 0, batches)
	if !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestPlanConsumption_SkipsEmptyBatches(t *testing.T) {
	// GIVEN: An already-drained batch sitting between live ones
	// WHEN: Planning consumption
	// THEN: The empty batch contributes nothing

	batches := []ledger.Batch{
		batch(1, 1, 2, day(1)),
		batch(2, 1, 0, day(2)),
		batch(3, 1, 5, day(3)),
	}

	plan, err := ledger.PlanConsumption(1, 4, batches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[1].Batch.ID != 3 {
		t.Errorf("expected second draw from batch 3, got batch %d", plan.Draws[1].Batch.ID)
	}
}

// =============================================================================
// ALLOCATION ENGINE TESTS (against the memory store)
// =============================================================================

func TestAllocate_DecrementsBatchesAndRecordsAllocations(t *testing.T) {
	// GIVEN: Batch A (older, 5) and batch B (newer, 10)
	// WHEN: Allocating 7 units for a sale line
	// THEN: A is drained to 0, B to 8, and two allocation rows exist

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 10, day(2)),
	)

	var engine ledger.AllocationEngine
	draws, err := engine.Allocate(ctx, m, 100, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(draws))
	}

	a, _ := m.GetBatch(ctx, ids[0])
	b, _ := m.GetBatch(ctx, ids[1])
	if a.Quantity != 0 {
		t.Errorf("expected batch A drained to 0, got %d", a.Quantity)
	}
	if b.Quantity != 8 {
		t.Errorf("expected batch B at 8, got %d", b.Quantity)
	}

	onHand, _ := m.OnHand(ctx, 1)
	if onHand != 8 {
		t.Errorf("expected on-hand 8 after allocation, got %d", onHand)
	}
}

func TestAllocate_Shortage_LeavesStockUntouched(t *testing.T) {
	// GIVEN: 8 units on hand
	// WHEN: Allocating 20
	// THEN: InsufficientStockError and no batch was decremented

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 3, day(2)),
	)

	var engine ledger.AllocationEngine
	_, err := engine.Allocate(ctx, m, 100, 1, 20)
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	a, _ := m.GetBatch(ctx, ids[0])
	b, _ := m.GetBatch(ctx, ids[1])
	if a.Quantity != 5 || b.Quantity != 3 {
		t.Errorf("stock must be untouched after shortage, got %d and %d", a.Quantity, b.Quantity)
	}
}

// =============================================================================
// RESTOCK POLICY TESTS
// =============================================================================

func TestSelectRestockBatch_PicksNewestBatch(t *testing.T) {
	// GIVEN: Two batches, the second received later
	// WHEN: Restocking 2 units
	// THEN: The newest batch is incremented, nothing synthesized

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 10, day(2)),
	)

	id, synthesized, err := ledger.SelectRestockBatch(ctx, m, 1, 2, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synthesized {
		t.Error("expected existing batch, got synthesized")
	}
	if id != ids[1] {
		t.Errorf("expected newest batch %d, got %d", ids[1], id)
	}

	b, _ := m.GetBatch(ctx, ids[1])
	if b.Quantity != 12 {
		t.Errorf("expected newest batch at 12, got %d", b.Quantity)
	}
}

func TestSelectRestockBatch_NoBatches_SynthesizesReturnBatch(t *testing.T) {
	// GIVEN: A product with no batches at all
	// WHEN: Restocking 3 units
	// THEN: A zero-cost RETURN batch is created holding the units

	ctx := context.Background()
	m, _ := newStockedStore(t, 1)

	id, synthesized, err := ledger.SelectRestockBatch(ctx, m, 1, 3, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !synthesized {
		t.Fatal("expected a synthesized batch")
	}

	b, _ := m.GetBatch(ctx, id)
	if b == nil {
		t.Fatal("synthesized batch not found")
	}
	if b.LotLabel != ledger.SyntheticLotLabel {
		t.Errorf("expected lot label %q, got %q", ledger.SyntheticLotLabel, b.LotLabel)
	}
	if b.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", b.Quantity)
	}
	if !b.CostPrice.IsZero() {
		t.Errorf("expected zero cost, got %s", b.CostPrice)
	}
	if b.ExpiryDate != nil {
		t.Error("synthesized batch must not carry an expiry date")
	}
}

func TestSelectRestockBatch_PicksDepletedNewestBatch(t *testing.T) {
	// GIVEN: The newest batch is fully drained, an older one still live
	// WHEN: Restocking 2 units
	// THEN: The units still go to the newest batch, reviving it

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 0, day(2)),
	)

	id, synthesized, err := ledger.SelectRestockBatch(ctx, m, 1, 2, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synthesized || id != ids[1] {
		t.Errorf("expected newest batch %d, got %d (synthesized=%v)", ids[1], id, synthesized)
	}

	b, _ := m.GetBatch(ctx, ids[1])
	if b.Quantity != 2 {
		t.Errorf("expected revived batch at 2, got %d", b.Quantity)
	}
}

// =============================================================================
// CONCURRENCY GUARD TESTS
// =============================================================================

func TestAdjustBatchQuantity_NegativeResult_Conflict(t *testing.T) {
	// GIVEN: A batch with 3 units
	// WHEN: Decrementing by 5
	// THEN: ErrConcurrencyConflict and the quantity is unchanged

	ctx := context.Background()
	m, ids := newStockedStore(t, 1, batch(0, 1, 3, day(1)))

	err := m.AdjustBatchQuantity(ctx, ids[0], -5)
	if !errors.Is(err, ledger.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	b, _ := m.GetBatch(ctx, ids[0])
	if b.Quantity != 3 {
		t.Errorf("expected quantity unchanged at 3, got %d", b.Quantity)
	}
}

func TestAdjustBatchQuantity_UnknownBatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1)

	err := m.AdjustBatchQuantity(ctx, 999, -1)
	if !errors.Is(err, ledger.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}
