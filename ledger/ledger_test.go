package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// INTAKE
// =============================================================================

func TestIntake_CreatesBatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1)
	stock := ledger.NewStockLedger(m)

	expiry := day(30)
	supplierID := int64(7)
	b, err := stock.Intake(ctx, ledger.IntakeRequest{
		ProductID:  1,
		SupplierID: &supplierID,
		LotLabel:   "LOT-2025-031",
		Quantity:   40,
		ExpiryDate: &expiry,
		CostPrice:  ledger.MustParseMoney("1.25"),
		ReceivedAt: day(1),
	})
	require.NoError(t, err)
	assert.NotZero(t, b.ID)

	stored, err := m.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 40, stored.Quantity)
	assert.Equal(t, "LOT-2025-031", stored.LotLabel)
	assert.Equal(t, day(1), stored.ReceivedAt)

	onHand, err := stock.GetOnHand(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 40, onHand)
}

func TestIntake_DefaultsReceivedAt(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1)
	stock := ledger.NewStockLedger(m)

	before := time.Now().UTC()
	b, err := stock.Intake(ctx, ledger.IntakeRequest{
		ProductID: 1,
		Quantity:  5,
		CostPrice: ledger.NewMoney(1),
	})
	require.NoError(t, err)
	assert.False(t, b.ReceivedAt.Before(before), "ReceivedAt should default to now")
}

func TestIntake_NonPositiveQuantity_Rejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1)
	stock := ledger.NewStockLedger(m)

	for _, qty := range []int{0, -10} {
		_, err := stock.Intake(ctx, ledger.IntakeRequest{ProductID: 1, Quantity: qty})
		assert.ErrorIs(t, err, ledger.ErrInvalidQuantity, "quantity %d", qty)
	}
}

func TestIntake_UnknownProduct_Rejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewTxMemory()
	stock := ledger.NewStockLedger(m)

	_, err := stock.Intake(ctx, ledger.IntakeRequest{ProductID: 42, Quantity: 5})
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
}

// =============================================================================
// BATCH LISTING
// =============================================================================

func TestListBatches_OrderAndEmptyFilter(t *testing.T) {
	// GIVEN: Three batches, one drained
	// WHEN: Listing oldest-first without empties, then newest-first with them
	// THEN: Ordering and filtering both hold

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 0, day(2)),
		batch(0, 1, 9, day(3)),
	)
	stock := ledger.NewStockLedger(m)

	live, err := stock.ListBatches(ctx, 1, ledger.OldestFirst, false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, ids[0], live[0].ID)
	assert.Equal(t, ids[2], live[1].ID)

	all, err := stock.ListBatches(ctx, 1, ledger.NewestFirst, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)
}

func TestListBatches_SameReceivedAt_TieBreaksOnID(t *testing.T) {
	// GIVEN: Two batches received at the identical instant
	// WHEN: Listing oldest-first
	// THEN: The lower id comes first, so consumption is deterministic

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 5, day(1)),
	)
	stock := ledger.NewStockLedger(m)

	live, err := stock.ListBatches(ctx, 1, ledger.OldestFirst, false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, ids[0], live[0].ID)
	assert.Equal(t, ids[1], live[1].ID)
}
