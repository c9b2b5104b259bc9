package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

func line(productID int64, qty int, unitPrice string) ledger.SaleLine {
	return ledger.SaleLine{
		ProductID: ledger.ProductID(productID),
		Quantity:  qty,
		UnitPrice: ledger.MustParseMoney(unitPrice),
	}
}

// =============================================================================
// SALE RECORDING
// =============================================================================

func TestRecordSale_FIFOAcrossBatches(t *testing.T) {
	// GIVEN: Batch A (older, 5 units) and batch B (newer, 10 units)
	// WHEN: Selling 7 units
	// THEN: 5 come from A and 2 from B, in that order

	ctx := context.Background()
	m, ids := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 10, day(2)),
	)
	sales := ledger.NewSaleProcessor(m)

	receipt, err := sales.RecordSale(ctx, ledger.SaleRequest{
		Lines: []ledger.SaleLine{line(1, 7, "2.50")},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 1)

	allocations := receipt.Lines[0].Allocations
	require.Len(t, allocations, 2)
	assert.Equal(t, ids[0], allocations[0].BatchID)
	assert.Equal(t, 5, allocations[0].Quantity)
	assert.Equal(t, ids[1], allocations[1].BatchID)
	assert.Equal(t, 2, allocations[1].Quantity)

	onHand, err := m.OnHand(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, onHand)
}

func TestRecordSale_TotalIncludesDiscountAndTax(t *testing.T) {
	// GIVEN: 3 units at 4.00, discount 1.50, tax 0.60
	// WHEN: Recording the sale
	// THEN: Total is 3*4.00 - 1.50 + 0.60 = 11.10

	ctx := context.Background()
	m, _ := newStockedStore(t, 1, batch(0, 1, 10, day(1)))
	sales := ledger.NewSaleProcessor(m)

	receipt, err := sales.RecordSale(ctx, ledger.SaleRequest{
		Discount: ledger.MustParseMoney("1.50"),
		Tax:      ledger.MustParseMoney("0.60"),
		Lines:    []ledger.SaleLine{line(1, 3, "4.00")},
	})
	require.NoError(t, err)
	assert.True(t, receipt.Total.Equal(ledger.MustParseMoney("11.10")),
		"expected total 11.10, got %s", receipt.Total)
}

func TestRecordSale_MultiLine_AllOrNothing(t *testing.T) {
	// GIVEN: Product 1 well stocked, product 2 with only 1 unit
	// WHEN: A sale asks for 2 of product 1 and 5 of product 2
	// THEN: The whole sale fails and product 1's stock is untouched

	ctx := context.Background()
	m := store.NewTxMemory()
	m.PutProduct(ledger.Product{ID: 1, Name: "Paracetamol 500mg", SalePrice: ledger.NewMoney(2)})
	m.PutProduct(ledger.Product{ID: 2, Name: "Ibuprofen 200mg", SalePrice: ledger.NewMoney(3)})

	b1, err := m.InsertBatch(ctx, batch(0, 1, 10, day(1)))
	require.NoError(t, err)
	_, err = m.InsertBatch(ctx, batch(0, 2, 1, day(1)))
	require.NoError(t, err)

	sales := ledger.NewSaleProcessor(m)
	_, err = sales.RecordSale(ctx, ledger.SaleRequest{
		Lines: []ledger.SaleLine{
			line(1, 2, "2.00"),
			line(2, 5, "3.00"),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, ledger.ProductID(2), short.ProductID)
	assert.Equal(t, 4, short.ShortBy)

	// Product 1's batch was decremented inside the transaction and must be
	// restored by the rollback.
	first, err := m.GetBatch(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Quantity)

	onHand2, err := m.OnHand(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, onHand2)

	// No allocation rows survive either.
	details, err := m.AllocationsForSaleItem(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, details)
}

func TestRecordSale_UnknownProduct_Rejected(t *testing.T) {
	ctx := context.Background()
	m, ids := newStockedStore(t, 1, batch(0, 1, 10, day(1)))
	sales := ledger.NewSaleProcessor(m)

	_, err := sales.RecordSale(ctx, ledger.SaleRequest{
		Lines: []ledger.SaleLine{
			line(1, 2, "2.00"),
			line(99, 1, "5.00"),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)

	b, err := m.GetBatch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 10, b.Quantity, "rolled-back sale must not move stock")
}

func TestRecordSale_NonPositiveLine_Rejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1, batch(0, 1, 10, day(1)))
	sales := ledger.NewSaleProcessor(m)

	for _, qty := range []int{0, -3} {
		_, err := sales.RecordSale(ctx, ledger.SaleRequest{
			Lines: []ledger.SaleLine{line(1, qty, "2.00")},
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidQuantity, "quantity %d", qty)
	}
}

func TestRecordSale_NoLines_Rejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newStockedStore(t, 1)
	sales := ledger.NewSaleProcessor(m)

	_, err := sales.RecordSale(ctx, ledger.SaleRequest{})
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

func TestRecordSale_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: A sale recorded with an explicit idempotency key
	// WHEN: The same submission is replayed
	// THEN: The replay is rejected and stock is charged only once

	ctx := context.Background()
	m, _ := newStockedStore(t, 1, batch(0, 1, 10, day(1)))
	sales := ledger.NewSaleProcessor(m)

	req := ledger.SaleRequest{
		Lines:          []ledger.SaleLine{line(1, 2, "2.00")},
		IdempotencyKey: "pos-7-receipt-42",
	}

	_, err := sales.RecordSale(ctx, req)
	require.NoError(t, err)

	_, err = sales.RecordSale(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	onHand, err := m.OnHand(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, onHand, "replay must not consume stock twice")
}

func TestRecordSale_ExactDepletion_ThenNextSaleFails(t *testing.T) {
	// GIVEN: Exactly 8 units on hand
	// WHEN: Selling 8, then attempting to sell 1 more
	// THEN: First sale succeeds, second fails with ShortBy 1

	ctx := context.Background()
	m, _ := newStockedStore(t, 1,
		batch(0, 1, 5, day(1)),
		batch(0, 1, 3, day(2)),
	)
	sales := ledger.NewSaleProcessor(m)

	_, err := sales.RecordSale(ctx, ledger.SaleRequest{
		Lines: []ledger.SaleLine{line(1, 8, "2.00")},
	})
	require.NoError(t, err)

	onHand, _ := m.OnHand(ctx, 1)
	assert.Equal(t, 0, onHand)

	_, err = sales.RecordSale(ctx, ledger.SaleRequest{
		Lines: []ledger.SaleLine{line(1, 1, "2.00")},
	})
	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.ShortBy)
}
