/*
sale.go - Sale transaction processor

PURPOSE:
  Turns a checkout (operator, customer, ordered lines) into a Sale header,
  SaleItem lines and Allocation records, consuming batch stock FIFO - all
  inside one transaction.

ALL-OR-NOTHING:
  A multi-line sale commits completely or not at all. If ANY line cannot be
  fully satisfied from live batches the whole transaction rolls back: no
  sale header, no lines, no allocations, no stock change. The first
  shortage encountered is the one surfaced to the caller.

TOTAL:
  total = sum(quantity * unit price) - discount + tax, computed once at
  checkout and recorded on the header. Later returns reduce the line's
  effective quantity but never rewrite this total.

SEE ALSO:
  - allocation.go: FIFO planning applied per line
  - returns.go: The complementary restock path
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SALE PROCESSOR
// =============================================================================

// SaleLine is one requested line of a checkout.
type SaleLine struct {
	ProductID ProductID
	Quantity  int
	UnitPrice Money
}

// SaleRequest is a checkout as submitted by the POS.
type SaleRequest struct {
	OperatorID    string
	CustomerName  string
	CustomerPhone string
	Discount      Money
	Tax           Money
	Lines         []SaleLine
	// IdempotencyKey is optional; a fresh one is generated when absent so
	// every sale row carries a unique submission marker.
	IdempotencyKey string
}

// SaleProcessor records sales against the ledger.
type SaleProcessor struct {
	store  TxStore
	engine AllocationEngine
	now    func() time.Time
}

func NewSaleProcessor(store TxStore) *SaleProcessor {
	return &SaleProcessor{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RecordSale validates the request, creates the sale header and lines,
// allocates stock FIFO per line and returns a receipt with per-line batch
// detail. Runs as a single unit of work.
func (p *SaleProcessor) RecordSale(ctx context.Context, req SaleRequest) (*SaleReceipt, error) {
	if len(req.Lines) == 0 {
		return nil, &InvalidQuantityError{Quantity: 0, Reason: "sale has no lines"}
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{Quantity: line.Quantity, Reason: fmt.Sprintf("sale line for product %d", line.ProductID)}
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var receipt *SaleReceipt
	err := p.store.WithTx(ctx, func(store Store) error {
		// Validate every product up front so a bad trailing line cannot
		// waste allocation work on the earlier ones.
		products := make(map[ProductID]*Product, len(req.Lines))
		for _, line := range req.Lines {
			if _, ok := products[line.ProductID]; ok {
				continue
			}
			product, err := store.GetProduct(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("failed to load product %d: %w", line.ProductID, err)
			}
			if product == nil {
				return fmt.Errorf("sale line for product %d: %w", line.ProductID, ErrProductNotFound)
			}
			products[line.ProductID] = product
		}

		now := p.now()
		sale := Sale{
			OperatorID:     req.OperatorID,
			CustomerName:   req.CustomerName,
			CustomerPhone:  req.CustomerPhone,
			Discount:       req.Discount,
			Tax:            req.Tax,
			Total:          saleTotal(req),
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		saleID, err := store.InsertSale(ctx, sale)
		if err != nil {
			return err
		}

		receipt = &SaleReceipt{SaleID: saleID, Total: sale.Total, CreatedAt: now}

		for _, line := range req.Lines {
			itemID, err := store.InsertSaleItem(ctx, SaleItem{
				SaleID:    saleID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
			if err != nil {
				return fmt.Errorf("failed to record sale line: %w", err)
			}

			draws, err := p.engine.Allocate(ctx, store, itemID, line.ProductID, line.Quantity)
			if err != nil {
				// First shortage aborts the whole sale.
				return err
			}

			details := make([]AllocationDetail, len(draws))
			for i, d := range draws {
				details[i] = AllocationDetail{
					BatchID:    d.Batch.ID,
					LotLabel:   d.Batch.LotLabel,
					ExpiryDate: d.Batch.ExpiryDate,
					SupplierID: d.Batch.SupplierID,
					Quantity:   d.Quantity,
				}
			}
			receipt.Lines = append(receipt.Lines, LineReceipt{
				SaleItemID:  itemID,
				ProductID:   line.ProductID,
				ProductName: products[line.ProductID].Name,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Allocations: details,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func saleTotal(req SaleRequest) Money {
	total := decimal.Zero
	for _, line := range req.Lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total.Sub(req.Discount).Add(req.Tax)
}
