// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	products    map[ledger.ProductID]ledger.Product
	batches     map[ledger.BatchID]ledger.Batch
	sales       map[ledger.SaleID]ledger.Sale
	saleItems   map[ledger.SaleItemID]ledger.SaleItem
	allocations []ledger.Allocation
	returns     map[ledger.ReturnID]ledger.Return
	idempotency map[string]bool

	nextBatch    ledger.BatchID
	nextSale     ledger.SaleID
	nextSaleItem ledger.SaleItemID
	nextReturn   ledger.ReturnID
}

func NewMemory() *Memory {
	return &Memory{
		products:    make(map[ledger.ProductID]ledger.Product),
		batches:     make(map[ledger.BatchID]ledger.Batch),
		sales:       make(map[ledger.SaleID]ledger.Sale),
		saleItems:   make(map[ledger.SaleItemID]ledger.SaleItem),
		returns:     make(map[ledger.ReturnID]ledger.Return),
		idempotency: make(map[string]bool),
	}
}

// PutProduct seeds a catalog product. Test/dev helper; in production the
// catalog owns product rows.
func (m *Memory) PutProduct(p ledger.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) InsertBatch(_ context.Context, b ledger.Batch) (ledger.BatchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBatchLocked(b), nil
}

func (m *Memory) insertBatchLocked(b ledger.Batch) ledger.BatchID {
	m.nextBatch++
	b.ID = m.nextBatch
	m.batches[b.ID] = b
	return b.ID
}

func (m *Memory) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.batches[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) ListBatches(_ context.Context, productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBatchesLocked(productID, order, includeEmpty), nil
}

func (m *Memory) listBatchesLocked(productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) []ledger.Batch {
	var result []ledger.Batch
	for _, b := range m.batches {
		if b.ProductID != productID {
			continue
		}
		if !includeEmpty && b.Quantity <= 0 {
			continue
		}
		result = append(result, b)
	}
	sortBatches(result, order)
	return result
}

func (m *Memory) ListAllBatches(_ context.Context) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		result = append(result, b)
	}
	sortBatches(result, ledger.NewestFirst)
	return result, nil
}

func (m *Memory) AdjustBatchQuantity(_ context.Context, id ledger.BatchID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBatchLocked(id, delta)
}

func (m *Memory) adjustBatchLocked(id ledger.BatchID, delta int) error {
	b, ok := m.batches[id]
	if !ok {
		return ledger.ErrBatchNotFound
	}
	if b.Quantity+delta < 0 {
		return ledger.ErrConcurrencyConflict
	}
	b.Quantity += delta
	m.batches[id] = b
	return nil
}

func (m *Memory) LatestBatch(_ context.Context, productID ledger.ProductID) (*ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batches := m.listBatchesLocked(productID, ledger.NewestFirst, true)
	if len(batches) == 0 {
		return nil, nil
	}
	return &batches[0], nil
}

// =============================================================================
// SALES
// =============================================================================

func (m *Memory) InsertSale(_ context.Context, s ledger.Sale) (ledger.SaleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSaleLocked(s)
}

func (m *Memory) insertSaleLocked(s ledger.Sale) (ledger.SaleID, error) {
	if s.IdempotencyKey != "" {
		if m.idempotency[s.IdempotencyKey] {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[s.IdempotencyKey] = true
	}
	m.nextSale++
	s.ID = m.nextSale
	m.sales[s.ID] = s
	return s.ID, nil
}

func (m *Memory) InsertSaleItem(_ context.Context, it ledger.SaleItem) (ledger.SaleItemID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSaleItem++
	it.ID = m.nextSaleItem
	m.saleItems[it.ID] = it
	return it.ID, nil
}

func (m *Memory) InsertAllocation(_ context.Context, a ledger.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocations = append(m.allocations, a)
	return nil
}

func (m *Memory) GetSaleItem(_ context.Context, id ledger.SaleItemID) (*ledger.SaleItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if it, ok := m.saleItems[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (m *Memory) ReduceSaleItemQuantity(_ context.Context, id ledger.SaleItemID, by int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.saleItems[id]
	if !ok {
		return ledger.ErrSaleItemNotFound
	}
	if it.Quantity-by < 0 {
		return ledger.ErrConcurrencyConflict
	}
	it.Quantity -= by
	m.saleItems[id] = it
	return nil
}

func (m *Memory) AllocationsForSaleItem(_ context.Context, id ledger.SaleItemID) ([]ledger.AllocationDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AllocationDetail
	for _, a := range m.allocations {
		if a.SaleItemID != id {
			continue
		}
		b := m.batches[a.BatchID]
		result = append(result, ledger.AllocationDetail{
			BatchID:    a.BatchID,
			LotLabel:   b.LotLabel,
			ExpiryDate: b.ExpiryDate,
			SupplierID: b.SupplierID,
			Quantity:   a.Quantity,
		})
	}
	return result, nil
}

// =============================================================================
// RETURNS
// =============================================================================

func (m *Memory) InsertReturn(_ context.Context, r ledger.Return) (ledger.ReturnID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.IdempotencyKey != "" {
		if m.idempotency[r.IdempotencyKey] {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[r.IdempotencyKey] = true
	}
	m.nextReturn++
	r.ID = m.nextReturn
	m.returns[r.ID] = r
	return r.ID, nil
}

func (m *Memory) ReturnedQuantity(_ context.Context, id ledger.SaleItemID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, r := range m.returns {
		if r.SaleItemID == id {
			total += r.Quantity
		}
	}
	return total, nil
}

func (m *Memory) ListReturns(_ context.Context) ([]ledger.Return, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Return, 0, len(m.returns))
	for _, r := range m.returns {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// =============================================================================
// CATALOG READS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ProductExists(_ context.Context, id ledger.ProductID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.products[id]
	return ok, nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (m *Memory) OnHand(_ context.Context, productID ledger.ProductID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, b := range m.batches {
		if b.ProductID == productID {
			total += b.Quantity
		}
	}
	return total, nil
}

func (m *Memory) NearExpiry(_ context.Context, cutoff time.Time) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nearExpiryLocked(cutoff), nil
}

func (m *Memory) LowStock(_ context.Context, threshold int) ([]ledger.ProductOnHand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lowStockLocked(threshold), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches     map[ledger.BatchID]ledger.Batch
	sales       map[ledger.SaleID]ledger.Sale
	saleItems   map[ledger.SaleItemID]ledger.SaleItem
	allocations []ledger.Allocation
	returns     map[ledger.ReturnID]ledger.Return
	idempotency map[string]bool

	nextBatch    ledger.BatchID
	nextSale     ledger.SaleID
	nextSaleItem ledger.SaleItemID
	nextReturn   ledger.ReturnID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		batches:      make(map[ledger.BatchID]ledger.Batch, len(tm.batches)),
		sales:        make(map[ledger.SaleID]ledger.Sale, len(tm.sales)),
		saleItems:    make(map[ledger.SaleItemID]ledger.SaleItem, len(tm.saleItems)),
		allocations:  append([]ledger.Allocation{}, tm.allocations...),
		returns:      make(map[ledger.ReturnID]ledger.Return, len(tm.returns)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
		nextBatch:    tm.nextBatch,
		nextSale:     tm.nextSale,
		nextSaleItem: tm.nextSaleItem,
		nextReturn:   tm.nextReturn,
	}
	for k, v := range tm.batches {
		s.batches[k] = v
	}
	for k, v := range tm.sales {
		s.sales[k] = v
	}
	for k, v := range tm.saleItems {
		s.saleItems[k] = v
	}
	for k, v := range tm.returns {
		s.returns[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.batches = s.batches
	tm.sales = s.sales
	tm.saleItems = s.saleItems
	tm.allocations = s.allocations
	tm.returns = s.returns
	tm.idempotency = s.idempotency
	tm.nextBatch = s.nextBatch
	tm.nextSale = s.nextSale
	tm.nextSaleItem = s.nextSaleItem
	tm.nextReturn = s.nextReturn
}

// txMemoryView runs store operations against the already-locked parent.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertBatch(_ context.Context, b ledger.Batch) (ledger.BatchID, error) {
	return tv.parent.insertBatchLocked(b), nil
}

func (tv *txMemoryView) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	if b, ok := tv.parent.batches[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (tv *txMemoryView) ListBatches(_ context.Context, productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) ([]ledger.Batch, error) {
	return tv.parent.listBatchesLocked(productID, order, includeEmpty), nil
}

func (tv *txMemoryView) ListAllBatches(ctx context.Context) ([]ledger.Batch, error) {
	result := make([]ledger.Batch, 0, len(tv.parent.batches))
	for _, b := range tv.parent.batches {
		result = append(result, b)
	}
	sortBatches(result, ledger.NewestFirst)
	return result, nil
}

func (tv *txMemoryView) AdjustBatchQuantity(_ context.Context, id ledger.BatchID, delta int) error {
	return tv.parent.adjustBatchLocked(id, delta)
}

func (tv *txMemoryView) LatestBatch(_ context.Context, productID ledger.ProductID) (*ledger.Batch, error) {
	batches := tv.parent.listBatchesLocked(productID, ledger.NewestFirst, true)
	if len(batches) == 0 {
		return nil, nil
	}
	return &batches[0], nil
}

func (tv *txMemoryView) InsertSale(_ context.Context, s ledger.Sale) (ledger.SaleID, error) {
	return tv.parent.insertSaleLocked(s)
}

func (tv *txMemoryView) InsertSaleItem(_ context.Context, it ledger.SaleItem) (ledger.SaleItemID, error) {
	tv.parent.nextSaleItem++
	it.ID = tv.parent.nextSaleItem
	tv.parent.saleItems[it.ID] = it
	return it.ID, nil
}

func (tv *txMemoryView) InsertAllocation(_ context.Context, a ledger.Allocation) error {
	tv.parent.allocations = append(tv.parent.allocations, a)
	return nil
}

func (tv *txMemoryView) GetSaleItem(_ context.Context, id ledger.SaleItemID) (*ledger.SaleItem, error) {
	if it, ok := tv.parent.saleItems[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (tv *txMemoryView) ReduceSaleItemQuantity(_ context.Context, id ledger.SaleItemID, by int) error {
	it, ok := tv.parent.saleItems[id]
	if !ok {
		return ledger.ErrSaleItemNotFound
	}
	if it.Quantity-by < 0 {
		return ledger.ErrConcurrencyConflict
	}
	it.Quantity -= by
	tv.parent.saleItems[id] = it
	return nil
}

func (tv *txMemoryView) AllocationsForSaleItem(_ context.Context, id ledger.SaleItemID) ([]ledger.AllocationDetail, error) {
	var result []ledger.AllocationDetail
	for _, a := range tv.parent.allocations {
		if a.SaleItemID != id {
			continue
		}
		b := tv.parent.batches[a.BatchID]
		result = append(result, ledger.AllocationDetail{
			BatchID:    a.BatchID,
			LotLabel:   b.LotLabel,
			ExpiryDate: b.ExpiryDate,
			SupplierID: b.SupplierID,
			Quantity:   a.Quantity,
		})
	}
	return result, nil
}

func (tv *txMemoryView) InsertReturn(_ context.Context, r ledger.Return) (ledger.ReturnID, error) {
	if r.IdempotencyKey != "" {
		if tv.parent.idempotency[r.IdempotencyKey] {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		tv.parent.idempotency[r.IdempotencyKey] = true
	}
	tv.parent.nextReturn++
	r.ID = tv.parent.nextReturn
	tv.parent.returns[r.ID] = r
	return r.ID, nil
}

func (tv *txMemoryView) ReturnedQuantity(_ context.Context, id ledger.SaleItemID) (int, error) {
	total := 0
	for _, r := range tv.parent.returns {
		if r.SaleItemID == id {
			total += r.Quantity
		}
	}
	return total, nil
}

func (tv *txMemoryView) ListReturns(_ context.Context) ([]ledger.Return, error) {
	result := make([]ledger.Return, 0, len(tv.parent.returns))
	for _, r := range tv.parent.returns {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (tv *txMemoryView) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	if p, ok := tv.parent.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (tv *txMemoryView) ProductExists(_ context.Context, id ledger.ProductID) (bool, error) {
	_, ok := tv.parent.products[id]
	return ok, nil
}

func (tv *txMemoryView) OnHand(_ context.Context, productID ledger.ProductID) (int, error) {
	total := 0
	for _, b := range tv.parent.batches {
		if b.ProductID == productID {
			total += b.Quantity
		}
	}
	return total, nil
}

func (tv *txMemoryView) NearExpiry(ctx context.Context, cutoff time.Time) ([]ledger.Batch, error) {
	return tv.parent.nearExpiryLocked(cutoff), nil
}

func (tv *txMemoryView) LowStock(ctx context.Context, threshold int) ([]ledger.ProductOnHand, error) {
	return tv.parent.lowStockLocked(threshold), nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (m *Memory) nearExpiryLocked(cutoff time.Time) []ledger.Batch {
	var result []ledger.Batch
	for _, b := range m.batches {
		if b.Quantity <= 0 || b.ExpiryDate == nil || b.ExpiryDate.After(cutoff) {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiryDate.Before(*result[j].ExpiryDate)
	})
	return result
}

func (m *Memory) lowStockLocked(threshold int) []ledger.ProductOnHand {
	onHand := make(map[ledger.ProductID]int, len(m.products))
	for id := range m.products {
		onHand[id] = 0
	}
	for _, b := range m.batches {
		onHand[b.ProductID] += b.Quantity
	}

	var result []ledger.ProductOnHand
	for id, qty := range onHand {
		if qty > threshold {
			continue
		}
		result = append(result, ledger.ProductOnHand{ProductID: id, Name: m.products[id].Name, OnHand: qty})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OnHand != result[j].OnHand {
			return result[i].OnHand < result[j].OnHand
		}
		return result[i].ProductID < result[j].ProductID
	})
	return result
}

// sortBatches orders by ReceivedAt with id as the deterministic tie-break.
func sortBatches(batches []ledger.Batch, order ledger.BatchOrder) {
	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if order == ledger.OldestFirst {
				return a.ReceivedAt.Before(b.ReceivedAt)
			}
			return a.ReceivedAt.After(b.ReceivedAt)
		}
		if order == ledger.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}
