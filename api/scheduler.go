/*
scheduler.go - Background stock advisory watcher

PURPOSE:
  Periodically runs the advisory stock reports (near-expiry batches, low
  stock) and logs what needs attention, so a pharmacy running headless
  still surfaces rotation and reorder signals without anyone opening the
  dashboard.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Read-only: the watcher never touches the write path
  - Logs a summary line per check; noisy per-item lines only when
    something actually needs attention

CONFIGURATION:
  - CheckInterval:     How often to check (default: 1 hour)
  - ExpiryHorizonDays: Near-expiry window (default: 30)
  - LowStockThreshold: On-hand level that triggers a reorder hint (default: 10)
  - Enabled:           Whether the watcher is active (default: true)

USAGE:
  watcher := NewStockWatcher(handler.Query)
  watcher.Start()
  // ... later
  watcher.Stop()

SEE ALSO:
  - ledger/query.go: The advisory reads this runs
  - handlers.go: The same reports served on demand
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// StockWatcher periodically logs stock conditions that need attention.
type StockWatcher struct {
	Query             *ledger.StockQuery
	CheckInterval     time.Duration
	ExpiryHorizonDays int
	LowStockThreshold int
	Enabled           bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewStockWatcher creates a new watcher with default settings.
func NewStockWatcher(query *ledger.StockQuery) *StockWatcher {
	return &StockWatcher{
		Query:             query,
		CheckInterval:     1 * time.Hour,
		ExpiryHorizonDays: 30,
		LowStockThreshold: 10,
		Enabled:           true,
		stop:              make(chan bool),
	}
}

// Start begins the watcher.
func (sw *StockWatcher) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.Enabled {
		log.Println("[Watcher] Disabled, not starting")
		return
	}

	sw.ticker = time.NewTicker(sw.CheckInterval)
	sw.wg.Add(1)

	go sw.run()

	log.Printf("[Watcher] Started with check interval: %v", sw.CheckInterval)
}

// Stop stops the watcher.
func (sw *StockWatcher) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker != nil {
		sw.ticker.Stop()
		close(sw.stop)
		sw.wg.Wait()
		log.Println("[Watcher] Stopped")
	}
}

func (sw *StockWatcher) run() {
	defer sw.wg.Done()

	// Run immediately on start
	sw.check()

	for {
		select {
		case <-sw.ticker.C:
			sw.check()
		case <-sw.stop:
			return
		}
	}
}

func (sw *StockWatcher) check() {
	ctx := context.Background()

	expiring, err := sw.Query.NearExpiry(ctx, sw.ExpiryHorizonDays)
	if err != nil {
		log.Printf("[Watcher] Error checking near-expiry batches: %v", err)
	} else {
		for _, b := range expiring {
			log.Printf("[Watcher] Batch %d (product %d, lot %q) expires %s with %d units left",
				b.ID, b.ProductID, b.LotLabel, b.ExpiryDate.Format("2006-01-02"), b.Quantity)
		}
	}

	low, err := sw.Query.LowStock(ctx, sw.LowStockThreshold)
	if err != nil {
		log.Printf("[Watcher] Error checking low stock: %v", err)
	} else {
		for _, p := range low {
			log.Printf("[Watcher] Product %d (%s) down to %d units", p.ProductID, p.Name, p.OnHand)
		}
	}

	if len(expiring) > 0 || len(low) > 0 {
		log.Printf("[Watcher] Check complete: %d batches near expiry, %d products low", len(expiring), len(low))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (sw *StockWatcher) RunNow() {
	sw.check()
}
