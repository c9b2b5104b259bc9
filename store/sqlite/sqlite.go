/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.Store / ledger.TxStore plus the catalog's reference
  tables using SQLite. In production the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:   Batches, sales, allocations, returns, aggregates
  ledger.TxStore: Scoped write transactions (WithTx)

TRANSACTION BOUNDARY:
  WithTx wraps BeginTx/Commit with a deferred Rollback so every exit path -
  error return or panic - leaves either a full commit or a clean rollback.
  The sale and return processors do all their writes through this scope;
  there is never an "insert header, commit, then decrement" window.

STOCK DECREMENTS:
  AdjustBatchQuantity is a single guarded UPDATE:
    UPDATE batches SET quantity = quantity + ? WHERE id = ? AND quantity + ? >= 0
  A raced decrement affects zero rows and surfaces ErrConcurrencyConflict,
  rolling back the whole sale. quantity never goes negative.

KEY TABLES:
  batches:            Stock lots (the ledger's source of truth)
  sales, sale_items:  Checkout headers and lines
  sale_item_batches:  Allocations - which lot served which line
  returns:            Return records per sale line
  products + categories/manufacturers/suppliers/formulas: catalog

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/pharmacy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  sales := ledger.NewSaleProcessor(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// Store implements the ledger and catalog storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog reference tables
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		notes TEXT
	);
	CREATE TABLE IF NOT EXISTS manufacturers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		contact TEXT,
		notes TEXT
	);
	CREATE TABLE IF NOT EXISTS suppliers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		phone TEXT,
		email TEXT,
		address TEXT
	);
	CREATE TABLE IF NOT EXISTS formulas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		composition TEXT
	);

	-- Products
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		sku TEXT UNIQUE,
		is_medical INTEGER NOT NULL DEFAULT 1,
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		manufacturer_id INTEGER REFERENCES manufacturers(id) ON DELETE SET NULL,
		formula_id INTEGER REFERENCES formulas(id) ON DELETE SET NULL,
		unit TEXT,
		sale_price TEXT NOT NULL DEFAULT '0',
		notes TEXT
	);

	-- Batches (the stock ledger's source of truth)
	CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		supplier_id INTEGER REFERENCES suppliers(id) ON DELETE SET NULL,
		lot_label TEXT,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		expiry_date TEXT,
		cost_price TEXT NOT NULL DEFAULT '0',
		received_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_product_received
		ON batches(product_id, received_at, id);
	CREATE INDEX IF NOT EXISTS idx_batches_expiry
		ON batches(expiry_date) WHERE expiry_date IS NOT NULL;

	-- Sales
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operator_id TEXT,
		customer_name TEXT,
		customer_phone TEXT,
		discount TEXT NOT NULL DEFAULT '0',
		tax TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		unit_price TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	-- Allocations: which batch served which sale line. Never deleted.
	CREATE TABLE IF NOT EXISTS sale_item_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_item_id INTEGER NOT NULL REFERENCES sale_items(id) ON DELETE CASCADE,
		batch_id INTEGER NOT NULL REFERENCES batches(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0)
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_sale_item
		ON sale_item_batches(sale_item_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_batch
		ON sale_item_batches(batch_id);

	-- Returns
	CREATE TABLE IF NOT EXISTS returns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_item_id INTEGER NOT NULL REFERENCES sale_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_returns_sale_item ON returns(sale_item_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every row operation can
// run either standalone or inside a WithTx scope.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BATCHES (ledger.Store)
// =============================================================================

func (s *Store) InsertBatch(ctx context.Context, b ledger.Batch) (ledger.BatchID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBatch(ctx, s.db, b)
}

func (s *Store) insertBatch(ctx context.Context, db dbtx, b ledger.Batch) (ledger.BatchID, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO batches (product_id, supplier_id, lot_label, quantity, expiry_date, cost_price, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ProductID,
		nullInt64(b.SupplierID),
		b.LotLabel,
		b.Quantity,
		nullTime(b.ExpiryDate),
		b.CostPrice.String(),
		b.ReceivedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ledger.BatchID(id), nil
}

const batchColumns = `id, product_id, supplier_id, lot_label, quantity, expiry_date, cost_price, received_at`

func (s *Store) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBatch(ctx, s.db, id)
}

func (s *Store) getBatch(ctx context.Context, db dbtx, id ledger.BatchID) (*ledger.Batch, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) ListBatches(ctx context.Context, productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBatches(ctx, s.db, productID, order, includeEmpty)
}

func (s *Store) listBatches(ctx context.Context, db dbtx, productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) ([]ledger.Batch, error) {
	dir := "ASC"
	if order == ledger.NewestFirst {
		dir = "DESC"
	}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE product_id = ?`
	if !includeEmpty {
		query += ` AND quantity > 0`
	}
	query += fmt.Sprintf(` ORDER BY received_at %s, id %s`, dir, dir)

	return s.queryBatches(ctx, db, query, productID)
}

func (s *Store) ListAllBatches(ctx context.Context) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBatches(ctx, s.db,
		`SELECT `+batchColumns+` FROM batches ORDER BY received_at DESC, id DESC`)
}

func (s *Store) AdjustBatchQuantity(ctx context.Context, id ledger.BatchID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustBatchQuantity(ctx, s.db, id, delta)
}

// adjustBatchQuantity is the compare-and-swap at the heart of allocation:
// the guard in the WHERE clause makes "read quantity, subtract, write back"
// a single atomic statement, so two racing sales cannot both drain the
// same units.
func (s *Store) adjustBatchQuantity(ctx context.Context, db dbtx, id ledger.BatchID, delta int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE batches SET quantity = quantity + ? WHERE id = ? AND quantity + ? >= 0`,
		delta, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust batch %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.getBatch(ctx, db, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ledger.ErrBatchNotFound
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) LatestBatch(ctx context.Context, productID ledger.ProductID) (*ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestBatch(ctx, s.db, productID)
}

func (s *Store) latestBatch(ctx context.Context, db dbtx, productID ledger.ProductID) (*ledger.Batch, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE product_id = ?
		 ORDER BY received_at DESC, id DESC LIMIT 1`, productID)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) queryBatches(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Batch, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []ledger.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(r rowScanner) (*ledger.Batch, error) {
	var (
		b          ledger.Batch
		supplierID sql.NullInt64
		lotLabel   sql.NullString
		expiry     sql.NullString
		costPrice  string
		receivedAt string
	)
	if err := r.Scan(&b.ID, &b.ProductID, &supplierID, &lotLabel, &b.Quantity, &expiry, &costPrice, &receivedAt); err != nil {
		return nil, err
	}
	if supplierID.Valid {
		b.SupplierID = &supplierID.Int64
	}
	b.LotLabel = lotLabel.String
	if expiry.Valid && expiry.String != "" {
		t, _ := time.Parse(time.RFC3339, expiry.String)
		b.ExpiryDate = &t
	}
	b.CostPrice = parseMoney(costPrice)
	b.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	return &b, nil
}

// =============================================================================
// SALES (ledger.Store)
// =============================================================================

func (s *Store) InsertSale(ctx context.Context, sale ledger.Sale) (ledger.SaleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSale(ctx, s.db, sale)
}

func (s *Store) insertSale(ctx context.Context, db dbtx, sale ledger.Sale) (ledger.SaleID, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO sales (operator_id, customer_name, customer_phone, discount, tax, total, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.OperatorID,
		sale.CustomerName,
		sale.CustomerPhone,
		sale.Discount.String(),
		sale.Tax.String(),
		sale.Total.String(),
		nullString(sale.IdempotencyKey),
		sale.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("failed to insert sale: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ledger.SaleID(id), nil
}

func (s *Store) InsertSaleItem(ctx context.Context, it ledger.SaleItem) (ledger.SaleItemID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSaleItem(ctx, s.db, it)
}

func (s *Store) insertSaleItem(ctx context.Context, db dbtx, it ledger.SaleItem) (ledger.SaleItemID, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)`,
		it.SaleID, it.ProductID, it.Quantity, it.UnitPrice.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ledger.SaleItemID(id), nil
}

func (s *Store) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAllocation(ctx, s.db, a)
}

func (s *Store) insertAllocation(ctx context.Context, db dbtx, a ledger.Allocation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sale_item_batches (sale_item_id, batch_id, quantity)
		VALUES (?, ?, ?)`,
		a.SaleItemID, a.BatchID, a.Quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func (s *Store) GetSaleItem(ctx context.Context, id ledger.SaleItemID) (*ledger.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSaleItem(ctx, s.db, id)
}

func (s *Store) getSaleItem(ctx context.Context, db dbtx, id ledger.SaleItemID) (*ledger.SaleItem, error) {
	var (
		it        ledger.SaleItem
		unitPrice string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, sale_id, product_id, quantity, unit_price FROM sale_items WHERE id = ?`, id,
	).Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &unitPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.UnitPrice = parseMoney(unitPrice)
	return &it, nil
}

func (s *Store) ReduceSaleItemQuantity(ctx context.Context, id ledger.SaleItemID, by int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reduceSaleItemQuantity(ctx, s.db, id, by)
}

func (s *Store) reduceSaleItemQuantity(ctx context.Context, db dbtx, id ledger.SaleItemID, by int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sale_items SET quantity = quantity - ? WHERE id = ? AND quantity - ? >= 0`,
		by, id, by)
	if err != nil {
		return fmt.Errorf("failed to reduce sale item %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.getSaleItem(ctx, db, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ledger.ErrSaleItemNotFound
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) AllocationsForSaleItem(ctx context.Context, id ledger.SaleItemID) ([]ledger.AllocationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocationsForSaleItem(ctx, s.db, id)
}

func (s *Store) allocationsForSaleItem(ctx context.Context, db dbtx, id ledger.SaleItemID) ([]ledger.AllocationDetail, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sib.batch_id, b.lot_label, b.expiry_date, b.supplier_id, sib.quantity
		FROM sale_item_batches sib
		JOIN batches b ON b.id = sib.batch_id
		WHERE sib.sale_item_id = ?
		ORDER BY sib.id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var details []ledger.AllocationDetail
	for rows.Next() {
		var (
			d          ledger.AllocationDetail
			lotLabel   sql.NullString
			expiry     sql.NullString
			supplierID sql.NullInt64
		)
		if err := rows.Scan(&d.BatchID, &lotLabel, &expiry, &supplierID, &d.Quantity); err != nil {
			return nil, err
		}
		d.LotLabel = lotLabel.String
		if expiry.Valid && expiry.String != "" {
			t, _ := time.Parse(time.RFC3339, expiry.String)
			d.ExpiryDate = &t
		}
		if supplierID.Valid {
			d.SupplierID = &supplierID.Int64
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// =============================================================================
// RETURNS (ledger.Store)
// =============================================================================

func (s *Store) InsertReturn(ctx context.Context, r ledger.Return) (ledger.ReturnID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertReturn(ctx, s.db, r)
}

func (s *Store) insertReturn(ctx context.Context, db dbtx, r ledger.Return) (ledger.ReturnID, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO returns (sale_item_id, quantity, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.SaleItemID, r.Quantity, r.Reason,
		nullString(r.IdempotencyKey),
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("failed to insert return: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ledger.ReturnID(id), nil
}

func (s *Store) ReturnedQuantity(ctx context.Context, id ledger.SaleItemID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnedQuantity(ctx, s.db, id)
}

func (s *Store) returnedQuantity(ctx context.Context, db dbtx, id ledger.SaleItemID) (int, error) {
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM returns WHERE sale_item_id = ?`, id,
	).Scan(&total)
	return total, err
}

func (s *Store) ListReturns(ctx context.Context) ([]ledger.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReturns(ctx, s.db)
}

func (s *Store) listReturns(ctx context.Context, db dbtx) ([]ledger.Return, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, sale_item_id, quantity, reason, idempotency_key, created_at
		FROM returns ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query returns: %w", err)
	}
	defer rows.Close()

	var returns []ledger.Return
	for rows.Next() {
		var (
			r         ledger.Return
			reason    sql.NullString
			key       sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.SaleItemID, &r.Quantity, &reason, &key, &createdAt); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		r.IdempotencyKey = key.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		returns = append(returns, r)
	}
	return returns, rows.Err()
}

// =============================================================================
// CATALOG READS (ledger.Store)
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProduct(ctx, s.db, id)
}

func (s *Store) getProduct(ctx context.Context, db dbtx, id ledger.ProductID) (*ledger.Product, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ProductExists(ctx context.Context, id ledger.ProductID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productExists(ctx, s.db, id)
}

func (s *Store) productExists(ctx context.Context, db dbtx, id ledger.ProductID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE id = ?`, id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// AGGREGATES (ledger.Store)
// =============================================================================

func (s *Store) OnHand(ctx context.Context, productID ledger.ProductID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onHand(ctx, s.db, productID)
}

func (s *Store) onHand(ctx context.Context, db dbtx, productID ledger.ProductID) (int, error) {
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM batches WHERE product_id = ?`, productID,
	).Scan(&total)
	return total, err
}

func (s *Store) NearExpiry(ctx context.Context, cutoff time.Time) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nearExpiry(ctx, s.db, cutoff)
}

func (s *Store) nearExpiry(ctx context.Context, db dbtx, cutoff time.Time) ([]ledger.Batch, error) {
	return s.queryBatches(ctx, db, `
		SELECT `+batchColumns+` FROM batches
		WHERE quantity > 0 AND expiry_date IS NOT NULL AND expiry_date <= ?
		ORDER BY expiry_date ASC, id ASC`,
		cutoff.UTC().Format(time.RFC3339))
}

func (s *Store) LowStock(ctx context.Context, threshold int) ([]ledger.ProductOnHand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowStock(ctx, s.db, threshold)
}

func (s *Store) lowStock(ctx context.Context, db dbtx, threshold int) ([]ledger.ProductOnHand, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(SUM(b.quantity), 0) AS on_hand
		FROM products p
		LEFT JOIN batches b ON b.product_id = p.id
		GROUP BY p.id, p.name
		HAVING on_hand <= ?
		ORDER BY on_hand ASC, p.id ASC`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock: %w", err)
	}
	defer rows.Close()

	var result []ledger.ProductOnHand
	for rows.Next() {
		var p ledger.ProductOnHand
		if err := rows.Scan(&p.ProductID, &p.Name, &p.OnHand); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every operation through the open transaction so reads
// inside the scope see the scope's own writes.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertBatch(ctx context.Context, b ledger.Batch) (ledger.BatchID, error) {
	return ts.parent.insertBatch(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	return ts.parent.getBatch(ctx, ts.tx, id)
}

func (ts *txStore) ListBatches(ctx context.Context, productID ledger.ProductID, order ledger.BatchOrder, includeEmpty bool) ([]ledger.Batch, error) {
	return ts.parent.listBatches(ctx, ts.tx, productID, order, includeEmpty)
}

func (ts *txStore) ListAllBatches(ctx context.Context) ([]ledger.Batch, error) {
	return ts.parent.queryBatches(ctx, ts.tx,
		`SELECT `+batchColumns+` FROM batches ORDER BY received_at DESC, id DESC`)
}

func (ts *txStore) AdjustBatchQuantity(ctx context.Context, id ledger.BatchID, delta int) error {
	return ts.parent.adjustBatchQuantity(ctx, ts.tx, id, delta)
}

func (ts *txStore) LatestBatch(ctx context.Context, productID ledger.ProductID) (*ledger.Batch, error) {
	return ts.parent.latestBatch(ctx, ts.tx, productID)
}

func (ts *txStore) InsertSale(ctx context.Context, sale ledger.Sale) (ledger.SaleID, error) {
	return ts.parent.insertSale(ctx, ts.tx, sale)
}

func (ts *txStore) InsertSaleItem(ctx context.Context, it ledger.SaleItem) (ledger.SaleItemID, error) {
	return ts.parent.insertSaleItem(ctx, ts.tx, it)
}

func (ts *txStore) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	return ts.parent.insertAllocation(ctx, ts.tx, a)
}

func (ts *txStore) GetSaleItem(ctx context.Context, id ledger.SaleItemID) (*ledger.SaleItem, error) {
	return ts.parent.getSaleItem(ctx, ts.tx, id)
}

func (ts *txStore) ReduceSaleItemQuantity(ctx context.Context, id ledger.SaleItemID, by int) error {
	return ts.parent.reduceSaleItemQuantity(ctx, ts.tx, id, by)
}

func (ts *txStore) AllocationsForSaleItem(ctx context.Context, id ledger.SaleItemID) ([]ledger.AllocationDetail, error) {
	return ts.parent.allocationsForSaleItem(ctx, ts.tx, id)
}

func (ts *txStore) InsertReturn(ctx context.Context, r ledger.Return) (ledger.ReturnID, error) {
	return ts.parent.insertReturn(ctx, ts.tx, r)
}

func (ts *txStore) ReturnedQuantity(ctx context.Context, id ledger.SaleItemID) (int, error) {
	return ts.parent.returnedQuantity(ctx, ts.tx, id)
}

func (ts *txStore) ListReturns(ctx context.Context) ([]ledger.Return, error) {
	return ts.parent.listReturns(ctx, ts.tx)
}

func (ts *txStore) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return ts.parent.getProduct(ctx, ts.tx, id)
}

func (ts *txStore) ProductExists(ctx context.Context, id ledger.ProductID) (bool, error) {
	return ts.parent.productExists(ctx, ts.tx, id)
}

func (ts *txStore) OnHand(ctx context.Context, productID ledger.ProductID) (int, error) {
	return ts.parent.onHand(ctx, ts.tx, productID)
}

func (ts *txStore) NearExpiry(ctx context.Context, cutoff time.Time) ([]ledger.Batch, error) {
	return ts.parent.nearExpiry(ctx, ts.tx, cutoff)
}

func (ts *txStore) LowStock(ctx context.Context, threshold int) ([]ledger.ProductOnHand, error) {
	return ts.parent.lowStock(ctx, ts.tx, threshold)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseMoney(s string) ledger.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
