/*
catalog.go - Catalog persistence (products and reference tables)

PURPOSE:
  CRUD over the catalog tables: products plus the categories, manufacturers,
  suppliers and formulas they reference. The ledger core only reads products;
  everything here is back-office maintenance driven by the HTTP API.

UPSERT CONVENTION:
  Save* inserts when ID is zero and updates otherwise, returning the record
  with its ID populated. Delete* reports ErrNotFound when nothing matched.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/stock-ledger/ledger"
)

// ErrNotFound is returned by catalog lookups and deletes that match nothing.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateName is returned when a unique catalog name or SKU collides.
var ErrDuplicateName = errors.New("name already in use")

// Category groups products for browsing and reporting.
type Category struct {
	ID    int64
	Name  string
	Notes string
}

// Manufacturer is the producing company on a product record.
type Manufacturer struct {
	ID      int64
	Name    string
	Contact string
	Notes   string
}

// Supplier is a stock source referenced by batches.
type Supplier struct {
	ID      int64
	Name    string
	Phone   string
	Email   string
	Address string
}

// Formula is the active composition shared by equivalent products.
type Formula struct {
	ID          int64
	Name        string
	Composition string
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `id, name, sku, is_medical, category_id, manufacturer_id, formula_id, unit, sale_price, notes`

// SaveProduct inserts or updates a product and returns it with ID set.
func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) (*ledger.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO products (name, sku, is_medical, category_id, manufacturer_id, formula_id, unit, sale_price, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, nullString(p.SKU), p.Medical,
			nullInt64(p.CategoryID), nullInt64(p.ManufacturerID), nullInt64(p.FormulaID),
			p.Unit, p.SalePrice.String(), p.Notes,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("product %q: %w", p.Name, ErrDuplicateName)
			}
			return nil, fmt.Errorf("failed to insert product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		p.ID = ledger.ProductID(id)
		return &p, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = ?, sku = ?, is_medical = ?, category_id = ?,
			manufacturer_id = ?, formula_id = ?, unit = ?, sale_price = ?, notes = ?
		WHERE id = ?`,
		p.Name, nullString(p.SKU), p.Medical,
		nullInt64(p.CategoryID), nullInt64(p.ManufacturerID), nullInt64(p.FormulaID),
		p.Unit, p.SalePrice.String(), p.Notes, p.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("product %q: %w", p.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	return &p, nil
}

// ListProducts returns the full catalog ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// DeleteProduct removes a product; its batches cascade.
func (s *Store) DeleteProduct(ctx context.Context, id ledger.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByID(ctx, "products", int64(id))
}

func scanProduct(r rowScanner) (*ledger.Product, error) {
	var (
		p              ledger.Product
		sku            sql.NullString
		categoryID     sql.NullInt64
		manufacturerID sql.NullInt64
		formulaID      sql.NullInt64
		unit           sql.NullString
		salePrice      string
		notes          sql.NullString
	)
	if err := r.Scan(&p.ID, &p.Name, &sku, &p.Medical, &categoryID, &manufacturerID, &formulaID, &unit, &salePrice, &notes); err != nil {
		return nil, err
	}
	p.SKU = sku.String
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if manufacturerID.Valid {
		p.ManufacturerID = &manufacturerID.Int64
	}
	if formulaID.Valid {
		p.FormulaID = &formulaID.Int64
	}
	p.Unit = unit.String
	p.SalePrice = parseMoney(salePrice)
	p.Notes = notes.String
	return &p, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) SaveCategory(ctx context.Context, c Category) (*Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO categories (name, notes) VALUES (?, ?)`, c.Name, c.Notes)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("category %q: %w", c.Name, ErrDuplicateName)
			}
			return nil, fmt.Errorf("failed to insert category: %w", err)
		}
		c.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &c, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, notes = ? WHERE id = ?`, c.Name, c.Notes, c.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("category %q: %w", c.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("category %d: %w", c.ID, ErrNotFound)
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(notes, '') FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Notes); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByID(ctx, "categories", id)
}

// =============================================================================
// MANUFACTURERS
// =============================================================================

func (s *Store) SaveManufacturer(ctx context.Context, m Manufacturer) (*Manufacturer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO manufacturers (name, contact, notes) VALUES (?, ?, ?)`,
			m.Name, m.Contact, m.Notes)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("manufacturer %q: %w", m.Name, ErrDuplicateName)
			}
			return nil, fmt.Errorf("failed to insert manufacturer: %w", err)
		}
		m.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &m, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE manufacturers SET name = ?, contact = ?, notes = ? WHERE id = ?`,
		m.Name, m.Contact, m.Notes, m.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("manufacturer %q: %w", m.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update manufacturer: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("manufacturer %d: %w", m.ID, ErrNotFound)
	}
	return &m, nil
}

func (s *Store) ListManufacturers(ctx context.Context) ([]Manufacturer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(contact, ''), COALESCE(notes, '') FROM manufacturers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query manufacturers: %w", err)
	}
	defer rows.Close()

	var manufacturers []Manufacturer
	for rows.Next() {
		var m Manufacturer
		if err := rows.Scan(&m.ID, &m.Name, &m.Contact, &m.Notes); err != nil {
			return nil, err
		}
		manufacturers = append(manufacturers, m)
	}
	return manufacturers, rows.Err()
}

func (s *Store) DeleteManufacturer(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByID(ctx, "manufacturers", id)
}

// =============================================================================
// SUPPLIERS
// =============================================================================

func (s *Store) SaveSupplier(ctx context.Context, sp Supplier) (*Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sp.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO suppliers (name, phone, email, address) VALUES (?, ?, ?, ?)`,
			sp.Name, sp.Phone, sp.Email, sp.Address)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("supplier %q: %w", sp.Name, ErrDuplicateName)
			}
			return nil, fmt.Errorf("failed to insert supplier: %w", err)
		}
		sp.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &sp, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE suppliers SET name = ?, phone = ?, email = ?, address = ? WHERE id = ?`,
		sp.Name, sp.Phone, sp.Email, sp.Address, sp.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("supplier %q: %w", sp.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update supplier: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("supplier %d: %w", sp.ID, ErrNotFound)
	}
	return &sp, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, '')
		FROM suppliers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var sp Supplier
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Phone, &sp.Email, &sp.Address); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sp)
	}
	return suppliers, rows.Err()
}

func (s *Store) DeleteSupplier(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByID(ctx, "suppliers", id)
}

// =============================================================================
// FORMULAS
// =============================================================================

func (s *Store) SaveFormula(ctx context.Context, f Formula) (*Formula, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO formulas (name, composition) VALUES (?, ?)`,
			f.Name, f.Composition)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("formula %q: %w", f.Name, ErrDuplicateName)
			}
			return nil, fmt.Errorf("failed to insert formula: %w", err)
		}
		f.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &f, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE formulas SET name = ?, composition = ? WHERE id = ?`,
		f.Name, f.Composition, f.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("formula %q: %w", f.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update formula: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("formula %d: %w", f.ID, ErrNotFound)
	}
	return &f, nil
}

func (s *Store) ListFormulas(ctx context.Context) ([]Formula, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(composition, '') FROM formulas ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query formulas: %w", err)
	}
	defer rows.Close()

	var formulas []Formula
	for rows.Next() {
		var f Formula
		if err := rows.Scan(&f.ID, &f.Name, &f.Composition); err != nil {
			return nil, err
		}
		formulas = append(formulas, f)
	}
	return formulas, rows.Err()
}

func (s *Store) DeleteFormula(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByID(ctx, "formulas", id)
}

func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}
