/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  Decimal amounts travel as JSON strings ("12.50") to avoid float drift in
  clients. Parsing happens in handlers.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types these project
*/
package api

import (
	"time"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// CATALOG TYPES
// =============================================================================

// ProductDTO represents a catalog product in API responses.
type ProductDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	SKU            string `json:"sku,omitempty"`
	Medical        bool   `json:"medical"`
	CategoryID     *int64 `json:"category_id,omitempty"`
	ManufacturerID *int64 `json:"manufacturer_id,omitempty"`
	FormulaID      *int64 `json:"formula_id,omitempty"`
	Unit           string `json:"unit,omitempty"`
	SalePrice      string `json:"sale_price"`
	Notes          string `json:"notes,omitempty"`
}

// SaveProductRequest creates or (with ID set) updates a product.
type SaveProductRequest struct {
	ID             int64  `json:"id,omitempty"`
	Name           string `json:"name"`
	SKU            string `json:"sku,omitempty"`
	Medical        bool   `json:"medical"`
	CategoryID     *int64 `json:"category_id,omitempty"`
	ManufacturerID *int64 `json:"manufacturer_id,omitempty"`
	FormulaID      *int64 `json:"formula_id,omitempty"`
	Unit           string `json:"unit,omitempty"`
	SalePrice      string `json:"sale_price"`
	Notes          string `json:"notes,omitempty"`
}

// CategoryDTO doubles as the save request; the shape is identical.
type CategoryDTO struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

type ManufacturerDTO struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type SupplierDTO struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type FormulaDTO struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Composition string `json:"composition,omitempty"`
}

// =============================================================================
// STOCK TYPES
// =============================================================================

// BatchDTO represents a stock batch in API responses.
type BatchDTO struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"product_id"`
	SupplierID *int64 `json:"supplier_id,omitempty"`
	LotLabel   string `json:"lot_label,omitempty"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	CostPrice  string `json:"cost_price"`
	ReceivedAt string `json:"received_at"`
}

// IntakeRequest records one received lot.
type IntakeRequest struct {
	ProductID  int64  `json:"product_id"`
	SupplierID *int64 `json:"supplier_id,omitempty"`
	LotLabel   string `json:"lot_label,omitempty"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date,omitempty"` // ISO date or RFC3339
	CostPrice  string `json:"cost_price,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"` // defaults to now
}

// OnHandDTO is the response for a product's on-hand query.
type OnHandDTO struct {
	ProductID int64 `json:"product_id"`
	OnHand    int   `json:"on_hand"`
}

// ProductOnHandDTO is one row of the low-stock report.
type ProductOnHandDTO struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	OnHand    int    `json:"on_hand"`
}

// =============================================================================
// SALE TYPES
// =============================================================================

// SaleLineRequest is one requested line of a checkout.
type SaleLineRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// CreateSaleRequest is a checkout submission from the POS.
type CreateSaleRequest struct {
	OperatorID     string            `json:"operator_id,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	CustomerPhone  string            `json:"customer_phone,omitempty"`
	Discount       string            `json:"discount,omitempty"`
	Tax            string            `json:"tax,omitempty"`
	Lines          []SaleLineRequest `json:"lines"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// AllocationDTO is one batch draw on a receipt or drill-down.
type AllocationDTO struct {
	BatchID    int64  `json:"batch_id"`
	LotLabel   string `json:"lot_label,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	SupplierID *int64 `json:"supplier_id,omitempty"`
	Quantity   int    `json:"quantity"`
}

// LineReceiptDTO is the per-line outcome of a recorded sale.
type LineReceiptDTO struct {
	SaleItemID  int64           `json:"sale_item_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   string          `json:"unit_price"`
	Allocations []AllocationDTO `json:"allocations"`
}

// SaleReceiptDTO is the response after recording a sale.
type SaleReceiptDTO struct {
	SaleID    int64            `json:"sale_id"`
	Total     string           `json:"total"`
	CreatedAt string           `json:"created_at"`
	Lines     []LineReceiptDTO `json:"lines"`
}

// =============================================================================
// RETURN TYPES
// =============================================================================

// CreateReturnRequest records a return against a sale line.
type CreateReturnRequest struct {
	SaleItemID     int64  `json:"sale_item_id"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReturnReceiptDTO is the response after recording a return.
type ReturnReceiptDTO struct {
	ReturnID       int64  `json:"return_id"`
	SaleItemID     int64  `json:"sale_item_id"`
	ProductID      int64  `json:"product_id"`
	Quantity       int    `json:"quantity"`
	RestockBatchID int64  `json:"restock_batch_id"`
	Synthesized    bool   `json:"synthesized"`
	CreatedAt      string `json:"created_at"`
}

// ReturnDTO is one historical return record.
type ReturnDTO struct {
	ID         int64  `json:"id"`
	SaleItemID int64  `json:"sale_item_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:             int64(p.ID),
		Name:           p.Name,
		SKU:            p.SKU,
		Medical:        p.Medical,
		CategoryID:     p.CategoryID,
		ManufacturerID: p.ManufacturerID,
		FormulaID:      p.FormulaID,
		Unit:           p.Unit,
		SalePrice:      p.SalePrice.String(),
		Notes:          p.Notes,
	}
}

func toBatchDTO(b ledger.Batch) BatchDTO {
	dto := BatchDTO{
		ID:         int64(b.ID),
		ProductID:  int64(b.ProductID),
		SupplierID: b.SupplierID,
		LotLabel:   b.LotLabel,
		Quantity:   b.Quantity,
		CostPrice:  b.CostPrice.String(),
		ReceivedAt: b.ReceivedAt.Format(time.RFC3339),
	}
	if b.ExpiryDate != nil {
		dto.ExpiryDate = b.ExpiryDate.Format(time.RFC3339)
	}
	return dto
}

func toBatchDTOs(batches []ledger.Batch) []BatchDTO {
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	return dtos
}

func toAllocationDTO(d ledger.AllocationDetail) AllocationDTO {
	dto := AllocationDTO{
		BatchID:    int64(d.BatchID),
		LotLabel:   d.LotLabel,
		SupplierID: d.SupplierID,
		Quantity:   d.Quantity,
	}
	if d.ExpiryDate != nil {
		dto.ExpiryDate = d.ExpiryDate.Format(time.RFC3339)
	}
	return dto
}

func toSaleReceiptDTO(r *ledger.SaleReceipt) SaleReceiptDTO {
	dto := SaleReceiptDTO{
		SaleID:    int64(r.SaleID),
		Total:     r.Total.String(),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		Lines:     make([]LineReceiptDTO, len(r.Lines)),
	}
	for i, line := range r.Lines {
		allocations := make([]AllocationDTO, len(line.Allocations))
		for j, a := range line.Allocations {
			allocations[j] = toAllocationDTO(a)
		}
		dto.Lines[i] = LineReceiptDTO{
			SaleItemID:  int64(line.SaleItemID),
			ProductID:   int64(line.ProductID),
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.String(),
			Allocations: allocations,
		}
	}
	return dto
}

func toReturnReceiptDTO(r *ledger.ReturnReceipt) ReturnReceiptDTO {
	return ReturnReceiptDTO{
		ReturnID:       int64(r.ReturnID),
		SaleItemID:     int64(r.SaleItemID),
		ProductID:      int64(r.ProductID),
		Quantity:       r.Quantity,
		RestockBatchID: int64(r.RestockBatchID),
		Synthesized:    r.Synthesized,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
	}
}

func toCategoryDTO(c sqlite.Category) CategoryDTO {
	return CategoryDTO{ID: c.ID, Name: c.Name, Notes: c.Notes}
}

func toManufacturerDTO(m sqlite.Manufacturer) ManufacturerDTO {
	return ManufacturerDTO{ID: m.ID, Name: m.Name, Contact: m.Contact, Notes: m.Notes}
}

func toSupplierDTO(s sqlite.Supplier) SupplierDTO {
	return SupplierDTO{ID: s.ID, Name: s.Name, Phone: s.Phone, Email: s.Email, Address: s.Address}
}

func toFormulaDTO(f sqlite.Formula) FormulaDTO {
	return FormulaDTO{ID: f.ID, Name: f.Name, Composition: f.Composition}
}
