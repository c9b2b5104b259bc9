/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the stock ledger and catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    GET    /api/products               List catalog
    POST   /api/products               Create or update product
    GET    /api/products/{id}          Get product details
    DELETE /api/products/{id}          Delete product
    GET    /api/products/{id}/batches  List a product's batches
    GET    /api/products/{id}/on-hand  Summed on-hand quantity

  Stock:
    POST   /api/stock/intake           Record a received lot
    GET    /api/stock/batches          List all batches
    GET    /api/stock/near-expiry      Batches expiring within a horizon
    GET    /api/stock/low-stock        Products at or below a threshold

  Sales:
    POST   /api/sales                  Record a sale (FIFO allocation)
    GET    /api/sale-items/{id}/allocations  Batch provenance for a line

  Returns:
    POST   /api/returns                Record a return (LIFO restock)
    GET    /api/returns                Return history

  Catalog references:
    categories, manufacturers, suppliers, formulas: list/save/delete

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ledger services, catalog store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (insufficient stock, lost stock race, duplicate)
  - 500: Internal errors

  Insufficient stock is a 409, not a 400: the request was well formed,
  the ledger state just cannot satisfy it right now.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/errors.go: The error taxonomy mapped here
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the catalog store and the ledger services.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *ledger.StockLedger
	Sales   *ledger.SaleProcessor
	Returns *ledger.ReturnProcessor
	Query   *ledger.StockQuery
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:   store,
		Ledger:  ledger.NewStockLedger(store),
		Sales:   ledger.NewSaleProcessor(store),
		Returns: ledger.NewReturnProcessor(store),
		Query:   ledger.NewStockQuery(store),
	}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products", err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := h.Store.GetProduct(r.Context(), ledger.ProductID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load product", err)
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "product not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	salePrice, err := parseAmount(req.SalePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale_price", err)
		return
	}

	product, err := h.Store.SaveProduct(r.Context(), ledger.Product{
		ID:             ledger.ProductID(req.ID),
		Name:           req.Name,
		SKU:            req.SKU,
		Medical:        req.Medical,
		CategoryID:     req.CategoryID,
		ManufacturerID: req.ManufacturerID,
		FormulaID:      req.FormulaID,
		Unit:           req.Unit,
		SalePrice:      salePrice,
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, statusForCatalogError(err), "failed to save product", err)
		return
	}
	writeJSON(w, savedStatus(req.ID), toProductDTO(*product))
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteProduct(r.Context(), ledger.ProductID(id)); err != nil {
		writeError(w, statusForCatalogError(err), "failed to delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

func (h *Handler) RecordIntake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	costPrice, err := parseAmount(req.CostPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cost_price", err)
		return
	}
	expiry, err := parseOptionalTime(req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expiry_date", err)
		return
	}
	var receivedAt time.Time
	if req.ReceivedAt != "" {
		t, err := parseTime(req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid received_at", err)
			return
		}
		receivedAt = t
	}

	batch, err := h.Ledger.Intake(r.Context(), ledger.IntakeRequest{
		ProductID:  ledger.ProductID(req.ProductID),
		SupplierID: req.SupplierID,
		LotLabel:   req.LotLabel,
		Quantity:   req.Quantity,
		ExpiryDate: expiry,
		CostPrice:  costPrice,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		writeError(w, statusForLedgerError(err), "failed to record intake", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Ledger.ListAllBatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

func (h *Handler) ListProductBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order := ledger.OldestFirst
	if r.URL.Query().Get("order") == "newest" {
		order = ledger.NewestFirst
	}
	includeEmpty := r.URL.Query().Get("include_empty") == "true"

	batches, err := h.Ledger.ListBatches(r.Context(), ledger.ProductID(id), order, includeEmpty)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

func (h *Handler) GetOnHand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	onHand, err := h.Ledger.GetOnHand(r.Context(), ledger.ProductID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute on-hand", err)
		return
	}
	writeJSON(w, http.StatusOK, OnHandDTO{ProductID: id, OnHand: onHand})
}

func (h *Handler) NearExpiry(w http.ResponseWriter, r *http.Request) {
	horizonDays := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid days parameter", err)
			return
		}
		horizonDays = n
	}
	batches, err := h.Query.NearExpiry(r.Context(), horizonDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query near-expiry batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 10
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid threshold parameter", err)
			return
		}
		threshold = n
	}
	products, err := h.Query.LowStock(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query low stock", err)
		return
	}
	dtos := make([]ProductOnHandDTO, len(products))
	for i, p := range products {
		dtos[i] = ProductOnHandDTO{ProductID: int64(p.ProductID), Name: p.Name, OnHand: p.OnHand}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SALE ENDPOINTS
// =============================================================================

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	discount, err := parseAmount(req.Discount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discount", err)
		return
	}
	tax, err := parseAmount(req.Tax)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tax", err)
		return
	}

	lines := make([]ledger.SaleLine, len(req.Lines))
	for i, line := range req.Lines {
		unitPrice, err := parseAmount(line.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unit_price", err)
			return
		}
		lines[i] = ledger.SaleLine{
			ProductID: ledger.ProductID(line.ProductID),
			Quantity:  line.Quantity,
			UnitPrice: unitPrice,
		}
	}

	receipt, err := h.Sales.RecordSale(r.Context(), ledger.SaleRequest{
		OperatorID:     req.OperatorID,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		Discount:       discount,
		Tax:            tax,
		Lines:          lines,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, statusForLedgerError(err), "failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleReceiptDTO(receipt))
}

func (h *Handler) GetAllocations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	details, err := h.Query.AllocationHistory(r.Context(), ledger.SaleItemID(id))
	if err != nil {
		writeError(w, statusForLedgerError(err), "failed to load allocations", err)
		return
	}
	dtos := make([]AllocationDTO, len(details))
	for i, d := range details {
		dtos[i] = toAllocationDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RETURN ENDPOINTS
// =============================================================================

func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	receipt, err := h.Returns.RecordReturn(r.Context(), ledger.ReturnRequest{
		SaleItemID:     ledger.SaleItemID(req.SaleItemID),
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, statusForLedgerError(err), "failed to record return", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturnReceiptDTO(receipt))
}

func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := h.Returns.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list returns", err)
		return
	}
	dtos := make([]ReturnDTO, len(returns))
	for i, ret := range returns {
		dtos[i] = ReturnDTO{
			ID:         int64(ret.ID),
			SaleItemID: int64(ret.SaleItemID),
			Quantity:   ret.Quantity,
			Reason:     ret.Reason,
			CreatedAt:  ret.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CATALOG REFERENCE ENDPOINTS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	saved, err := h.Store.SaveCategory(r.Context(), sqlite.Category{ID: req.ID, Name: req.Name, Notes: req.Notes})
	if err != nil {
		writeError(w, statusForCatalogError(err), "failed to save category", err)
		return
	}
	writeJSON(w, savedStatus(req.ID), toCategoryDTO(*saved))
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, statusForCatalogError(err), "failed to delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListManufacturers(w http.ResponseWriter, r *http.Request) {
	manufacturers, err := h.Store.ListManufacturers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list manufacturers", err)
		return
	}
	dtos := make([]ManufacturerDTO, len(manufacturers))
	for i, m := range manufacturers {
		dtos[i] = toManufacturerDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveManufacturer(w http.ResponseWriter, r *http.Request) {
	var req ManufacturerDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	saved, err := h.Store.SaveManufacturer(r.Context(), sqlite.Manufacturer{
		ID: req.ID, Name: req.Name, Contact: req.Contact, Notes: req.Notes,
	})
	if err != nil {
		writeError(w, statusForCatalogError(err), "failed to save manufacturer", err)
		return
	}
	writeJSON(w, savedStatus(req.ID), toManufacturerDTO(*saved))
}

func (h *Handler) DeleteManufacturer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteManufacturer(r.Context(), id); err != nil {
		writeError(w, statusForCatalogError(err), "failed to delete manufacturer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Store.ListSuppliers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list suppliers", err)
		return
	}
	dtos := make([]SupplierDTO, len(suppliers))
	for i, s := range suppliers {
		dtos[i] = toSupplierDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	saved, err := h.Store.SaveSupplier(r.Context(), sqlite.Supplier{
		ID: req.ID, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		writeError(w, statusForCatalogError(err), "failed to save supplier", err)
		return
	}
	writeJSON(w, savedStatus(req.ID), toSupplierDTO(*saved))
}

func (h *Handler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteSupplier(r.Context(), id); err != nil {
		writeError(w, statusForCatalogError(err), "failed to delete supplier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	formulas, err := h.Store.ListFormulas(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list formulas", err)
		return
	}
	dtos := make([]FormulaDTO, len(formulas))
	for i, f := range formulas {
		dtos[i] = toFormulaDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveFormula(w http.ResponseWriter, r *http.Request) {
	var req FormulaDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	saved, err := h.Store.SaveFormula(r.Context(), sqlite.Formula{
		ID: req.ID, Name: req.Name, Composition: req.Composition,
	})
	if err != nil {
		writeError(w, statusForCatalogError(err), "failed to save formula", err)
		return
	}
	writeJSON(w, savedStatus(req.ID), toFormulaDTO(*saved))
}

func (h *Handler) DeleteFormula(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteFormula(r.Context(), id); err != nil {
		writeError(w, statusForCatalogError(err), "failed to delete formula", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// pathID parses the named integer path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return id, true
}

// parseAmount parses a decimal amount, treating empty as zero.
func parseAmount(s string) (ledger.Money, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseTime accepts RFC3339 or a bare ISO date.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func savedStatus(id int64) int {
	if id == 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

// statusForLedgerError maps the ledger error taxonomy onto HTTP statuses.
func statusForLedgerError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrConcurrencyConflict),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForCatalogError(err error) int {
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sqlite.ErrDuplicateName):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
