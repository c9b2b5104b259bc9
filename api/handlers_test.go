/*
handlers_test.go - Unit tests for API handlers

Tests the full HTTP surface against an in-memory SQLite store:
- Catalog product CRUD
- Intake, sale and return flow with status code mapping
- Advisory stock reports
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stock-ledger/store/sqlite"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return rec
}

func createProduct(t *testing.T, router http.Handler, name string) int64 {
	t.Helper()
	var product ProductDTO
	rec := doJSON(t, router, http.MethodPost, "/api/products", SaveProductRequest{
		Name:      name,
		Medical:   true,
		SalePrice: "2.50",
	}, &product)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create product: status %d, body %s", rec.Code, rec.Body.String())
	}
	return product.ID
}

func recordIntake(t *testing.T, router http.Handler, productID int64, qty int, receivedAt string) BatchDTO {
	t.Helper()
	var batch BatchDTO
	rec := doJSON(t, router, http.MethodPost, "/api/stock/intake", IntakeRequest{
		ProductID:  productID,
		Quantity:   qty,
		CostPrice:  "1.10",
		ReceivedAt: receivedAt,
	}, &batch)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to record intake: status %d, body %s", rec.Code, rec.Body.String())
	}
	return batch
}

func TestSaleFlow_EndToEnd(t *testing.T) {
	// GIVEN: A product with an older batch of 5 and a newer batch of 10
	router := newTestRouter(t)
	productID := createProduct(t, router, "Paracetamol 500mg")
	older := recordIntake(t, router, productID, 5, "2025-03-01")
	newer := recordIntake(t, router, productID, 10, "2025-03-02")

	// WHEN: Selling 7 units
	var receipt SaleReceiptDTO
	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		Lines: []SaleLineRequest{{ProductID: productID, Quantity: 7, UnitPrice: "2.50"}},
	}, &receipt)

	// THEN: 201 with 5 from the older batch and 2 from the newer
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if receipt.Total != "17.50" {
		t.Errorf("expected total 17.50, got %s", receipt.Total)
	}
	if len(receipt.Lines) != 1 || len(receipt.Lines[0].Allocations) != 2 {
		t.Fatalf("expected 1 line with 2 allocations, got %+v", receipt.Lines)
	}
	allocs := receipt.Lines[0].Allocations
	if allocs[0].BatchID != older.ID || allocs[0].Quantity != 5 {
		t.Errorf("expected first draw {batch %d, qty 5}, got %+v", older.ID, allocs[0])
	}
	if allocs[1].BatchID != newer.ID || allocs[1].Quantity != 2 {
		t.Errorf("expected second draw {batch %d, qty 2}, got %+v", newer.ID, allocs[1])
	}

	// AND: On-hand reflects the sale
	var onHand OnHandDTO
	doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/products/%d/on-hand", productID), nil, &onHand)
	if onHand.OnHand != 8 {
		t.Errorf("expected on-hand 8, got %d", onHand.OnHand)
	}

	// AND: The allocation drill-down matches the receipt
	var details []AllocationDTO
	doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/sale-items/%d/allocations", receipt.Lines[0].SaleItemID), nil, &details)
	if len(details) != 2 {
		t.Errorf("expected 2 allocation rows, got %d", len(details))
	}
}

func TestCreateSale_InsufficientStock_Conflict(t *testing.T) {
	// GIVEN: Only 3 units on hand
	router := newTestRouter(t)
	productID := createProduct(t, router, "Ibuprofen 200mg")
	recordIntake(t, router, productID, 3, "2025-03-01")

	// WHEN: Selling 10
	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		Lines: []SaleLineRequest{{ProductID: productID, Quantity: 10, UnitPrice: "3.00"}},
	}, nil)

	// THEN: 409 and the stock is untouched
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	var onHand OnHandDTO
	doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/products/%d/on-hand", productID), nil, &onHand)
	if onHand.OnHand != 3 {
		t.Errorf("expected on-hand 3 after rejected sale, got %d", onHand.OnHand)
	}
}

func TestCreateSale_UnknownProduct_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		Lines: []SaleLineRequest{{ProductID: 999, Quantity: 1, UnitPrice: "1.00"}},
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSale_ZeroQuantity_BadRequest(t *testing.T) {
	router := newTestRouter(t)
	productID := createProduct(t, router, "Cetirizine 10mg")
	recordIntake(t, router, productID, 5, "2025-03-01")

	rec := doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		Lines: []SaleLineRequest{{ProductID: productID, Quantity: 0, UnitPrice: "4.00"}},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReturnFlow_RestocksAndLimits(t *testing.T) {
	// GIVEN: A recorded sale of 4 units
	router := newTestRouter(t)
	productID := createProduct(t, router, "Amoxicillin 250mg")
	recordIntake(t, router, productID, 10, "2025-03-01")

	var receipt SaleReceiptDTO
	doJSON(t, router, http.MethodPost, "/api/sales", CreateSaleRequest{
		Lines: []SaleLineRequest{{ProductID: productID, Quantity: 4, UnitPrice: "5.00"}},
	}, &receipt)
	itemID := receipt.Lines[0].SaleItemID

	// WHEN: Returning 2 units
	var ret ReturnReceiptDTO
	rec := doJSON(t, router, http.MethodPost, "/api/returns", CreateReturnRequest{
		SaleItemID: itemID,
		Quantity:   2,
		Reason:     "unopened",
	}, &ret)

	// THEN: 201, stock recovers to 8
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var onHand OnHandDTO
	doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/products/%d/on-hand", productID), nil, &onHand)
	if onHand.OnHand != 8 {
		t.Errorf("expected on-hand 8 after return, got %d", onHand.OnHand)
	}

	// AND: Returning more than remains returnable is a 400
	rec = doJSON(t, router, http.MethodPost, "/api/returns", CreateReturnRequest{
		SaleItemID: itemID,
		Quantity:   3,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-return, got %d: %s", rec.Code, rec.Body.String())
	}

	// AND: The return shows up in history
	var history []ReturnDTO
	doJSON(t, router, http.MethodGet, "/api/returns", nil, &history)
	if len(history) != 1 || history[0].Quantity != 2 {
		t.Errorf("expected 1 return of 2 units in history, got %+v", history)
	}
}

func TestLowStockReport(t *testing.T) {
	// GIVEN: One low product, one healthy, one with no batches
	router := newTestRouter(t)
	lowID := createProduct(t, router, "Paracetamol 500mg")
	okID := createProduct(t, router, "Ibuprofen 200mg")
	emptyID := createProduct(t, router, "Cetirizine 10mg")
	recordIntake(t, router, lowID, 2, "2025-03-01")
	recordIntake(t, router, okID, 50, "2025-03-01")

	// WHEN: Querying with threshold 10
	var report []ProductOnHandDTO
	rec := doJSON(t, router, http.MethodGet, "/api/stock/low-stock?threshold=10", nil, &report)

	// THEN: The empty product leads, the low one follows, the healthy one is absent
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 products, got %d: %+v", len(report), report)
	}
	if report[0].ProductID != emptyID || report[0].OnHand != 0 {
		t.Errorf("expected empty product first, got %+v", report[0])
	}
	if report[1].ProductID != lowID || report[1].OnHand != 2 {
		t.Errorf("expected low product second, got %+v", report[1])
	}
}

func TestProductCRUD(t *testing.T) {
	router := newTestRouter(t)
	id := createProduct(t, router, "Loratadine 10mg")

	// Update keeps the id and changes the name
	var updated ProductDTO
	rec := doJSON(t, router, http.MethodPost, "/api/products", SaveProductRequest{
		ID:        id,
		Name:      "Loratadine 10mg (30 tabs)",
		Medical:   true,
		SalePrice: "3.75",
	}, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}
	if updated.Name != "Loratadine 10mg (30 tabs)" {
		t.Errorf("unexpected name after update: %s", updated.Name)
	}

	// Delete, then 404 on fetch
	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/products/%d", id), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/products/%d", id), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCategoryDuplicateName_Conflict(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/categories", CategoryDTO{Name: "Analgesics"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/api/categories", CategoryDTO{Name: "Analgesics"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate name, got %d: %s", rec.Code, rec.Body.String())
	}
}
