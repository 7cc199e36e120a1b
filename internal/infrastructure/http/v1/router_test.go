package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/internal/core/types"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/domain/reservation"
	v1 "bizledger/internal/infrastructure/http/v1"
	"bizledger/internal/infrastructure/http/v1/handlers"
	"bizledger/internal/infrastructure/storage/memory"
	"bizledger/pkg/logger"
)

const tenant = "acme"

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type itemBody struct {
	ID             string         `json:"id"`
	CurrentStock   types.Quantity `json:"currentStock"`
	ReservedStock  types.Quantity `json:"reservedStock"`
	AvailableStock types.Quantity `json:"availableStock"`
	Status         string         `json:"status"`
}

func newRouter(t *testing.T, checks map[string]handlers.Checker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	mem := memory.New()
	numbers := numbering.NewService(mem.Sequences(), mem.DegradedLog(), mem, mem.Outbox(), numbering.DefaultOptions())
	ledger := stock.NewService(mem.Stock(), mem)
	invoices := invoice.NewService(mem.Invoices(), numbers, mem, mem.Audit(), mem.Outbox(), invoice.DefaultOptions())
	quotes := quote.NewService(mem.Quotes(), numbers, reservation.NewCoordinator(ledger, reservation.PolicyCompensate),
		invoices, mem, mem.Audit(), mem.Outbox(), quote.Options{})

	return v1.NewRouter(v1.RouterConfig{
		Logger:       log,
		Numbering:    numbers,
		Stock:        ledger,
		Quotes:       quotes,
		Invoices:     invoices,
		Audit:        mem.Audit(),
		HealthChecks: checks,
		Version:      "test",
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenant)
	req.Header.Set("X-Actor", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createItem(t *testing.T, r http.Handler, initial string) itemBody {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/inventory", map[string]any{
		"name":          "Schraube M8",
		"initialStock":  initial,
		"purchasePrice": "0.25",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[itemBody](t, w)
}

func TestTenantHeaderRequired(t *testing.T) {
	r := newRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, w).Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	r := newRouter(t, map[string]handlers.Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	live := httptest.NewRecorder()
	r.ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, live.Code)

	ready := httptest.NewRecorder()
	r.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)

	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, ready)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Contains(t, body.Checks["redis"], "connection refused")
}

func TestSequences(t *testing.T) {
	r := newRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/v1/sequences/Angebot/next", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AN-1001", decode[numbering.Allocation](t, w).Formatted)

	w = do(t, r, http.MethodPost, "/api/v1/sequences/provision", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/sequences/Angebot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AN-1002", decode[numbering.Sequence](t, w).NextFormatted)

	w = do(t, r, http.MethodPut, "/api/v1/sequences/Angebot", map[string]any{"nextNumber": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "BUSINESS_RULE_VIOLATION", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodGet, "/api/v1/sequences/degraded", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInventoryOperations(t *testing.T) {
	r := newRouter(t, nil)
	item := createItem(t, r, "10")
	assert.Equal(t, types.NewQuantity(10), item.AvailableStock)

	w := do(t, r, http.MethodPost, "/api/v1/inventory/"+item.ID+"/reserve", map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[itemBody](t, w)
	assert.Equal(t, types.NewQuantity(4), got.ReservedStock)
	assert.Equal(t, types.NewQuantity(6), got.AvailableStock)

	w = do(t, r, http.MethodPost, "/api/v1/inventory/"+item.ID+"/reserve", map[string]any{"quantity": 7})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/inventory/"+item.ID+"/sell", map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[itemBody](t, w)
	assert.Equal(t, types.NewQuantity(6), got.CurrentStock)
	assert.Equal(t, types.Quantity(0), got.ReservedStock)

	w = do(t, r, http.MethodGet, "/api/v1/inventory/"+item.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	movements := decode[struct {
		Items []stock.Movement `json:"items"`
	}](t, w)
	require.Len(t, movements.Items, 3)
	assert.Equal(t, stock.MovementOut, movements.Items[0].Type)

	w = do(t, r, http.MethodGet, "/api/v1/inventory/"+item.ID+"/reconstruct", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["drifted"])

	w = do(t, r, http.MethodGet, "/api/v1/inventory/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[stock.Stats](t, w).TotalItems)
}

func TestInventoryErrors(t *testing.T) {
	r := newRouter(t, nil)

	w := do(t, r, http.MethodGet, "/api/v1/inventory/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/inventory/0190b5a4-8b0e-7cc3-9b7e-1d2f3a4b5c6d", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/inventory", map[string]any{"initialStock": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteToInvoiceToStorno(t *testing.T) {
	r := newRouter(t, nil)
	item := createItem(t, r, "10")

	w := do(t, r, http.MethodPost, "/api/v1/quotes", map[string]any{
		"customerName": "Muster GmbH",
		"reserve":      true,
		"lines": []map[string]any{
			{"itemId": item.ID, "quantity": 3, "unitPrice": "12.50"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	q := decode[quote.Quote](t, w)
	assert.Equal(t, "AN-1001", q.Number)
	assert.Equal(t, quote.ReservationReserved, q.ReservationState)

	w = do(t, r, http.MethodPost, "/api/v1/quotes/"+q.ID.String()+"/reserve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RESERVED", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/quotes/"+q.ID.String()+"/transition", map[string]any{"status": "accepted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q = decode[quote.Quote](t, w)
	assert.Equal(t, quote.StatusAccepted, q.Status)
	assert.Equal(t, "RE-1", q.InvoiceNumber)
	require.NotNil(t, q.InvoiceID)

	w = do(t, r, http.MethodGet, "/api/v1/inventory/"+item.ID, nil)
	got := decode[itemBody](t, w)
	assert.Equal(t, types.NewQuantity(7), got.CurrentStock)
	assert.Equal(t, types.Quantity(0), got.ReservedStock)

	invoicePath := "/api/v1/invoices/" + q.InvoiceID.String()
	w = do(t, r, http.MethodPost, invoicePath+"/transition", map[string]any{"status": "sent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, invoicePath+"/transition", map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodPost, invoicePath+"/storno", map[string]any{"reason": "Falscher Empfänger"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[invoice.StornoResult](t, w)
	assert.Equal(t, invoice.StatusCancelled, res.Original.Status)
	assert.Equal(t, "RE-2", res.Storno.Number)
	assert.True(t, res.Storno.Total.IsNegative())

	w = do(t, r, http.MethodPost, invoicePath+"/storno", map[string]any{"reason": "nochmal"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_CANCELLED", decode[errorBody](t, w).Code)

	w = do(t, r, http.MethodGet, "/api/v1/invoices?storno=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []invoice.Invoice `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "RE-2", list.Items[0].Number)

	w = do(t, r, http.MethodGet, "/api/v1/audit/invoices/"+q.InvoiceID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	trail := decode[struct {
		Items []audit.Record `json:"items"`
	}](t, w)
	require.Len(t, trail.Items, 3)
	assert.Equal(t, audit.ActionStorno, trail.Items[0].Action)
	assert.Equal(t, "cancelled", trail.Items[0].ToStatus)
	assert.Equal(t, audit.ActionTransition, trail.Items[1].Action)
	assert.Equal(t, audit.ActionCreate, trail.Items[2].Action)
}
