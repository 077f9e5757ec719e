package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

const testSecret = "test-secret"

type apiHarness struct {
	t       *testing.T
	router  *gin.Engine
	admin   string
	cashier string
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	store := memory.NewStore()
	locker := lock.NewLocal()
	engine := fulfillment.NewEngine(store,
		fulfillment.WithLogger(entry),
		fulfillment.WithLocker(locker),
		fulfillment.WithMetrics(metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())),
	)
	server := httpapi.NewServer(engine, catalog.NewService(store, locker, entry),
		httpapi.WithJWTSecret(testSecret),
		httpapi.WithIdempotency(memory.NewIdempotencyRepository(), time.Hour),
		httpapi.WithLogger(entry),
	)

	admin, err := httpapi.IssueToken(testSecret, domain.Actor{ID: "admin-1", Admin: true}, time.Hour)
	require.NoError(t, err)
	cashier, err := httpapi.IssueToken(testSecret, domain.Actor{ID: "cashier-1"}, time.Hour)
	require.NoError(t, err)

	return &apiHarness{t: t, router: server.Router(), admin: admin, cashier: cashier}
}

func (h *apiHarness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (h *apiHarness) plainItem(id, price string, stock int64) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/catalog/items", h.admin, map[string]any{
		"id":       id,
		"name":     "Item " + id,
		"price":    price,
		"strategy": "PLAIN_STOCK",
		"stock":    stock,
	})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (h *apiHarness) stockOf(id string) int64 {
	h.t.Helper()
	rec := h.do(http.MethodGet, "/catalog/items", h.cashier, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Items []struct {
			ID    string `json:"id"`
			Stock *int64 `json:"stock"`
		} `json:"items"`
	}
	decodeBody(h.t, rec, &resp)
	for _, item := range resp.Items {
		if item.ID == id {
			require.NotNil(h.t, item.Stock)
			return *item.Stock
		}
	}
	h.t.Fatalf("item %s not listed", id)
	return 0
}

type createResponse struct {
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/orders", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := httpapi.IssueToken("other-secret", domain.Actor{ID: "mallory", Admin: true}, time.Hour)
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/orders", forged, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes_RejectCashier(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/catalog/items", h.cashier, map[string]any{"name": "X", "price": "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/orphans", h.cashier, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/orphans", h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"orphans":[]}`, rec.Body.String())
}

func TestOrderLifecycle_CreateGetDelete(t *testing.T) {
	h := newHarness(t)
	h.plainItem("card", "10.50", 5)

	rec := h.do(http.MethodPost, "/orders", h.cashier, map[string]any{
		"items": []map[string]any{{"item_id": "card", "quantity": 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created createResponse
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.OrderID)
	require.True(t, created.Total.Equal(decimal.RequireFromString("21")), created.Total.String())
	require.EqualValues(t, 3, h.stockOf("card"))

	rec = h.do(http.MethodGet, "/orders/"+created.OrderID, h.cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var order struct {
		ID        string `json:"id"`
		CreatedBy string `json:"created_by"`
		Lines     []struct {
			ItemID     string          `json:"item_id"`
			Quantity   int64           `json:"quantity"`
			Amount     decimal.Decimal `json:"amount"`
			Provenance struct {
				Kind string `json:"kind"`
			} `json:"provenance"`
		} `json:"lines"`
	}
	decodeBody(t, rec, &order)
	require.Equal(t, "cashier-1", order.CreatedBy)
	require.Len(t, order.Lines, 1)
	require.Equal(t, "card", order.Lines[0].ItemID)
	require.EqualValues(t, 2, order.Lines[0].Quantity)
	require.True(t, order.Lines[0].Amount.Equal(decimal.RequireFromString("21")))
	require.Equal(t, string(domain.ProvenancePlain), order.Lines[0].Provenance.Kind)

	rec = h.do(http.MethodGet, "/orders", h.cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.OrderID)

	rec = h.do(http.MethodDelete, "/orders/"+created.OrderID, h.cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 5, h.stockOf("card"))

	rec = h.do(http.MethodGet, "/orders/"+created.OrderID, h.cashier, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodDelete, "/orders/"+created.OrderID, h.cashier, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrder_ShortfallReportsAvailability(t *testing.T) {
	h := newHarness(t)
	h.plainItem("card", "10", 1)

	rec := h.do(http.MethodPost, "/orders", h.cashier, map[string]any{
		"items": []map[string]any{{"item_id": "card", "quantity": 3}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body struct {
		Error     string `json:"error"`
		Available string `json:"available"`
		Requested string `json:"requested"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, "1", body.Available)
	require.Equal(t, "3", body.Requested)
	require.EqualValues(t, 1, h.stockOf("card"))
}

func TestCreateOrder_UnknownItemIsBadRequest(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/orders", h.cashier, map[string]any{
		"items": []map[string]any{{"item_id": "ghost", "quantity": 1}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name    string
		body    any
		message string
	}{
		{name: "empty cart", body: map[string]any{"items": []any{}}, message: "items"},
		{name: "zero quantity", body: map[string]any{"items": []map[string]any{{"item_id": "a", "quantity": 0}}}, message: "quantity"},
		{name: "negative payment", body: map[string]any{
			"items":          []map[string]any{{"item_id": "a", "quantity": 1}},
			"payment_amount": "-1",
		}, message: "payment_amount"},
		{name: "quantity above limit", body: map[string]any{"items": []map[string]any{{"item_id": "a", "quantity": int64(1) << 62}}}, message: "quantity must be at most"},
		{name: "credit amount beyond four decimals", body: map[string]any{
			"items": []map[string]any{{"item_id": "a", "quantity": 1, "credit_amount": "0.00005"}},
		}, message: "credit_amount must have at most 4 decimal places"},
		{name: "payment amount beyond four decimals", body: map[string]any{
			"items":          []map[string]any{{"item_id": "a", "quantity": 1}},
			"payment_amount": "9.99999",
		}, message: "payment_amount must have at most 4 decimal places"},
		{name: "malformed json", body: `{"items":`, message: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/orders", h.cashier, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), tc.message)
		})
	}
}

func TestCreateOrder_IdempotencyKeyReplaysResponse(t *testing.T) {
	h := newHarness(t)
	h.plainItem("card", "5", 10)

	body := map[string]any{"items": []map[string]any{{"item_id": "card", "quantity": 1}}}

	first := h.do(http.MethodPost, "/orders", h.cashier, body, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := h.do(http.MethodPost, "/orders", h.cashier, body, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 9, h.stockOf("card"))

	other := map[string]any{"items": []map[string]any{{"item_id": "card", "quantity": 2}}}
	conflict := h.do(http.MethodPost, "/orders", h.cashier, other, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusConflict, conflict.Code, conflict.Body.String())
	require.EqualValues(t, 9, h.stockOf("card"))
}

func TestCreateOrder_IdempotencyKeyReplaysFailure(t *testing.T) {
	h := newHarness(t)
	h.plainItem("card", "5", 1)

	body := map[string]any{"items": []map[string]any{{"item_id": "card", "quantity": 2}}}
	first := h.do(http.MethodPost, "/orders", h.cashier, body, "Idempotency-Key", "key-fail")
	require.Equal(t, http.StatusBadRequest, first.Code)

	second := h.do(http.MethodPost, "/orders", h.cashier, body, "Idempotency-Key", "key-fail")
	require.Equal(t, http.StatusBadRequest, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCreditAccounts_FilterByFamilyAndBalance(t *testing.T) {
	h := newHarness(t)

	for _, acc := range []map[string]any{
		{"id": "acc-low", "label": "Low", "family": "EMAIL", "balance": "5"},
		{"id": "acc-high", "label": "High", "family": "email", "balance": "120"},
		{"id": "acc-razer", "label": "Razer", "family": "RAZER", "balance": "500"},
	} {
		rec := h.do(http.MethodPost, "/catalog/accounts", h.admin, acc)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := h.do(http.MethodGet, "/credit-accounts?family=EMAIL&min_balance=10", h.cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Accounts []struct {
			AccountID string          `json:"account_id"`
			Balance   decimal.Decimal `json:"balance"`
		} `json:"accounts"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Accounts, 1)
	require.Equal(t, "acc-high", resp.Accounts[0].AccountID)

	rec = h.do(http.MethodGet, "/credit-accounts?family=EMAIL&min_balance=abc", h.cashier, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/credit-accounts", h.cashier, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/catalog/accounts", h.admin, map[string]any{"label": "Dust", "family": "RAZER", "balance": "0.00001"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "balance must have at most 4 decimal places")
}

func TestBundleStock_MinimumOverComponents(t *testing.T) {
	h := newHarness(t)
	h.plainItem("a", "1", 10)
	h.plainItem("b", "1", 3)

	rec := h.do(http.MethodPost, "/catalog/items", h.admin, map[string]any{
		"id": "kit", "name": "Kit", "price": "5", "strategy": "BUNDLE",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPut, "/catalog/bundles/kit/components", h.admin, map[string]any{
		"components": []map[string]any{
			{"component_id": "a", "qty_per_unit": 2},
			{"component_id": "b", "qty_per_unit": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/bundles/kit/stock", h.cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"bundle_id":"kit","effective_stock":3,"unlimited":false}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/bundles/a/stock", h.cashier, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/bundles/missing/stock", h.cashier, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalog_LotLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/catalog/items", h.admin, map[string]any{
		"id": "gift", "name": "Gift", "price": "20", "strategy": "COST_LOT",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/catalog/items/gift/lots", h.admin, map[string]any{"unit_cost": "12.5", "units": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var lot struct {
		ID    string `json:"id"`
		Units int64  `json:"units"`
	}
	decodeBody(t, rec, &lot)
	require.NotEmpty(t, lot.ID)
	require.EqualValues(t, 4, lot.Units)

	rec = h.do(http.MethodPost, "/catalog/items/gift/lots", h.admin, map[string]any{"unit_cost": "12.5", "units": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/catalog/items/gift/lots", h.admin, map[string]any{"unit_cost": "12.12345", "units": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unit_cost must have at most 4 decimal places")

	rec = h.do(http.MethodDelete, "/catalog/lots/"+lot.ID, h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodDelete, "/catalog/lots/"+lot.ID, h.admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/nope", h.cashier, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
