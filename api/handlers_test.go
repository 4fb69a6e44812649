/*
handlers_test.go - HTTP tests for the payment API

Tests for:
- Order creation and confirmation through the router
- Webhook ingress: duplicates, unknown intents, signatures
- Reports, ledger listing, reconciliation endpoints
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/catalog"
	"github.com/warp/payment-engine/gateway"
	"github.com/warp/payment-engine/settlement"
	"github.com/warp/payment-engine/settlement/store"
)

type testEnv struct {
	router  *chi.Mux
	handler *Handler
	store   *store.Memory
	catalog *catalog.Memory
	svc     *settlement.Service
}

// newTestEnv wires the API against in-memory stores. failureRate 0 makes
// every confirmation succeed, 1 makes every one fail.
func newTestEnv(t *testing.T, failureRate float64, webhookSecret string) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	cat := catalog.NewMemory(catalog.DefaultRecipes(time.Now())...)
	gw, err := gateway.NewSimulated(failureRate, rand.NewSource(1))
	require.NoError(t, err)

	svc := settlement.NewService(settlement.ServiceDeps{
		Store:   mem,
		Catalog: cat,
		Gateway: gw,
	})
	h := NewHandler(svc, gateway.NewWebhookVerifier(webhookSecret), nil)
	h.Fixtures = &Fixtures{Resetters: []Resetter{mem, cat}, Recipes: cat}
	h.Scheduler = NewReconciliationScheduler(svc.Reconciler(), nil)

	return &testEnv{router: NewRouter(h, nil), handler: h, store: mem, catalog: cat, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createOrder(t *testing.T, buyer, recipe string) CreateOrderResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/orders", CreateOrderRequest{BuyerID: buyer, RecipeID: recipe})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreateOrderResponse](t, rec)
}

func eventBody(id, typ, intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q}}}`, id, typ, intentID))
}

func signature(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// ORDERS AND PAYMENTS
// =============================================================================

func TestCreateOrderAndConfirm_Settles(t *testing.T) {
	// GIVEN: the default catalog and a gateway that always succeeds
	env := newTestEnv(t, 0, "")

	// WHEN: an order is created and confirmed
	created := env.createOrder(t, "b1", "r1")
	assert.Equal(t, "pending", created.Data.Status)
	assert.Equal(t, int64(599), created.Data.AmountCents)
	assert.Equal(t, "mock_"+created.Data.PaymentIntentID, created.ClientSecret)

	rec := env.do(t, http.MethodPost, "/api/payments/"+created.Data.PaymentIntentID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[ConfirmPaymentResponse](t, rec)

	// THEN: the order is paid and the author report shows the split
	assert.Equal(t, "paid", confirmed.Data.Status)
	assert.Equal(t, OutcomeDTO{OK: true, Outcome: "applied", OrderID: created.Data.ID}, confirmed.WebhookHandled)

	rec = env.do(t, http.MethodGet, "/api/reports/author/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[DataResponse[ReportDTO]](t, rec).Data
	assert.Equal(t, ReportDTO{
		AuthorID:         "u1",
		RecipeIDs:        []string{"r1"},
		OrderCount:       1,
		GrossCents:       599,
		PlatformFeeCents: 60,
		NetCents:         539,
	}, report)
}

func TestConfirm_FailedPayment(t *testing.T) {
	env := newTestEnv(t, 1, "")
	created := env.createOrder(t, "b1", "r1")

	rec := env.do(t, http.MethodPost, "/api/payments/"+created.Data.PaymentIntentID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[ConfirmPaymentResponse](t, rec)

	assert.Equal(t, "failed", confirmed.Data.Status)
	assert.True(t, confirmed.WebhookHandled.OK)

	ledger := decode[DataResponse[[]LedgerEntryDTO]](t, env.do(t, http.MethodGet, "/api/ledger", nil)).Data
	assert.Empty(t, ledger)
}

func TestCreateOrder_Errors(t *testing.T) {
	env := newTestEnv(t, 0, "")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"missing buyer", CreateOrderRequest{RecipeID: "r1"}, http.StatusBadRequest},
		{"missing recipe id", CreateOrderRequest{BuyerID: "b1"}, http.StatusBadRequest},
		{"unknown recipe", CreateOrderRequest{BuyerID: "b1", RecipeID: "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/orders", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}

	orders, err := env.store.ListOrders(context.Background(), settlement.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestConfirm_UnknownIntent(t *testing.T) {
	env := newTestEnv(t, 0, "")
	rec := env.do(t, http.MethodPost, "/api/payments/pi_missing/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestOrders_GetAndList(t *testing.T) {
	env := newTestEnv(t, 0, "")
	first := env.createOrder(t, "b1", "r1")
	env.createOrder(t, "b2", "r1")
	env.do(t, http.MethodPost, "/api/payments/"+first.Data.PaymentIntentID+"/confirm", nil)

	rec := env.do(t, http.MethodGet, "/api/orders/"+first.Data.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decode[DataResponse[OrderDTO]](t, rec).Data.Status)

	all := decode[DataResponse[[]OrderDTO]](t, env.do(t, http.MethodGet, "/api/orders", nil)).Data
	assert.Len(t, all, 2)

	pending := decode[DataResponse[[]OrderDTO]](t, env.do(t, http.MethodGet, "/api/orders?status=pending", nil)).Data
	require.Len(t, pending, 1)
	assert.Equal(t, "b2", pending[0].BuyerID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/orders?status=shipped", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/orders/order_missing", nil).Code)
}

func TestListRecipes(t *testing.T) {
	env := newTestEnv(t, 0, "")
	rec := env.do(t, http.MethodGet, "/api/recipes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recipes := decode[DataResponse[[]RecipeDTO]](t, rec).Data
	assert.Equal(t, []RecipeDTO{{ID: "r1", AuthorID: "u1", Title: "Pasta", PriceCents: 599}}, recipes)
}

// =============================================================================
// WEBHOOK
// =============================================================================

func TestWebhook_DuplicateDeliveryIsSkipped(t *testing.T) {
	// GIVEN: a pending order
	env := newTestEnv(t, 0, "")
	created := env.createOrder(t, "b1", "r1")
	body := eventBody("evt_1", "payment_intent.succeeded", created.Data.PaymentIntentID)

	// WHEN: the same event arrives twice
	first := env.do(t, http.MethodPost, "/api/webhooks/stripe", body)
	second := env.do(t, http.MethodPost, "/api/webhooks/stripe", body)

	// THEN: applied once, skipped once, one ledger entry
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "applied", decode[OutcomeDTO](t, first).Outcome)
	assert.Equal(t, OutcomeDTO{OK: true, Outcome: "skipped", Reason: "duplicate event"}, decode[OutcomeDTO](t, second))

	ledger := decode[DataResponse[[]LedgerEntryDTO]](t, env.do(t, http.MethodGet, "/api/ledger?authorId=u1", nil)).Data
	require.Len(t, ledger, 1)
	assert.Equal(t, int64(60), ledger[0].PlatformFeeCents)
	assert.Equal(t, int64(539), ledger[0].NetCents)
}

func TestWebhook_UnknownIntent(t *testing.T) {
	env := newTestEnv(t, 0, "")
	created := env.createOrder(t, "b1", "r1")

	rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", eventBody("evt_x", "payment_intent.succeeded", "pi_nope"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeDTO{OK: true, Outcome: "unknown", Reason: "order not found"}, decode[OutcomeDTO](t, rec))

	order := decode[DataResponse[OrderDTO]](t, env.do(t, http.MethodGet, "/api/orders/"+created.Data.ID, nil)).Data
	assert.Equal(t, "pending", order.Status)
}

func TestWebhook_MalformedEvent(t *testing.T) {
	env := newTestEnv(t, 0, "")

	for _, body := range []string{
		"not json",
		`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`,
		`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`,
	} {
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestWebhook_Signature(t *testing.T) {
	const secret = "whsec_test"
	env := newTestEnv(t, 0, secret)
	created := env.createOrder(t, "b1", "r1")
	body := eventBody("evt_sig", "payment_intent.succeeded", created.Data.PaymentIntentID)

	t.Run("missing header", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", body,
			gateway.SignatureHeader, signature("whsec_other", body, time.Now()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", body,
			gateway.SignatureHeader, signature(secret, body, time.Now()))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "applied", decode[OutcomeDTO](t, rec).Outcome)
	})
}

// =============================================================================
// REPORTS AND LEDGER
// =============================================================================

func TestAuthorReport_UnknownAuthor(t *testing.T) {
	env := newTestEnv(t, 0, "")
	rec := env.do(t, http.MethodGet, "/api/reports/author/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"authorId":"nobody","recipeIds":[],"orderCount":0,"grossCents":0,"platformFeeCents":0,"netCents":0}}`,
		rec.Body.String())
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconciliation_RepairPartialSettlement(t *testing.T) {
	// GIVEN: the orphaned-order scenario (one paid order without an entry)
	env := newTestEnv(t, 0, "")
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "orphaned-order"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	partial := decode[DataResponse[[]OrderDTO]](t, env.do(t, http.MethodGet, "/api/reconciliation/partial", nil)).Data
	require.Len(t, partial, 1)
	assert.Equal(t, "r9", partial[0].RecipeID)

	// WHEN: the order is repaired
	rec = env.do(t, http.MethodPost, "/api/reconciliation/orders/"+partial[0].ID+"/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decode[DataResponse[LedgerEntryDTO]](t, rec).Data

	// THEN: 450 splits 45/405 and nothing is left to repair
	assert.Equal(t, "u9", entry.AuthorID)
	assert.Equal(t, int64(450), entry.GrossCents)
	assert.Equal(t, int64(45), entry.PlatformFeeCents)
	assert.Equal(t, int64(405), entry.NetCents)

	partial = decode[DataResponse[[]OrderDTO]](t, env.do(t, http.MethodGet, "/api/reconciliation/partial", nil)).Data
	assert.Empty(t, partial)

	// Repeating the repair returns the same entry.
	rec = env.do(t, http.MethodPost, "/api/reconciliation/orders/"+entry.OrderID+"/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entry.ID, decode[DataResponse[LedgerEntryDTO]](t, rec).Data.ID)
}

func TestReconciliation_RepairErrors(t *testing.T) {
	env := newTestEnv(t, 0, "")
	pending := env.createOrder(t, "b1", "r1")

	rec := env.do(t, http.MethodPost, "/api/reconciliation/orders/"+pending.Data.ID+"/repair", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/reconciliation/orders/order_missing/repair", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconciliation_RepairWhileRecipeMissing(t *testing.T) {
	env := newTestEnv(t, 0, "")
	created := env.createOrder(t, "b1", "r1")
	require.NoError(t, env.catalog.DeleteRecipe(context.Background(), "r1"))

	rec := env.do(t, http.MethodPost, "/api/webhooks/stripe",
		eventBody("evt_orphan", "payment_intent.succeeded", created.Data.PaymentIntentID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeDTO{OK: false, Outcome: "rejected", Reason: settlement.ReasonRecipeNotFound, OrderID: created.Data.ID},
		decode[OutcomeDTO](t, rec))

	rec = env.do(t, http.MethodPost, "/api/reconciliation/orders/"+created.Data.ID+"/repair", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "partial_settlement", decode[ErrorResponse](t, rec).Code)
}

func TestReconciliation_Runs(t *testing.T) {
	env := newTestEnv(t, 0, "")

	runs := decode[DataResponse[[]ReconciliationRunDTO]](t, env.do(t, http.MethodGet, "/api/reconciliation/runs", nil)).Data
	assert.Empty(t, runs)

	env.handler.Scheduler.RunNow(context.Background())

	runs = decode[DataResponse[[]ReconciliationRunDTO]](t, env.do(t, http.MethodGet, "/api/reconciliation/runs", nil)).Data
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 0, runs[0].Found)
	assert.Equal(t, []string{}, runs[0].OrderIDs)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 0, "")
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}
