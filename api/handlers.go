/*
handlers.go - HTTP API handlers for the payment engine

PURPOSE:
  Exposes the settlement service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to settlement.Service.

ENDPOINTS:
  Catalog:
    GET    /api/recipes                         List recipes

  Orders:
    POST   /api/orders                          Create order + payment intent
    GET    /api/orders                          List orders (?status=)
    GET    /api/orders/{id}                     Get order

  Payments:
    POST   /api/payments/{pid}/confirm          Confirm intent, settle order
    POST   /api/webhooks/stripe                 Provider event ingress

  Reporting:
    GET    /api/reports/author/{id}             Author sales report
    GET    /api/ledger                          Ledger entries (?authorId=)

  Reconciliation:
    GET    /api/reconciliation/partial          Paid orders missing an entry
    POST   /api/reconciliation/orders/{id}/repair
    GET    /api/reconciliation/runs             Scheduler history

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, bad webhook signature
  - 404: Order or recipe not found
  - 409: Status conflicts, partial settlements that cannot be repaired yet
  - 500: Internal errors

WEBHOOK RESPONSES:
  Every structurally valid event gets 200 with its outcome, including
  rejected and unknown ones.
  A failure before the event id is recorded returns 500 and a provider retry
  is processed normally. A failure after it is dead-lettered by the handler;
  the retry comes back Skipped.

SECURITY NOTE:
  No authentication. The webhook is protected by its signature only when a
  webhook secret is configured.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/gateway"
	"github.com/warp/payment-engine/settlement"
)

// maxWebhookBytes bounds provider event bodies.
const maxWebhookBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *settlement.Service
	Verifier *gateway.WebhookVerifier

	// Optional. Nil disables scenario loading.
	Fixtures *Fixtures
	// Optional. Nil serves an empty run history.
	Scheduler *ReconciliationScheduler

	logger *zap.Logger

	// scenarioMu is held for the whole of a scenario load.
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler around the service. verifier may be nil,
// which accepts unsigned webhooks.
func NewHandler(svc *settlement.Service, verifier *gateway.WebhookVerifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Verifier: verifier, logger: logger}
}

// =============================================================================
// CATALOG
// =============================================================================

// ListRecipes returns the catalog.
// GET /api/recipes
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.Service.ListRecipes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list recipes", err)
		return
	}
	dtos := make([]RecipeDTO, len(recipes))
	for i, rec := range recipes {
		dtos[i] = toRecipeDTO(rec)
	}
	writeJSON(w, http.StatusOK, DataResponse[[]RecipeDTO]{Data: dtos})
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrder prices a recipe and opens a payment intent for it.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, intent, err := h.Service.CreateOrder(r.Context(),
		settlement.BuyerID(req.BuyerID), settlement.RecipeID(req.RecipeID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateOrderResponse{
		Data:         toOrderDTO(order),
		ClientSecret: intent.ClientSecret,
	})
}

// ListOrders returns orders, optionally filtered by status.
// GET /api/orders?status=paid
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := settlement.OrderFilter{Status: settlement.OrderStatus(r.URL.Query().Get("status"))}
	orders, err := h.Service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse[[]OrderDTO]{Data: toOrderDTOs(orders)})
}

// GetOrder returns a single order.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.GetOrder(r.Context(), settlement.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse[OrderDTO]{Data: toOrderDTO(order)})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ConfirmPayment confirms the intent with the gateway and settles the order.
// POST /api/payments/{pid}/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	intentID := settlement.PaymentIntentID(chi.URLParam(r, "pid"))
	order, outcome, err := h.Service.ConfirmPayment(r.Context(), intentID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmPaymentResponse{
		Data:           toOrderDTO(order),
		WebhookHandled: toOutcomeDTO(outcome),
	})
}

// StripeWebhook applies one provider event.
// POST /api/webhooks/stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	if err := h.Verifier.Verify(payload, r.Header.Get(gateway.SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid signature", err)
		return
	}

	event, err := settlement.DecodeEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event", err)
		return
	}

	outcome, err := h.Service.ReceiveProviderEvent(r.Context(), event)
	if err != nil {
		h.writeServiceError(w, r, "Failed to handle event", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// =============================================================================
// REPORTING
// =============================================================================

// GetAuthorReport returns an author's paid-order totals.
// GET /api/reports/author/{id}
func (h *Handler) GetAuthorReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.AuthorReport(r.Context(), settlement.AuthorID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse[ReportDTO]{Data: toReportDTO(report)})
}

// ListLedger returns ledger entries in append order.
// GET /api/ledger?authorId=u1
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.LedgerEntries(r.Context(), settlement.AuthorID(r.URL.Query().Get("authorId")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list ledger", err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, DataResponse[[]LedgerEntryDTO]{Data: dtos})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ListPartialSettlements returns paid orders that have no ledger entry.
// GET /api/reconciliation/partial
func (h *Handler) ListPartialSettlements(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Service.PartialSettlements(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to scan settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse[[]OrderDTO]{Data: toOrderDTOs(orders)})
}

// RepairOrder appends the missing ledger entry for one order.
// POST /api/reconciliation/orders/{id}/repair
func (h *Handler) RepairOrder(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Service.RepairPartialSettlement(r.Context(), settlement.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to repair order", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse[LedgerEntryDTO]{Data: toLedgerEntryDTO(entry)})
}

// ListReconciliationRuns returns reconciliation run history, newest first.
// GET /api/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	var runs []ReconciliationRun
	if h.Scheduler != nil {
		runs = h.Scheduler.Runs()
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, DataResponse[[]ReconciliationRunDTO]{Data: dtos})
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

// writeServiceError maps settlement errors onto HTTP statuses. Only 500s
// are logged; the rest are the caller's problem.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case settlement.IsClientError(err):
		return http.StatusBadRequest, "invalid_input"
	case settlement.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, settlement.ErrPartialSettlement):
		return http.StatusConflict, "partial_settlement"
	case settlement.IsConflict(err):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}
