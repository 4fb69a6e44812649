/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the stores with realistic
	data for demos. Each scenario seeds the catalog, then drives orders
	through the same service calls the API uses, delivering provider events
	directly so outcomes are deterministic.

AVAILABLE SCENARIOS:

	default:         One recipe (Pasta, 599 cents by u1), no orders
	marketplace:     Three authors, settled, failed and pending orders
	orphaned-order:  A paid order with no ledger entry, ready for repair

HOW SCENARIOS WORK:
 1. Reset every store (orders, ledger, processed events, catalog)
 2. Add recipes
 3. Create orders through Service.CreateOrder
 4. Deliver succeeded/failed events through Service.ReceiveProviderEvent

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "marketplace"}

NOTE:

	Scenarios reset all data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler.Fixtures
  - catalog/memory.go: DefaultRecipes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/catalog"
	"github.com/warp/payment-engine/settlement"
)

// Resetter clears one store.
type Resetter interface {
	Reset(ctx context.Context) error
}

// RecipeEditor is the catalog's admin surface.
type RecipeEditor interface {
	AddRecipe(ctx context.Context, r settlement.Recipe) error
	DeleteRecipe(ctx context.Context, id settlement.RecipeID) error
}

// Fixtures gives scenarios write access to the stores behind the service.
type Fixtures struct {
	Resetters []Resetter
	Recipes   RecipeEditor
	Now       func() time.Time
}

func (f *Fixtures) reset(ctx context.Context) error {
	for _, r := range f.Resetters {
		if err := r.Reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fixtures) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

func (f *Fixtures) addRecipes(ctx context.Context, recipes ...settlement.Recipe) error {
	for _, r := range recipes {
		if err := f.Recipes.AddRecipe(ctx, r); err != nil {
			return fmt.Errorf("add recipe %s: %w", r.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "default",
		Name:        "Default Catalog",
		Description: "One recipe (Pasta, $5.99 by u1) and no orders",
	},
	{
		ID:          "marketplace",
		Name:        "Marketplace",
		Description: "Three authors with settled, failed and pending orders",
	},
	{
		ID:          "orphaned-order",
		Name:        "Orphaned Order",
		Description: "Recipe deleted before settlement then restored; one paid order has no ledger entry until repaired",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

func (h *Handler) scenario() string {
	h.scenarioMu.RLock()
	defer h.scenarioMu.RUnlock()
	return h.currentScenario
}

// LoadScenario resets all data and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Fixtures == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios are not available", nil)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if settlement.IsClientError(err) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "default":
		load = h.loadDefaultScenario
	case "marketplace":
		load = h.loadMarketplaceScenario
	case "orphaned-order":
		load = h.loadOrphanedOrderScenario
	default:
		return fmt.Errorf("%w: unknown scenario %q", settlement.ErrInvalidInput, id)
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	// Reset first
	if err := h.Fixtures.reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDefaultScenario(ctx context.Context) error {
	return h.Fixtures.addRecipes(ctx, catalog.DefaultRecipes(h.Fixtures.now())...)
}

func (h *Handler) loadMarketplaceScenario(ctx context.Context) error {
	now := h.Fixtures.now()
	if err := h.Fixtures.addRecipes(ctx,
		settlement.Recipe{ID: "r1", AuthorID: "u1", Title: "Pasta", PriceCents: 599, CreatedAt: now},
		settlement.Recipe{ID: "r2", AuthorID: "u1", Title: "Mushroom Risotto", PriceCents: 1250, CreatedAt: now},
		settlement.Recipe{ID: "r3", AuthorID: "u2", Title: "Tonkotsu Ramen", PriceCents: 875, CreatedAt: now},
		settlement.Recipe{ID: "r4", AuthorID: "u3", Title: "Tarte Tatin", PriceCents: 405, CreatedAt: now},
	); err != nil {
		return err
	}

	succeeded := settlement.EventPaymentSucceeded
	failed := settlement.EventPaymentFailed
	orders := []struct {
		buyer  settlement.BuyerID
		recipe settlement.RecipeID
		event  *settlement.EventType
	}{
		{"b1", "r1", &succeeded},
		{"b2", "r1", &succeeded},
		{"b3", "r2", &succeeded},
		{"b1", "r3", &succeeded},
		{"b4", "r3", &failed},
		{"b2", "r4", nil},
	}
	for _, o := range orders {
		if _, err := h.scenarioOrder(ctx, o.buyer, o.recipe, o.event); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadOrphanedOrderScenario(ctx context.Context) error {
	now := h.Fixtures.now()
	soup := settlement.Recipe{ID: "r9", AuthorID: "u9", Title: "Seasonal Soup", PriceCents: 450, CreatedAt: now}
	if err := h.Fixtures.addRecipes(ctx, append(catalog.DefaultRecipes(now), soup)...); err != nil {
		return err
	}

	succeeded := settlement.EventPaymentSucceeded
	if _, err := h.scenarioOrder(ctx, "b1", "r1", &succeeded); err != nil {
		return err
	}

	order, _, err := h.Service.CreateOrder(ctx, "b2", soup.ID)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if err := h.Fixtures.Recipes.DeleteRecipe(ctx, soup.ID); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	outcome, err := h.deliver(ctx, order.PaymentIntentID, succeeded)
	if err != nil {
		return err
	}
	if outcome.Kind != settlement.OutcomeRejected {
		return fmt.Errorf("expected rejected outcome for orphaned order, got %s", outcome)
	}
	return h.Fixtures.addRecipes(ctx, soup)
}

// scenarioOrder creates an order and, when event is set, settles it.
func (h *Handler) scenarioOrder(ctx context.Context, buyer settlement.BuyerID, recipe settlement.RecipeID, event *settlement.EventType) (settlement.Order, error) {
	order, _, err := h.Service.CreateOrder(ctx, buyer, recipe)
	if err != nil {
		return settlement.Order{}, fmt.Errorf("create order for %s: %w", recipe, err)
	}
	if event == nil {
		return order, nil
	}
	if _, err := h.deliver(ctx, order.PaymentIntentID, *event); err != nil {
		return settlement.Order{}, err
	}
	return order, nil
}

func (h *Handler) deliver(ctx context.Context, intentID settlement.PaymentIntentID, typ settlement.EventType) (settlement.Outcome, error) {
	event := settlement.NewPaymentEvent(settlement.EventID(settlement.NewID("evt")), typ, intentID)
	outcome, err := h.Service.ReceiveProviderEvent(ctx, event)
	if err != nil {
		return settlement.Outcome{}, fmt.Errorf("deliver %s for %s: %w", typ, intentID, err)
	}
	return outcome, nil
}
