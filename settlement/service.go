/*
service.go - Boundary operations

PURPOSE:
  Transport-independent entry points used by the HTTP API and the Kafka
  worker. Holds no state; everything is injected through ServiceDeps.

OPERATIONS:
  CreateOrder          recipe -> price -> gateway intent -> pending order
  ConfirmPayment       gateway confirm -> synthesized event -> Handle
  ReceiveProviderEvent webhook / broker ingress -> Handle
  AuthorReport         read-only projection
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ServiceDeps struct {
	Store   TxStore
	Dedup   DedupLedger
	Catalog Catalog
	Gateway Gateway

	// Optional
	Fees        *FeeCalculator
	DeadLetters DeadLetterSink
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func(prefix string) string
}

type Service struct {
	store      TxStore
	catalog    Catalog
	gateway    Gateway
	handler    *EventHandler
	reporter   *Reporter
	reconciler *Reconciler
	logger     *zap.Logger
	now        func() time.Time
	newID      func(prefix string) string
}

func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = NewID
	}
	dedup := deps.Dedup
	if dedup == nil {
		dedup, _ = deps.Store.(DedupLedger)
	}

	opts := []HandlerOption{WithLogger(logger), WithClock(now), WithIDGenerator(newID)}
	if deps.Fees != nil {
		opts = append(opts, WithFeeCalculator(*deps.Fees))
	}
	if deps.DeadLetters != nil {
		opts = append(opts, WithDeadLetters(deps.DeadLetters))
	}
	handler := NewEventHandler(deps.Store, dedup, deps.Catalog, opts...)

	return &Service{
		store:      deps.Store,
		catalog:    deps.Catalog,
		gateway:    deps.Gateway,
		handler:    handler,
		reporter:   NewReporter(deps.Store, deps.Catalog, handler.Fees()),
		reconciler: NewReconciler(handler),
		logger:     logger,
		now:        now,
		newID:      newID,
	}
}

func (s *Service) Handler() *EventHandler { return s.handler }
func (s *Service) Reconciler() *Reconciler { return s.reconciler }
func (s *Service) Fees() FeeCalculator { return s.handler.Fees() }
func (s *Service) Catalog() Catalog { return s.catalog }

// CreateOrder prices the recipe, allocates a payment intent and stores a
// pending order.
func (s *Service) CreateOrder(ctx context.Context, buyerID BuyerID, recipeID RecipeID) (Order, Intent, error) {
	if isBlank(string(buyerID)) {
		return Order{}, Intent{}, invalidf("missing buyerId")
	}
	if isBlank(string(recipeID)) {
		return Order{}, Intent{}, invalidf("missing recipeId")
	}

	recipe, err := s.catalog.GetRecipe(ctx, recipeID)
	if err != nil {
		return Order{}, Intent{}, err
	}
	if recipe.PriceCents < 0 {
		return Order{}, Intent{}, invalidf("recipe %s has negative price", recipeID)
	}

	intent, err := s.gateway.CreateIntent(ctx, recipe.PriceCents)
	if err != nil {
		return Order{}, Intent{}, fmt.Errorf("create payment intent: %w", err)
	}

	order := Order{
		ID:              OrderID(s.newID("order")),
		BuyerID:         buyerID,
		RecipeID:        recipeID,
		AmountCents:     recipe.PriceCents,
		Status:          StatusPending,
		PaymentIntentID: intent.ID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return Order{}, Intent{}, fmt.Errorf("store order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", string(order.ID)),
		zap.String("recipe_id", string(recipeID)),
		zap.String("payment_intent_id", string(intent.ID)),
		zap.Int64("amount_cents", order.AmountCents))
	return order, intent, nil
}

// ConfirmPayment confirms the intent with the gateway and feeds the
// resulting event to the handler. The returned order is the post-state.
func (s *Service) ConfirmPayment(ctx context.Context, intentID PaymentIntentID) (Order, Outcome, error) {
	order, err := s.store.FindByPaymentIntent(ctx, intentID)
	if err != nil {
		return Order{}, Outcome{}, err
	}

	intent, err := s.gateway.ConfirmIntent(ctx, intentID)
	if err != nil {
		return Order{}, Outcome{}, fmt.Errorf("confirm payment intent %s: %w", intentID, err)
	}

	typ, final := EventTypeForIntent(intent.Status)
	if !final {
		s.logger.Info("payment intent not final yet",
			zap.String("payment_intent_id", string(intentID)),
			zap.String("intent_status", string(intent.Status)))
		return order, Outcome{Kind: OutcomeApplied, OrderID: order.ID, Reason: "settlement pending"}, nil
	}

	event := NewPaymentEvent(EventID(s.newID("evt")), typ, intentID)
	outcome, err := s.handler.Handle(ctx, event)
	if err != nil {
		return Order{}, Outcome{}, err
	}

	order, err = s.store.GetOrder(ctx, order.ID)
	if err != nil {
		return Order{}, Outcome{}, err
	}
	return order, outcome, nil
}

// ReceiveProviderEvent is the webhook ingress. Business results are always
// Outcomes; an error means invalid input or a storage failure.
func (s *Service) ReceiveProviderEvent(ctx context.Context, event Event) (Outcome, error) {
	return s.handler.Handle(ctx, event)
}

// AuthorReport returns the author's paid-order totals.
func (s *Service) AuthorReport(ctx context.Context, authorID AuthorID) (AuthorReport, error) {
	if isBlank(string(authorID)) {
		return AuthorReport{}, invalidf("missing author id")
	}
	return s.reporter.Report(ctx, authorID)
}

func (s *Service) GetOrder(ctx context.Context, id OrderID) (Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidf("unknown status %q", filter.Status)
	}
	return s.store.ListOrders(ctx, filter)
}

func (s *Service) LedgerEntries(ctx context.Context, authorID AuthorID) ([]LedgerEntry, error) {
	return s.store.ListEntries(ctx, authorID)
}

func (s *Service) ListRecipes(ctx context.Context) ([]Recipe, error) {
	return s.catalog.ListRecipes(ctx)
}

// PartialSettlements lists paid orders missing their ledger entry.
func (s *Service) PartialSettlements(ctx context.Context) ([]Order, error) {
	return s.reconciler.Scan(ctx)
}

// RepairPartialSettlement appends the missing ledger entry for one order.
func (s *Service) RepairPartialSettlement(ctx context.Context, id OrderID) (LedgerEntry, error) {
	entry, err := s.reconciler.Repair(ctx, id)
	if err != nil && !errors.Is(err, ErrPartialSettlement) && !IsNotFound(err) && !IsConflict(err) {
		s.logger.Error("repair failed", zap.String("order_id", string(id)), zap.Error(err))
	}
	return entry, err
}
