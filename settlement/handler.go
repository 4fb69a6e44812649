/*
handler.go - Payment event state machine

PURPOSE:
  Applies one provider event to the order it references, exactly once per
  event id, and appends the ledger entry for successful payments.

ALGORITHM (no step is skipped on any branch that reaches it):
  1. Dedup:    record event.id; already recorded -> Skipped
  2. Resolve:  find the order by payment intent id; none -> Unknown
  3. Succeeded: pending -> paid, ledger entry appended in the same store
               transaction. Recipe gone -> order stays paid, no entry,
               Rejected with a PartialSettlementError.
  4. Failed:   pending -> failed, no entry
  5. Other types: no mutation, Applied

  Step 1 commits before anything else. A crash between steps 1 and 3
  loses the event's effect instead of applying it twice. An error returned
  after step 1 hands the event to the dead-letter sink with reason
  "processing failed: <err>", since redelivery of the same id is skipped.

STATE MACHINE:
  pending -> paid    (terminal here)
  pending -> failed  (terminal here)
  Events for an order that already left pending mutate nothing.

CONCURRENCY:
  All steps for one payment intent run under a per-intent lock. Events for
  different intents run concurrently.

SEE ALSO:
  - money.go: Fee split
  - reconcile.go: Detecting and repairing partial settlements
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReasonRecipeNotFound is the rejection reason for a partial settlement.
const ReasonRecipeNotFound = "recipe not found for order"

// ReasonProcessingFailed prefixes the dead-letter reason of an event whose
// handling failed after its id was recorded.
const ReasonProcessingFailed = "processing failed"

// EventHandler owns no state of its own beyond the per-intent locks; the
// stores it is given are the source of truth.
type EventHandler struct {
	store       TxStore
	dedup       DedupLedger
	catalog     Catalog
	fees        FeeCalculator
	deadLetters DeadLetterSink
	logger      *zap.Logger
	now         func() time.Time
	newID       func(prefix string) string
	locks       *keyedMutex
}

type HandlerOption func(*EventHandler)

func WithFeeCalculator(fees FeeCalculator) HandlerOption {
	return func(h *EventHandler) { h.fees = fees }
}

func WithDeadLetters(sink DeadLetterSink) HandlerOption {
	return func(h *EventHandler) { h.deadLetters = sink }
}

func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *EventHandler) { h.logger = logger }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *EventHandler) { h.now = now }
}

func WithIDGenerator(newID func(prefix string) string) HandlerOption {
	return func(h *EventHandler) { h.newID = newID }
}

// NewEventHandler wires the handler. dedup may be the same value as store
// when the store also implements DedupLedger.
func NewEventHandler(store TxStore, dedup DedupLedger, catalog Catalog, opts ...HandlerOption) *EventHandler {
	h := &EventHandler{
		store:   store,
		dedup:   dedup,
		catalog: catalog,
		fees:    MustFeeCalculator(DefaultFeeRate),
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   NewID,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.deadLetters == nil {
		h.deadLetters = NewLoggingDeadLetters(h.logger)
	}
	return h
}

// Fees exposes the calculator so projections use the same rate.
func (h *EventHandler) Fees() FeeCalculator { return h.fees }

// Handle processes one event. The error return is reserved for invalid
// input and storage failures; every business result is an Outcome.
func (h *EventHandler) Handle(ctx context.Context, event Event) (Outcome, error) {
	if err := event.Validate(); err != nil {
		return Outcome{}, err
	}
	intentID := event.PaymentIntentID()
	log := h.logger.With(
		zap.String("event_id", string(event.ID)),
		zap.String("event_type", string(event.Type)),
		zap.String("payment_intent_id", string(intentID)),
	)

	unlock := h.locks.Lock(string(intentID))
	defer unlock()

	// 1. Dedup
	first, err := h.dedup.MarkProcessed(ctx, event.ID, event.Type, h.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("record event %s: %w", event.ID, err)
	}
	if !first {
		log.Info("duplicate event skipped")
		return Outcome{Kind: OutcomeSkipped, Reason: "duplicate event"}, nil
	}

	// Failures past this point are dead-lettered; a redelivery is skipped.
	outcome, err := h.apply(ctx, event, log)
	if err != nil {
		log.Error("event processing failed after dedup", zap.Error(err))
		h.deadLetter(ctx, event, ReasonProcessingFailed+": "+err.Error(), log)
		return Outcome{}, fmt.Errorf("%w: %w", ErrDeadLettered, err)
	}
	return outcome, nil
}

func (h *EventHandler) apply(ctx context.Context, event Event, log *zap.Logger) (Outcome, error) {
	intentID := event.PaymentIntentID()

	// 2. Resolve
	order, err := h.store.FindByPaymentIntent(ctx, intentID)
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn("event references unknown payment intent")
		h.deadLetter(ctx, event, "no order for payment intent", log)
		return Outcome{Kind: OutcomeUnknown, Reason: "order not found"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve order for %s: %w", intentID, err)
	}
	log = log.With(zap.String("order_id", string(order.ID)))

	switch event.Type {
	case EventPaymentSucceeded:
		return h.settle(ctx, order, log)
	case EventPaymentFailed:
		return h.fail(ctx, order, log)
	default:
		log.Debug("event type ignored")
		return Outcome{Kind: OutcomeApplied, OrderID: order.ID, Reason: "event type ignored"}, nil
	}
}

func (h *EventHandler) settle(ctx context.Context, order Order, log *zap.Logger) (Outcome, error) {
	if order.Status != StatusPending {
		log.Info("order already left pending", zap.String("status", string(order.Status)))
		return alreadyTerminal(order), nil
	}

	recipe, err := h.catalog.GetRecipe(ctx, order.RecipeID)
	if errors.Is(err, ErrRecipeNotFound) {
		if err := h.store.UpdateStatus(ctx, order.ID, StatusPending, StatusPaid); err != nil {
			return Outcome{}, fmt.Errorf("mark order %s paid: %w", order.ID, err)
		}
		perr := &PartialSettlementError{OrderID: order.ID, RecipeID: order.RecipeID}
		log.Error("order paid without ledger entry", zap.Error(perr))
		return Outcome{Kind: OutcomeRejected, Reason: ReasonRecipeNotFound, OrderID: order.ID, Err: perr}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve recipe %s: %w", order.RecipeID, err)
	}

	entry, err := h.newEntry(order, recipe.AuthorID)
	if err != nil {
		return Outcome{}, err
	}
	err = h.store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateStatus(ctx, order.ID, StatusPending, StatusPaid); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("settle order %s: %w", order.ID, err)
	}

	log.Info("order settled",
		zap.String("author_id", string(entry.AuthorID)),
		zap.Int64("gross_cents", entry.GrossCents),
		zap.Int64("platform_fee_cents", entry.PlatformFeeCents),
		zap.Int64("net_cents", entry.NetCents))
	return Outcome{Kind: OutcomeApplied, OrderID: order.ID}, nil
}

func (h *EventHandler) fail(ctx context.Context, order Order, log *zap.Logger) (Outcome, error) {
	if order.Status != StatusPending {
		log.Info("order already left pending", zap.String("status", string(order.Status)))
		return alreadyTerminal(order), nil
	}
	if err := h.store.UpdateStatus(ctx, order.ID, StatusPending, StatusFailed); err != nil {
		return Outcome{}, fmt.Errorf("mark order %s failed: %w", order.ID, err)
	}
	log.Info("payment failed")
	return Outcome{Kind: OutcomeApplied, OrderID: order.ID}, nil
}

func (h *EventHandler) newEntry(order Order, author AuthorID) (LedgerEntry, error) {
	split, err := h.fees.Split(order.AmountCents)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("split order %s: %w", order.ID, err)
	}
	return LedgerEntry{
		ID:               LedgerEntryID(h.newID("led")),
		OrderID:          order.ID,
		AuthorID:         author,
		GrossCents:       split.GrossCents,
		PlatformFeeCents: split.FeeCents,
		NetCents:         split.NetCents,
		CreatedAt:        h.now().UTC(),
	}, nil
}

func (h *EventHandler) deadLetter(ctx context.Context, event Event, reason string, log *zap.Logger) {
	letter := DeadLetter{Event: event, Reason: reason, ReceivedAt: h.now().UTC()}
	if err := h.deadLetters.Publish(ctx, letter); err != nil {
		log.Warn("dead letter publish failed", zap.Error(err))
	}
}

func alreadyTerminal(order Order) Outcome {
	return Outcome{
		Kind:    OutcomeApplied,
		OrderID: order.ID,
		Reason:  "order already " + string(order.Status),
	}
}

// =============================================================================
// LOGGING DEAD LETTERS - Default sink
// =============================================================================

type loggingDeadLetters struct {
	logger *zap.Logger
}

// NewLoggingDeadLetters returns a sink that writes each letter as one log line.
func NewLoggingDeadLetters(logger *zap.Logger) DeadLetterSink {
	return &loggingDeadLetters{logger: logger}
}

func (s *loggingDeadLetters) Publish(_ context.Context, letter DeadLetter) error {
	s.logger.Warn("dead letter",
		zap.String("event_id", string(letter.Event.ID)),
		zap.String("event_type", string(letter.Event.Type)),
		zap.String("payment_intent_id", string(letter.Event.PaymentIntentID())),
		zap.String("reason", letter.Reason),
		zap.Time("received_at", letter.ReceivedAt))
	return nil
}
