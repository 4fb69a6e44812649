/*
Package settlement provides the payment-event reconciliation engine.

PURPOSE:
  Receives asynchronous payment-provider events, advances each order's
  lifecycle exactly once per distinct event, and derives an append-only
  financial ledger (gross / platform fee / net) from successful payments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Order: a buyer's purchase of a recipe, tied to one payment intent
  - Event: a provider notification about a payment intent (Stripe shape)
  - LedgerEntry: immutable settlement record for one paid order
  - Outcome: what the event handler did with an event

DESIGN PRINCIPLES:
  1. Integer cents: amounts are int64 cents, never floating point
  2. Immutability: ledger entries are never modified or deleted
  3. Idempotency: processing is a function of the event id
  4. Type Safety: distinct ID types prevent mixing orders and intents

SEE ALSO:
  - money.go: Fee split calculation
  - handler.go: The event state machine
  - store.go: Persistence interfaces
*/
package settlement

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type PaymentIntentID string
type EventID string
type LedgerEntryID string
type RecipeID string
type AuthorID string
type BuyerID string

// =============================================================================
// ORDER - A purchase and its payment lifecycle
// =============================================================================

type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusPaid    OrderStatus = "paid"
	StatusFailed  OrderStatus = "failed"

	// Refunded and Disputed have no producing transition in this engine.
	// A component that introduces them owns the transition and the
	// ledger-reversal policy.
	StatusRefunded OrderStatus = "refunded"
	StatusDisputed OrderStatus = "disputed"
)

// Valid reports whether s is one of the declared statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

// Order is created pending by Service.CreateOrder and afterwards mutated
// only by the EventHandler. AmountCents and PaymentIntentID never change.
type Order struct {
	ID              OrderID
	BuyerID         BuyerID
	RecipeID        RecipeID
	AmountCents     int64
	Status          OrderStatus
	PaymentIntentID PaymentIntentID
	CreatedAt       time.Time
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Status    OrderStatus
	RecipeIDs []RecipeID
}

// Matches reports whether o passes the filter.
func (f OrderFilter) Matches(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if len(f.RecipeIDs) == 0 {
		return true
	}
	for _, id := range f.RecipeIDs {
		if o.RecipeID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// RECIPE - The catalog's view of what is being sold
// =============================================================================

type Recipe struct {
	ID         RecipeID
	AuthorID   AuthorID
	Title      string
	PriceCents int64
	CreatedAt  time.Time
}

// =============================================================================
// EVENT - Provider notification (Stripe event shape)
// =============================================================================

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// Event mirrors the subset of a Stripe event the engine reads:
//
//	{"id": "evt_...", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_..."}}}
type Event struct {
	ID   EventID   `json:"id"`
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object EventObject `json:"object"`
}

type EventObject struct {
	ID PaymentIntentID `json:"id"`
}

// NewPaymentEvent builds an event for a payment intent.
func NewPaymentEvent(id EventID, typ EventType, intentID PaymentIntentID) Event {
	return Event{ID: id, Type: typ, Data: EventData{Object: EventObject{ID: intentID}}}
}

// PaymentIntentID returns the payment intent the event refers to.
func (e Event) PaymentIntentID() PaymentIntentID {
	return e.Data.Object.ID
}

// =============================================================================
// LEDGER ENTRY - Immutable settlement record
// =============================================================================

// LedgerEntry records the gross/fee/net split for one paid order.
// PlatformFeeCents + NetCents == GrossCents always holds.
type LedgerEntry struct {
	ID               LedgerEntryID
	OrderID          OrderID
	AuthorID         AuthorID
	GrossCents       int64
	PlatformFeeCents int64
	NetCents         int64
	CreatedAt        time.Time
}

// =============================================================================
// OUTCOME - Result of handling one event
// =============================================================================

type OutcomeKind string

const (
	OutcomeApplied  OutcomeKind = "applied"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeUnknown  OutcomeKind = "unknown"
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is returned for every structurally valid event. Err carries the
// structured cause of a rejection (a *PartialSettlementError today).
type Outcome struct {
	Kind    OutcomeKind
	Reason  string
	OrderID OrderID
	Err     error
}

// OK is false only for rejected outcomes.
func (o Outcome) OK() bool { return o.Kind != OutcomeRejected }

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
