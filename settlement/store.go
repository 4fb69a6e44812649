/*
store.go - Persistence interfaces for orders, ledger entries and processed events

PURPOSE:
  Defines the boundary between the settlement logic and storage.
  Implementations keep orders mutable only through a conditional status
  write, and keep ledger entries append-only.

KEY INTERFACES:
  OrderStore:  Order creation, lookup, conditional status write
  LedgerStore: Append-only ledger entries (one per order)
  Store:       OrderStore + LedgerStore
  TxStore:     Store with atomic multi-write support
  DedupLedger: Processed event ids (at-most-once effect)

APPEND-ONLY CONTRACT:
  LedgerStore has AppendEntry and read methods. No Update. No Delete.
  A second entry for the same order fails with ErrDuplicateLedgerEntry.

ATOMICITY:
  The handler writes "status = paid" and the ledger entry inside one
  WithTx call. Readers observe both or neither.

IMPLEMENTATIONS:
  - settlement/store/memory.go: In-memory (default, tests)
  - store/sqlite/sqlite.go: SQLite
  - store/redis/dedup.go: Redis DedupLedger only
*/
package settlement

import (
	"context"
	"time"
)

// =============================================================================
// ORDER STORE
// =============================================================================

type OrderStore interface {
	// CreateOrder persists a new order. Fails with ErrDuplicateOrder if the
	// order id or payment intent id is already taken.
	CreateOrder(ctx context.Context, order Order) error

	// GetOrder returns ErrOrderNotFound when absent.
	GetOrder(ctx context.Context, id OrderID) (Order, error)

	// FindByPaymentIntent returns ErrOrderNotFound when no order carries the intent.
	FindByPaymentIntent(ctx context.Context, intentID PaymentIntentID) (Order, error)

	// ListOrders returns matching orders ordered by creation time.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// UpdateStatus moves an order from one status to another.
	// Returns *StatusConflictError if the current status is not from.
	UpdateStatus(ctx context.Context, id OrderID, from, to OrderStatus) error
}

// =============================================================================
// LEDGER STORE - Append-only
// =============================================================================

type LedgerStore interface {
	// AppendEntry is the ONLY write. Fails with ErrDuplicateLedgerEntry if
	// the order already has an entry.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// EntryForOrder returns ErrLedgerEntryNotFound when absent.
	EntryForOrder(ctx context.Context, orderID OrderID) (LedgerEntry, error)

	// ListEntries returns entries in append order. An empty author matches all.
	ListEntries(ctx context.Context, authorID AuthorID) ([]LedgerEntry, error)
}

type Store interface {
	OrderStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// DEDUP LEDGER - Processed provider event ids
// =============================================================================

type DedupLedger interface {
	// MarkProcessed records id and reports whether this call was the first
	// to do so. The check and the write are atomic.
	MarkProcessed(ctx context.Context, id EventID, typ EventType, at time.Time) (first bool, err error)

	// IsProcessed reports whether id has been recorded.
	IsProcessed(ctx context.Context, id EventID) (bool, error)
}

// =============================================================================
// CATALOG - External recipe collaborator
// =============================================================================

type Catalog interface {
	// GetRecipe returns ErrRecipeNotFound when absent.
	GetRecipe(ctx context.Context, id RecipeID) (Recipe, error)

	// RecipesByAuthor returns the author's recipes; empty for unknown authors.
	RecipesByAuthor(ctx context.Context, authorID AuthorID) ([]Recipe, error)

	// ListRecipes returns the whole catalog.
	ListRecipes(ctx context.Context) ([]Recipe, error)
}

// =============================================================================
// DEAD LETTERS - Events that reference no known order
// =============================================================================

type DeadLetter struct {
	Event      Event
	Reason     string
	ReceivedAt time.Time
}

type DeadLetterSink interface {
	Publish(ctx context.Context, letter DeadLetter) error
}
