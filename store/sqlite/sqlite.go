/*
Package sqlite provides a SQLite-backed implementation of the settlement storage interfaces.

PURPOSE:
  Implements settlement.TxStore, settlement.DedupLedger and settlement.Catalog
  on one database. The same schema ports to PostgreSQL with minor dialect
  changes.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - UNIQUE(order_id) on ledger_entries: one entry per order, enforced by the database
  - orders.status is only changed by a conditional UPDATE ... WHERE status = ?

KEY TABLES:
  orders:           Orders and their lifecycle status
  ledger_entries:   Immutable settlement records
  processed_events: Provider event ids already handled (dedup ledger)
  recipes:          Catalog

CONCURRENCY:
  Uses sync.RWMutex around database access. WithTx holds the write lock and
  its Store view talks to the sql.Tx only.

USAGE:
  store, err := sqlite.New("./data/payments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/payment-engine/settlement"
)

// Fixed-width so lexical order in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		recipe_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents >= 0),
		status TEXT NOT NULL,
		payment_intent_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status_recipe
		ON orders(status, recipe_id);

	-- Ledger (append-only). One entry per order.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
		author_id TEXT NOT NULL,
		gross_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		net_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (platform_fee_cents + net_cents = gross_cents),
		CHECK (platform_fee_cents >= 0 AND platform_fee_cents <= gross_cents)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_author
		ON ledger_entries(author_id);

	CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recipes (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recipes_author
		ON recipes(author_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ORDER STORE (settlement.OrderStore)
// =============================================================================

func (s *Store) CreateOrder(ctx context.Context, o settlement.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createOrder(ctx, s.db, o)
}

func createOrder(ctx context.Context, q queryer, o settlement.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, recipe_id, amount_cents, status, payment_intent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BuyerID, o.RecipeID, o.AmountCents, o.Status, o.PaymentIntentID,
		o.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return settlement.ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, buyer_id, recipe_id, amount_cents, status, payment_intent_id, created_at`

func (s *Store) GetOrder(ctx context.Context, id settlement.OrderID) (settlement.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, "id", string(id))
}

func (s *Store) FindByPaymentIntent(ctx context.Context, intentID settlement.PaymentIntentID) (settlement.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, "payment_intent_id", string(intentID))
}

func getOrder(ctx context.Context, q queryer, column, value string) (settlement.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = ?`, value)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Order{}, settlement.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) ListOrders(ctx context.Context, filter settlement.OrderFilter) ([]settlement.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrders(ctx, s.db, filter)
}

func listOrders(ctx context.Context, q queryer, filter settlement.OrderFilter) ([]settlement.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(filter.RecipeIDs) > 0 {
		marks := make([]string, len(filter.RecipeIDs))
		for i, id := range filter.RecipeIDs {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "recipe_id IN ("+strings.Join(marks, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []settlement.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id settlement.OrderID, from, to settlement.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateStatus(ctx, s.db, id, from, to)
}

func updateStatus(ctx context.Context, q queryer, id settlement.OrderID, from, to settlement.OrderStatus) error {
	res, err := q.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, err := getOrder(ctx, q, "id", string(id))
	if err != nil {
		return err
	}
	return &settlement.StatusConflictError{OrderID: id, Expected: from, Actual: current.Status}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (settlement.Order, error) {
	var (
		o         settlement.Order
		createdAt string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.RecipeID, &o.AmountCents, &o.Status, &o.PaymentIntentID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("failed to scan order: %w", err)
	}
	o.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return o, nil
}

// =============================================================================
// LEDGER STORE (settlement.LedgerStore)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e settlement.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q queryer, e settlement.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, order_id, author_id, gross_cents, platform_fee_cents, net_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrderID, e.AuthorID, e.GrossCents, e.PlatformFeeCents, e.NetCents,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return settlement.ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, order_id, author_id, gross_cents, platform_fee_cents, net_cents, created_at`

func (s *Store) EntryForOrder(ctx context.Context, orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryForOrder(ctx, s.db, orderID)
}

func entryForOrder(ctx context.Context, q queryer, orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE order_id = ?`, orderID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.LedgerEntry{}, settlement.ErrLedgerEntryNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, authorID settlement.AuthorID) ([]settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, authorID)
}

func listEntries(ctx context.Context, q queryer, authorID settlement.AuthorID) ([]settlement.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	var args []any
	if authorID != "" {
		query += ` WHERE author_id = ?`
		args = append(args, authorID)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []settlement.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row scanner) (settlement.LedgerEntry, error) {
	var (
		e         settlement.LedgerEntry
		createdAt string
	)
	err := row.Scan(&e.ID, &e.OrderID, &e.AuthorID, &e.GrossCents, &e.PlatformFeeCents, &e.NetCents, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (settlement.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store settlement.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateOrder(ctx context.Context, o settlement.Order) error {
	return createOrder(ctx, ts.tx, o)
}

func (ts *txStore) GetOrder(ctx context.Context, id settlement.OrderID) (settlement.Order, error) {
	return getOrder(ctx, ts.tx, "id", string(id))
}

func (ts *txStore) FindByPaymentIntent(ctx context.Context, intentID settlement.PaymentIntentID) (settlement.Order, error) {
	return getOrder(ctx, ts.tx, "payment_intent_id", string(intentID))
}

func (ts *txStore) ListOrders(ctx context.Context, filter settlement.OrderFilter) ([]settlement.Order, error) {
	return listOrders(ctx, ts.tx, filter)
}

func (ts *txStore) UpdateStatus(ctx context.Context, id settlement.OrderID, from, to settlement.OrderStatus) error {
	return updateStatus(ctx, ts.tx, id, from, to)
}

func (ts *txStore) AppendEntry(ctx context.Context, e settlement.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) EntryForOrder(ctx context.Context, orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	return entryForOrder(ctx, ts.tx, orderID)
}

func (ts *txStore) ListEntries(ctx context.Context, authorID settlement.AuthorID) ([]settlement.LedgerEntry, error) {
	return listEntries(ctx, ts.tx, authorID)
}

// =============================================================================
// DEDUP LEDGER (settlement.DedupLedger)
// =============================================================================

// MarkProcessed inserts the event id; a conflicting insert means the event
// was already handled.
func (s *Store) MarkProcessed(ctx context.Context, id settlement.EventID, typ settlement.EventType, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)`,
		id, typ, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) IsProcessed(ctx context.Context, id settlement.EventID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_events WHERE event_id = ?", id,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// CATALOG (settlement.Catalog)
// =============================================================================

const recipeColumns = `id, author_id, title, price_cents, created_at`

func (s *Store) AddRecipe(ctx context.Context, r settlement.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (`+recipeColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author_id = excluded.author_id,
			title = excluded.title,
			price_cents = excluded.price_cents`,
		r.ID, r.AuthorID, r.Title, r.PriceCents, r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// DeleteRecipe removes a catalog row. Orders keep their recipe_id.
func (s *Store) DeleteRecipe(ctx context.Context, id settlement.RecipeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM recipes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrRecipeNotFound
	}
	return nil
}

func (s *Store) GetRecipe(ctx context.Context, id settlement.RecipeID) (settlement.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id)
	r, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Recipe{}, settlement.ErrRecipeNotFound
	}
	return r, err
}

func (s *Store) RecipesByAuthor(ctx context.Context, authorID settlement.AuthorID) ([]settlement.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecipes(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE author_id = ? ORDER BY id`, authorID)
}

func (s *Store) ListRecipes(ctx context.Context) ([]settlement.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecipes(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY id`)
}

func (s *Store) queryRecipes(ctx context.Context, query string, args ...any) ([]settlement.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	recipes := []settlement.Recipe{}
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

func scanRecipe(row scanner) (settlement.Recipe, error) {
	var (
		r         settlement.Recipe
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.AuthorID, &r.Title, &r.PriceCents, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan recipe: %w", err)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return r, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Only used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "orders", "processed_events", "recipes"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}

// Helper functions

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
