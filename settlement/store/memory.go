// Package store provides settlement.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payment-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (default backend, tests)
// =============================================================================

// Memory keeps orders, ledger entries and processed event ids in process
// memory. State is lost on restart.
type Memory struct {
	mu sync.RWMutex

	orders   map[settlement.OrderID]settlement.Order
	byIntent map[settlement.PaymentIntentID]settlement.OrderID
	seq      []settlement.OrderID // creation order

	ledger  []settlement.LedgerEntry
	byOrder map[settlement.OrderID]int // index into ledger

	processed map[settlement.EventID]processedEvent
}

type processedEvent struct {
	Type settlement.EventType
	At   time.Time
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

// Reset drops all state. Used by demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) resetLocked() {
	m.orders = make(map[settlement.OrderID]settlement.Order)
	m.byIntent = make(map[settlement.PaymentIntentID]settlement.OrderID)
	m.seq = nil
	m.ledger = nil
	m.byOrder = make(map[settlement.OrderID]int)
	m.processed = make(map[settlement.EventID]processedEvent)
}

// =============================================================================
// ORDERS
// =============================================================================

func (m *Memory) CreateOrder(_ context.Context, o settlement.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createOrderLocked(o)
}

func (m *Memory) createOrderLocked(o settlement.Order) error {
	if _, ok := m.orders[o.ID]; ok {
		return settlement.ErrDuplicateOrder
	}
	if _, ok := m.byIntent[o.PaymentIntentID]; ok && o.PaymentIntentID != "" {
		return settlement.ErrDuplicateOrder
	}
	m.orders[o.ID] = o
	if o.PaymentIntentID != "" {
		m.byIntent[o.PaymentIntentID] = o.ID
	}
	m.seq = append(m.seq, o.ID)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id settlement.OrderID) (settlement.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrderLocked(id)
}

func (m *Memory) getOrderLocked(id settlement.OrderID) (settlement.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return settlement.Order{}, settlement.ErrOrderNotFound
	}
	return o, nil
}

func (m *Memory) FindByPaymentIntent(_ context.Context, intentID settlement.PaymentIntentID) (settlement.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByIntentLocked(intentID)
}

func (m *Memory) findByIntentLocked(intentID settlement.PaymentIntentID) (settlement.Order, error) {
	id, ok := m.byIntent[intentID]
	if !ok {
		return settlement.Order{}, settlement.ErrOrderNotFound
	}
	return m.orders[id], nil
}

func (m *Memory) ListOrders(_ context.Context, filter settlement.OrderFilter) ([]settlement.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOrdersLocked(filter), nil
}

func (m *Memory) listOrdersLocked(filter settlement.OrderFilter) []settlement.Order {
	result := make([]settlement.Order, 0, len(m.seq))
	for _, id := range m.seq {
		if o := m.orders[id]; filter.Matches(o) {
			result = append(result, o)
		}
	}
	return result
}

func (m *Memory) UpdateStatus(_ context.Context, id settlement.OrderID, from, to settlement.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, from, to)
}

func (m *Memory) updateStatusLocked(id settlement.OrderID, from, to settlement.OrderStatus) error {
	o, ok := m.orders[id]
	if !ok {
		return settlement.ErrOrderNotFound
	}
	if o.Status != from {
		return &settlement.StatusConflictError{OrderID: id, Expected: from, Actual: o.Status}
	}
	o.Status = to
	m.orders[id] = o
	return nil
}

// =============================================================================
// LEDGER - Append-only
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e settlement.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e settlement.LedgerEntry) error {
	if _, ok := m.byOrder[e.OrderID]; ok {
		return settlement.ErrDuplicateLedgerEntry
	}
	m.byOrder[e.OrderID] = len(m.ledger)
	m.ledger = append(m.ledger, e)
	return nil
}

func (m *Memory) EntryForOrder(_ context.Context, orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryForOrderLocked(orderID)
}

func (m *Memory) entryForOrderLocked(orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	i, ok := m.byOrder[orderID]
	if !ok {
		return settlement.LedgerEntry{}, settlement.ErrLedgerEntryNotFound
	}
	return m.ledger[i], nil
}

func (m *Memory) ListEntries(_ context.Context, authorID settlement.AuthorID) ([]settlement.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntriesLocked(authorID), nil
}

func (m *Memory) listEntriesLocked(authorID settlement.AuthorID) []settlement.LedgerEntry {
	result := make([]settlement.LedgerEntry, 0, len(m.ledger))
	for _, e := range m.ledger {
		if authorID == "" || e.AuthorID == authorID {
			result = append(result, e)
		}
	}
	return result
}

// =============================================================================
// DEDUP LEDGER
// =============================================================================

func (m *Memory) MarkProcessed(_ context.Context, id settlement.EventID, typ settlement.EventType, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[id]; ok {
		return false, nil
	}
	m.processed[id] = processedEvent{Type: typ, At: at}
	return true, nil
}

func (m *Memory) IsProcessed(_ context.Context, id settlement.EventID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[id]
	return ok, nil
}

// ProcessedEventIDs returns recorded ids sorted, for inspection in tests.
func (m *Memory) ProcessedEventIDs() []settlement.EventID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]settlement.EventID, 0, len(m.processed))
	for id := range m.processed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. Writes are applied
// directly and undone from a snapshot if fn fails, so concurrent readers
// never observe a partial transaction.
func (m *Memory) WithTx(_ context.Context, fn func(settlement.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	orders   map[settlement.OrderID]settlement.Order
	byIntent map[settlement.PaymentIntentID]settlement.OrderID
	seq      []settlement.OrderID
	ledger   []settlement.LedgerEntry
	byOrder  map[settlement.OrderID]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		orders:   make(map[settlement.OrderID]settlement.Order, len(m.orders)),
		byIntent: make(map[settlement.PaymentIntentID]settlement.OrderID, len(m.byIntent)),
		seq:      append([]settlement.OrderID(nil), m.seq...),
		ledger:   append([]settlement.LedgerEntry(nil), m.ledger...),
		byOrder:  make(map[settlement.OrderID]int, len(m.byOrder)),
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	for k, v := range m.byIntent {
		s.byIntent[k] = v
	}
	for k, v := range m.byOrder {
		s.byOrder[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.orders = s.orders
	m.byIntent = s.byIntent
	m.seq = s.seq
	m.ledger = s.ledger
	m.byOrder = s.byOrder
}

// txView runs against the parent's maps with the lock already held.
type txView struct {
	m *Memory
}

func (tv *txView) CreateOrder(_ context.Context, o settlement.Order) error {
	return tv.m.createOrderLocked(o)
}

func (tv *txView) GetOrder(_ context.Context, id settlement.OrderID) (settlement.Order, error) {
	return tv.m.getOrderLocked(id)
}

func (tv *txView) FindByPaymentIntent(_ context.Context, intentID settlement.PaymentIntentID) (settlement.Order, error) {
	return tv.m.findByIntentLocked(intentID)
}

func (tv *txView) ListOrders(_ context.Context, filter settlement.OrderFilter) ([]settlement.Order, error) {
	return tv.m.listOrdersLocked(filter), nil
}

func (tv *txView) UpdateStatus(_ context.Context, id settlement.OrderID, from, to settlement.OrderStatus) error {
	return tv.m.updateStatusLocked(id, from, to)
}

func (tv *txView) AppendEntry(_ context.Context, e settlement.LedgerEntry) error {
	return tv.m.appendEntryLocked(e)
}

func (tv *txView) EntryForOrder(_ context.Context, orderID settlement.OrderID) (settlement.LedgerEntry, error) {
	return tv.m.entryForOrderLocked(orderID)
}

func (tv *txView) ListEntries(_ context.Context, authorID settlement.AuthorID) ([]settlement.LedgerEntry, error) {
	return tv.m.listEntriesLocked(authorID), nil
}
