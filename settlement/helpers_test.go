package settlement_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/catalog"
	"github.com/warp/payment-engine/settlement"
	"github.com/warp/payment-engine/settlement/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// sequentialIDs returns an id generator producing "<prefix>_1", "<prefix>_2", ...
func sequentialIDs() func(prefix string) string {
	var n atomic.Int64
	return func(prefix string) string {
		return fmt.Sprintf("%s_%d", prefix, n.Add(1))
	}
}

type recordingSink struct {
	mu      sync.Mutex
	letters []settlement.DeadLetter
}

func (s *recordingSink) Publish(_ context.Context, letter settlement.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

func (s *recordingSink) all() []settlement.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settlement.DeadLetter(nil), s.letters...)
}

type fixture struct {
	store   *store.Memory
	catalog *catalog.Memory
	sink    *recordingSink
	handler *settlement.EventHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	cat := catalog.NewMemory(catalog.DefaultRecipes(testNow)...)
	sink := &recordingSink{}
	h := settlement.NewEventHandler(mem, mem, cat,
		settlement.WithDeadLetters(sink),
		settlement.WithClock(fixedClock),
		settlement.WithIDGenerator(sequentialIDs()))
	return &fixture{store: mem, catalog: cat, sink: sink, handler: h}
}

// pendingOrder stores a pending order for recipe r1 (599 cents).
func (f *fixture) pendingOrder(t *testing.T, id settlement.OrderID, intent settlement.PaymentIntentID) settlement.Order {
	t.Helper()
	o := settlement.Order{
		ID:              id,
		BuyerID:         "b1",
		RecipeID:        "r1",
		AmountCents:     599,
		Status:          settlement.StatusPending,
		PaymentIntentID: intent,
		CreatedAt:       testNow,
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), o))
	return o
}

func (f *fixture) order(t *testing.T, id settlement.OrderID) settlement.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) entries(t *testing.T) []settlement.LedgerEntry {
	t.Helper()
	entries, err := f.store.ListEntries(context.Background(), "")
	require.NoError(t, err)
	return entries
}

func succeeded(id settlement.EventID, intent settlement.PaymentIntentID) settlement.Event {
	return settlement.NewPaymentEvent(id, settlement.EventPaymentSucceeded, intent)
}

func failed(id settlement.EventID, intent settlement.PaymentIntentID) settlement.Event {
	return settlement.NewPaymentEvent(id, settlement.EventPaymentFailed, intent)
}
