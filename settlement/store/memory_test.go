package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/settlement"
	"github.com/warp/payment-engine/settlement/store"
)

var createdAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func order(id settlement.OrderID, intent settlement.PaymentIntentID) settlement.Order {
	return settlement.Order{
		ID:              id,
		BuyerID:         "b1",
		RecipeID:        "r1",
		AmountCents:     599,
		Status:          settlement.StatusPending,
		PaymentIntentID: intent,
		CreatedAt:       createdAt,
	}
}

func entry(id settlement.LedgerEntryID, orderID settlement.OrderID, author settlement.AuthorID) settlement.LedgerEntry {
	return settlement.LedgerEntry{
		ID:               id,
		OrderID:          orderID,
		AuthorID:         author,
		GrossCents:       599,
		PlatformFeeCents: 60,
		NetCents:         539,
		CreatedAt:        createdAt,
	}
}

func TestMemory_Orders(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.CreateOrder(ctx, order("o1", "pi_1")))
	require.NoError(t, m.CreateOrder(ctx, order("o2", "pi_2")))

	assert.ErrorIs(t, m.CreateOrder(ctx, order("o1", "pi_9")), settlement.ErrDuplicateOrder)
	assert.ErrorIs(t, m.CreateOrder(ctx, order("o9", "pi_1")), settlement.ErrDuplicateOrder)

	got, err := m.FindByPaymentIntent(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, settlement.OrderID("o2"), got.ID)

	_, err = m.GetOrder(ctx, "o404")
	assert.ErrorIs(t, err, settlement.ErrOrderNotFound)
	_, err = m.FindByPaymentIntent(ctx, "pi_404")
	assert.ErrorIs(t, err, settlement.ErrOrderNotFound)

	list, err := m.ListOrders(ctx, settlement.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, settlement.OrderID("o1"), list[0].ID)
}

func TestMemory_UpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateOrder(ctx, order("o1", "pi_1")))

	require.NoError(t, m.UpdateStatus(ctx, "o1", settlement.StatusPending, settlement.StatusPaid))

	err := m.UpdateStatus(ctx, "o1", settlement.StatusPending, settlement.StatusFailed)
	var conflict *settlement.StatusConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, settlement.StatusPaid, conflict.Actual)

	assert.ErrorIs(t, m.UpdateStatus(ctx, "o404", settlement.StatusPending, settlement.StatusPaid), settlement.ErrOrderNotFound)

	paid, err := m.ListOrders(ctx, settlement.OrderFilter{Status: settlement.StatusPaid})
	require.NoError(t, err)
	assert.Len(t, paid, 1)
}

func TestMemory_LedgerIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendEntry(ctx, entry("led_1", "o1", "u1")))
	require.NoError(t, m.AppendEntry(ctx, entry("led_2", "o2", "u2")))
	assert.ErrorIs(t, m.AppendEntry(ctx, entry("led_3", "o1", "u1")), settlement.ErrDuplicateLedgerEntry)

	e, err := m.EntryForOrder(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, settlement.LedgerEntryID("led_2"), e.ID)

	_, err = m.EntryForOrder(ctx, "o3")
	assert.ErrorIs(t, err, settlement.ErrLedgerEntryNotFound)

	u1, err := m.ListEntries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u1, 1)

	all, err := m.ListEntries(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, settlement.LedgerEntryID("led_1"), all[0].ID)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that flips status and appends, then fails
	// THEN: Neither write is visible afterwards
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateOrder(ctx, order("o1", "pi_1")))

	err := m.WithTx(ctx, func(tx settlement.Store) error {
		if err := tx.UpdateStatus(ctx, "o1", settlement.StatusPending, settlement.StatusPaid); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry("led_1", "o1", "u1")); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	o, err := m.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, o.Status)
	_, err = m.EntryForOrder(ctx, "o1")
	assert.ErrorIs(t, err, settlement.ErrLedgerEntryNotFound)
}

func TestMemory_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateOrder(ctx, order("o1", "pi_1")))

	err := m.WithTx(ctx, func(tx settlement.Store) error {
		if err := tx.UpdateStatus(ctx, "o1", settlement.StatusPending, settlement.StatusPaid); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, entry("led_1", "o1", "u1"))
	})
	require.NoError(t, err)

	o, err := m.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, o.Status)
	_, err = m.EntryForOrder(ctx, "o1")
	assert.NoError(t, err)
}

func TestMemory_DedupAndReset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	first, err := m.MarkProcessed(ctx, "evt_1", settlement.EventPaymentSucceeded, createdAt)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := m.MarkProcessed(ctx, "evt_1", settlement.EventPaymentSucceeded, createdAt)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err := m.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, m.CreateOrder(ctx, order("o1", "pi_1")))
	require.NoError(t, m.Reset(ctx))

	assert.Empty(t, m.ProcessedEventIDs())
	_, err = m.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, settlement.ErrOrderNotFound)
}
