package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/catalog"
	"github.com/warp/payment-engine/settlement"
	"github.com/warp/payment-engine/settlement/store"
)

func TestReport_UnknownAuthorIsZero(t *testing.T) {
	r := settlement.NewReporter(store.NewMemory(), catalog.NewMemory(), settlement.MustFeeCalculator(settlement.DefaultFeeRate))

	report, err := r.Report(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, settlement.AuthorReport{AuthorID: "nobody", RecipeIDs: []settlement.RecipeID{}}, report)
}

func TestReport_CountsOnlyPaidOrders(t *testing.T) {
	// GIVEN: Author u1 owns r2 and r1; orders in every status; u2 owns r3
	// THEN: Only u1's paid orders count, rounded per order
	ctx := context.Background()
	mem := store.NewMemory()
	cat := catalog.NewMemory(
		settlement.Recipe{ID: "r2", AuthorID: "u1", PriceCents: 1250},
		settlement.Recipe{ID: "r1", AuthorID: "u1", PriceCents: 599},
		settlement.Recipe{ID: "r3", AuthorID: "u2", PriceCents: 875},
	)
	orders := []settlement.Order{
		{ID: "o1", RecipeID: "r1", AmountCents: 599, Status: settlement.StatusPaid, PaymentIntentID: "pi_1"},
		{ID: "o2", RecipeID: "r1", AmountCents: 599, Status: settlement.StatusPaid, PaymentIntentID: "pi_2"},
		{ID: "o3", RecipeID: "r2", AmountCents: 1250, Status: settlement.StatusPaid, PaymentIntentID: "pi_3"},
		{ID: "o4", RecipeID: "r2", AmountCents: 1250, Status: settlement.StatusFailed, PaymentIntentID: "pi_4"},
		{ID: "o5", RecipeID: "r1", AmountCents: 599, Status: settlement.StatusPending, PaymentIntentID: "pi_5"},
		{ID: "o6", RecipeID: "r3", AmountCents: 875, Status: settlement.StatusPaid, PaymentIntentID: "pi_6"},
	}
	for _, o := range orders {
		require.NoError(t, mem.CreateOrder(ctx, o))
	}

	r := settlement.NewReporter(mem, cat, settlement.MustFeeCalculator(settlement.DefaultFeeRate))
	report, err := r.Report(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, settlement.AuthorReport{
		AuthorID:         "u1",
		OrderCount:       3,
		GrossCents:       2448,
		PlatformFeeCents: 245, // 60 + 60 + 125
		NetCents:         2203,
		RecipeIDs:        []settlement.RecipeID{"r1", "r2"},
	}, report)
}

func TestSummarizeLedger(t *testing.T) {
	entries := []settlement.LedgerEntry{
		{AuthorID: "u1", GrossCents: 599, PlatformFeeCents: 60, NetCents: 539},
		{AuthorID: "u2", GrossCents: 875, PlatformFeeCents: 88, NetCents: 787},
		{AuthorID: "u1", GrossCents: 1250, PlatformFeeCents: 125, NetCents: 1125},
	}

	u1 := settlement.SummarizeLedger("u1", entries)
	assert.Equal(t, 2, u1.OrderCount)
	assert.Equal(t, int64(1849), u1.GrossCents)
	assert.Equal(t, int64(185), u1.PlatformFeeCents)
	assert.Equal(t, int64(1664), u1.NetCents)

	all := settlement.SummarizeLedger("", entries)
	assert.Equal(t, 3, all.OrderCount)
	assert.Equal(t, int64(2724), all.GrossCents)
}
