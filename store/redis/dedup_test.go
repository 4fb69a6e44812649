package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/settlement"
	paymentsredis "github.com/warp/payment-engine/store/redis"
)

// newDedup connects to PAYMENTS_TEST_REDIS_ADDR and isolates the test
// under a random key prefix.
func newDedup(t *testing.T, ttl time.Duration) *paymentsredis.Dedup {
	t.Helper()
	addr := os.Getenv("PAYMENTS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAYMENTS_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := paymentsredis.Connect(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return paymentsredis.NewDedup(client, ttl).WithPrefix("payments:test:" + uuid.NewString() + ":")
}

func TestDedup_MarkProcessed(t *testing.T) {
	d := newDedup(t, time.Minute)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seen, err := d.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := d.MarkProcessed(ctx, "evt_1", settlement.EventPaymentSucceeded, at)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.MarkProcessed(ctx, "evt_1", settlement.EventPaymentSucceeded, at)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err = d.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDedup_ConcurrentMarkHasOneWinner(t *testing.T) {
	d := newDedup(t, time.Minute)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := d.MarkProcessed(context.Background(), "evt_race", settlement.EventPaymentSucceeded, time.Now())
			assert.NoError(t, err)
			if first {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestDedup_KeysExpire(t *testing.T) {
	d := newDedup(t, time.Second)
	ctx := context.Background()

	first, err := d.MarkProcessed(ctx, "evt_ttl", settlement.EventPaymentSucceeded, time.Now())
	require.NoError(t, err)
	require.True(t, first)

	assert.Eventually(t, func() bool {
		seen, err := d.IsProcessed(ctx, "evt_ttl")
		return err == nil && !seen
	}, 5*time.Second, 100*time.Millisecond)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := paymentsredis.Connect(context.Background(), "redis://:bad url")
	assert.Error(t, err)
}
