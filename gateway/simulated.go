/*
Package gateway provides settlement.Gateway implementations.

  Simulated: allocates intents locally and decides confirmation outcomes
             from a random source with a fixed failure probability.
  Stripe:    talks to the Stripe API through stripe-go.

webhook.go verifies Stripe-Signature headers on inbound provider events.
*/
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/warp/payment-engine/settlement"
)

// DefaultFailureRate is the simulated probability that a confirmation fails.
const DefaultFailureRate = 0.15

// Simulated is safe for concurrent use.
type Simulated struct {
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand

	newID func(prefix string) string
}

// NewSimulated returns a gateway that fails confirmations with probability
// failureRate, drawing from src. A rate of 0 always succeeds and 1 always
// fails, whatever the source.
func NewSimulated(failureRate float64, src rand.Source) (*Simulated, error) {
	if failureRate < 0 || failureRate > 1 {
		return nil, fmt.Errorf("%w: failure rate %v outside [0, 1]", settlement.ErrInvalidInput, failureRate)
	}
	return &Simulated{
		failureRate: failureRate,
		rng:         rand.New(src),
		newID:       settlement.NewID,
	}, nil
}

// WithIDGenerator replaces the intent id generator. Intended for tests.
func (g *Simulated) WithIDGenerator(newID func(prefix string) string) *Simulated {
	g.newID = newID
	return g
}

func (g *Simulated) CreateIntent(_ context.Context, amountCents int64) (settlement.Intent, error) {
	if amountCents < 0 {
		return settlement.Intent{}, fmt.Errorf("%w: amount %d is negative", settlement.ErrInvalidInput, amountCents)
	}
	id := settlement.PaymentIntentID(g.newID("pi"))
	return settlement.Intent{
		ID:           id,
		AmountCents:  amountCents,
		Status:       settlement.IntentRequiresConfirmation,
		ClientSecret: "mock_" + string(id),
	}, nil
}

// ConfirmIntent draws a fresh outcome on every call.
func (g *Simulated) ConfirmIntent(_ context.Context, id settlement.PaymentIntentID) (settlement.Intent, error) {
	g.mu.Lock()
	draw := g.rng.Float64()
	g.mu.Unlock()

	status := settlement.IntentSucceeded
	if draw < g.failureRate {
		status = settlement.IntentRequiresPaymentMethod
	}
	return settlement.Intent{ID: id, Status: status}, nil
}
