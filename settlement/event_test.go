package settlement_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/settlement"
)

func TestDecodeEvent_FullStripePayload(t *testing.T) {
	body := `{
		"id": "evt_3Nx",
		"object": "event",
		"api_version": "2023-10-16",
		"created": 1700000000,
		"livemode": false,
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_3Nx",
				"object": "payment_intent",
				"amount": 599,
				"currency": "usd",
				"status": "succeeded"
			}
		}
	}`

	event, err := settlement.DecodeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, settlement.NewPaymentEvent("evt_3Nx", settlement.EventPaymentSucceeded, "pi_3Nx"), event)
	assert.Equal(t, settlement.PaymentIntentID("pi_3Nx"), event.PaymentIntentID())
}

func TestDecodeEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `evt`},
		{"missing id", `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`},
		{"missing type", `{"id":"evt_1","data":{"object":{"id":"pi_1"}}}`},
		{"missing intent", `{"id":"evt_1","type":"payment_intent.succeeded","data":{}}`},
		{"blank intent", `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"  "}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settlement.DecodeEvent([]byte(tt.body))
			assert.ErrorIs(t, err, settlement.ErrInvalidInput)
			assert.True(t, settlement.IsClientError(err))
		})
	}
}

func TestNewID(t *testing.T) {
	a := settlement.NewID("order")
	b := settlement.NewID("order")
	assert.True(t, strings.HasPrefix(a, "order_"))
	assert.NotEqual(t, a, b)
}

func TestEventTypeForIntent(t *testing.T) {
	typ, ok := settlement.EventTypeForIntent(settlement.IntentSucceeded)
	assert.True(t, ok)
	assert.Equal(t, settlement.EventPaymentSucceeded, typ)

	typ, ok = settlement.EventTypeForIntent(settlement.IntentRequiresPaymentMethod)
	assert.True(t, ok)
	assert.Equal(t, settlement.EventPaymentFailed, typ)

	_, ok = settlement.EventTypeForIntent(settlement.IntentProcessing)
	assert.False(t, ok)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "skipped", settlement.Outcome{Kind: settlement.OutcomeSkipped}.String())
	assert.Equal(t, "rejected: recipe not found for order",
		settlement.Outcome{Kind: settlement.OutcomeRejected, Reason: settlement.ReasonRecipeNotFound}.String())
}
