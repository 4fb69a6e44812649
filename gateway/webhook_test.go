package gateway_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/payment-engine/gateway"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	v := gateway.NewWebhookVerifier(testSecret)
	assert.True(t, v.Enabled())

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", sign(payload, testSecret, time.Now()), true},
		{"missing header", "", false},
		{"wrong secret", sign(payload, "whsec_other", time.Now()), false},
		{"stale timestamp", sign(payload, testSecret, time.Now().Add(-time.Hour)), false},
		{"garbage", "not-a-signature", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(payload, tt.header)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
			}
		})
	}
}

func TestWebhookVerifier_TamperedPayload(t *testing.T) {
	v := gateway.NewWebhookVerifier(testSecret)
	header := sign([]byte(`{"id":"evt_1"}`), testSecret, time.Now())

	err := v.Verify([]byte(`{"id":"evt_2"}`), header)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestWebhookVerifier_DisabledAcceptsAnything(t *testing.T) {
	v := gateway.NewWebhookVerifier("")
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify([]byte("anything"), ""))

	var nilVerifier *gateway.WebhookVerifier
	assert.NoError(t, nilVerifier.Verify([]byte("anything"), ""))
}
