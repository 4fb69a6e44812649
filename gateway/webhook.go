package gateway

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74/webhook"
)

// SignatureHeader is the header Stripe signs webhook payloads with.
const SignatureHeader = "Stripe-Signature"

// ErrInvalidSignature wraps every verification failure.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks Stripe-Signature headers. A verifier with an empty
// secret accepts every payload, which is what local development uses.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Enabled reports whether payloads are actually checked.
func (v *WebhookVerifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify checks the HMAC and the timestamp tolerance (five minutes).
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	if !v.Enabled() {
		return nil
	}
	if header == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	if err := webhook.ValidatePayload(payload, header, v.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
