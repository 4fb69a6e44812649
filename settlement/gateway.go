package settlement

import "context"

// IntentStatus is the provider-side state of a payment intent.
type IntentStatus string

const (
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"

	// IntentProcessing covers every non-final provider state. No event is
	// synthesized for it; the provider's webhook settles the order later.
	IntentProcessing IntentStatus = "processing"
)

// Intent is a gateway-side handle for one attempted charge.
type Intent struct {
	ID           PaymentIntentID
	AmountCents  int64
	Status       IntentStatus
	ClientSecret string
}

// Gateway is the payment provider boundary. Implementations live in the
// gateway package (simulated and Stripe).
type Gateway interface {
	// CreateIntent allocates a new intent for amountCents.
	CreateIntent(ctx context.Context, amountCents int64) (Intent, error)

	// ConfirmIntent asks the provider to settle the intent. The returned
	// status is advisory; callers turn it into an Event.
	ConfirmIntent(ctx context.Context, id PaymentIntentID) (Intent, error)
}

// EventTypeForIntent maps a confirmation result to the event a provider
// would emit. ok is false for non-final states.
func EventTypeForIntent(status IntentStatus) (typ EventType, ok bool) {
	switch status {
	case IntentSucceeded:
		return EventPaymentSucceeded, true
	case IntentRequiresPaymentMethod:
		return EventPaymentFailed, true
	}
	return "", false
}
