package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DecodeEvent parses a provider event body. Unknown fields are ignored so
// full Stripe payloads decode; structural problems return ErrInvalidInput.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&e); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", ErrInvalidInput, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks that the event carries an id, a type and a payment intent id.
func (e Event) Validate() error {
	if isBlank(string(e.ID)) {
		return invalidf("missing event id")
	}
	if isBlank(string(e.Type)) {
		return invalidf("event %s: missing type", e.ID)
	}
	if isBlank(string(e.PaymentIntentID())) {
		return invalidf("event %s: missing data.object.id", e.ID)
	}
	return nil
}

// NewID returns a prefixed random identifier such as "order_3f2c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
