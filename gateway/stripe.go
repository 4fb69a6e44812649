package gateway

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/warp/payment-engine/settlement"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey string

	// PaymentMethod is attached on confirmation. Test mode accepts "pm_card_visa".
	PaymentMethod string

	// Currency defaults to usd. The engine is single-currency.
	Currency string

	// BaseURL overrides the API endpoint (stripe-mock, tests).
	BaseURL string
}

// Stripe reports true settlement results from the Stripe API.
type Stripe struct {
	client        *paymentintent.Client
	paymentMethod string
	currency      string
}

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", settlement.ErrInvalidInput)
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "pm_card_visa"
	}

	backendCfg := &stripe.BackendConfig{
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	return &Stripe{
		client: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		paymentMethod: cfg.PaymentMethod,
		currency:      cfg.Currency,
	}, nil
}

func (g *Stripe) CreateIntent(ctx context.Context, amountCents int64) (settlement.Intent, error) {
	if amountCents < 0 {
		return settlement.Intent{}, fmt.Errorf("%w: amount %d is negative", settlement.ErrInvalidInput, amountCents)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(g.currency),
	}
	params.Context = ctx

	pi, err := g.client.New(params)
	if err != nil {
		return settlement.Intent{}, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return settlement.Intent{
		ID:           settlement.PaymentIntentID(pi.ID),
		AmountCents:  pi.Amount,
		Status:       settlement.IntentRequiresConfirmation,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (g *Stripe) ConfirmIntent(ctx context.Context, id settlement.PaymentIntentID) (settlement.Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(g.paymentMethod),
	}
	params.Context = ctx

	pi, err := g.client.Confirm(string(id), params)
	if err != nil {
		return settlement.Intent{}, fmt.Errorf("stripe confirm payment intent: %w", err)
	}
	return settlement.Intent{
		ID:          settlement.PaymentIntentID(pi.ID),
		AmountCents: pi.Amount,
		Status:      intentStatus(pi.Status),
	}, nil
}

func intentStatus(s stripe.PaymentIntentStatus) settlement.IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return settlement.IntentSucceeded
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		return settlement.IntentRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return settlement.IntentRequiresConfirmation
	}
	return settlement.IntentProcessing
}
