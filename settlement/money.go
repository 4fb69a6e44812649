/*
money.go - Platform fee split

PURPOSE:
  Splits a gross amount into platform fee and author net.

ROUNDING:
  fee = round_half_up(gross * rate), computed in decimal so no binary
  floating point touches money. Amounts are non-negative, so half-up and
  half-away-from-zero coincide (decimal.Round). One rounding step per split.

  599 * 0.10 = 59.9  -> fee 60, net 539
  5   * 0.10 = 0.5   -> fee 1,  net 4

INVARIANTS (for 0 <= rate <= 1, gross >= 0):
  fee + net == gross
  0 <= fee <= gross
*/
package settlement

import (
	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the platform's 10% commission.
var DefaultFeeRate = decimal.RequireFromString("0.10")

// Split is the result of applying a fee rate to a gross amount.
type Split struct {
	GrossCents int64
	FeeCents   int64
	NetCents   int64
}

// ComputeSplit applies rate to grossCents.
func ComputeSplit(grossCents int64, rate decimal.Decimal) (Split, error) {
	if grossCents < 0 {
		return Split{}, invalidf("gross amount %d is negative", grossCents)
	}
	if err := ValidateFeeRate(rate); err != nil {
		return Split{}, err
	}
	fee := decimal.NewFromInt(grossCents).Mul(rate).Round(0).IntPart()
	return Split{
		GrossCents: grossCents,
		FeeCents:   fee,
		NetCents:   grossCents - fee,
	}, nil
}

// ValidateFeeRate rejects rates outside [0, 1].
func ValidateFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return invalidf("fee rate %s outside [0, 1]", rate.String())
	}
	return nil
}

// ParseFeeRate parses a decimal string such as "0.10".
func ParseFeeRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidf("fee rate %q: %v", s, err)
	}
	if err := ValidateFeeRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

// =============================================================================
// FEE CALCULATOR - A validated rate bound once at startup
// =============================================================================

type FeeCalculator struct {
	rate decimal.Decimal
}

func NewFeeCalculator(rate decimal.Decimal) (FeeCalculator, error) {
	if err := ValidateFeeRate(rate); err != nil {
		return FeeCalculator{}, err
	}
	return FeeCalculator{rate: rate}, nil
}

// MustFeeCalculator panics on an invalid rate. Intended for constants and tests.
func MustFeeCalculator(rate decimal.Decimal) FeeCalculator {
	c, err := NewFeeCalculator(rate)
	if err != nil {
		panic(err)
	}
	return c
}

func (c FeeCalculator) Rate() decimal.Decimal { return c.rate }

func (c FeeCalculator) Split(grossCents int64) (Split, error) {
	return ComputeSplit(grossCents, c.rate)
}
