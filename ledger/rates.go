/*
rates.go - Currency conversion against a centrally stored rate table

PURPOSE:
  The rate table is refreshed periodically by an out-of-scope job; the
  engine only reads it. Conversion is a pure function of its inputs plus
  the table. A slightly stale rate is acceptable; an absent rate is not:
  the whole workflow aborts rather than defaulting to a fabricated rate.

CONTRACT:
  - from == to: returns the amount unchanged with an implicit rate of 1.
    No table lookup happens and no conversion is recorded.
  - Otherwise a directional rate from -> to is looked up; absence fails
    with ErrConversionUnavailable.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is one directional entry in the rate table.
type Rate struct {
	From      Currency        `json:"from"`
	To        Currency        `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RateTable looks up a directional conversion rate. Implementations:
// the sqlite store (persistent table) and rates.Cache (redis-backed
// read-through cache).
type RateTable interface {
	// LookupRate returns (rate, true, nil) when a rate exists for the
	// ordered pair, (zero, false, nil) when it does not, and a non-nil
	// error only on infrastructure failure.
	LookupRate(ctx context.Context, from, to Currency) (decimal.Decimal, bool, error)
}

// Conversion describes a rate application, recorded into the payment
// snapshot so the audit trail shows how the reference value was reached.
type Conversion struct {
	From Currency
	To   Currency
	Rate decimal.Decimal
}

// Convert expresses amount in the target currency. The returned
// *Conversion is nil for identity conversions.
func Convert(ctx context.Context, table RateTable, amount Money, to Currency) (Money, *Conversion, error) {
	if amount.Currency == to {
		return amount, nil, nil
	}

	rate, ok, err := table.LookupRate(ctx, amount.Currency, to)
	if err != nil {
		return Money{}, nil, err
	}
	if !ok {
		return Money{}, nil, &ConversionError{From: amount.Currency, To: to}
	}

	converted := Money{Amount: amount.Amount.Mul(rate), Currency: to}
	return converted, &Conversion{From: amount.Currency, To: to, Rate: rate}, nil
}
