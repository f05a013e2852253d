// Package quantity adapts order quantities to exchange lot rules.
package quantity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBelowMinimumNotional is returned when qty*price is under the exchange minimum.
var ErrBelowMinimumNotional = errors.New("order value below minimum notional")

// LedgerPlaces is the fractional precision used for fees and position quantities.
const LedgerPlaces int32 = 8

// Normalize floors qty to the nearest multiple of step. It never rounds up.
// A zero or negative step leaves qty unchanged.
func Normalize(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	steps, rem := qty.QuoRem(step, 0)
	if rem.Sign() < 0 {
		steps = steps.Sub(decimal.NewFromInt(1))
	}
	return steps.Mul(step)
}

// ValidateNotional fails with ErrBelowMinimumNotional when qty*price < minNotional.
func ValidateNotional(qty, price, minNotional decimal.Decimal) error {
	notional := qty.Mul(price)
	if notional.LessThan(minNotional) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimumNotional, notional.String(), minNotional.String())
	}
	return nil
}

// Truncate drops digits beyond places without rounding.
func Truncate(value decimal.Decimal, places int32) decimal.Decimal {
	return value.Truncate(places)
}
