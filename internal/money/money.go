// Package money holds the decimal rules shared by every monetary value in the
// settlement core: signed amounts with exactly two fractional digits.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits stored for every amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Parse reads a decimal string such as "12.50". Values with more than two
// fractional digits are rejected rather than silently rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if !HasScale(d) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimal places", s, Scale)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// HasScale reports whether d fits in two fractional digits without rounding.
func HasScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// Round rounds half away from zero to two places; for the non-negative values
// used in commission math that is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns amount × rate / 100 rounded to two places.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate).Div(hundred))
}

// Split divides a gross price into the platform commission and the provider's
// net earnings. commission + net always equals price.
func Split(price, ratePercent decimal.Decimal) (commission, net decimal.Decimal) {
	commission = Percent(price, ratePercent)
	return commission, price.Sub(commission)
}

// String renders d with exactly two fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
