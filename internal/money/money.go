// Package money converts between user-facing decimal amounts and the integer
// cents used everywhere else.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrNegative = errors.New("amount must be non-negative")
	ErrSubCent  = errors.New("amount has more than two decimal places")
	ErrTooLarge = errors.New("amount too large")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(1 << 53)
)

// ToCents converts a non-negative decimal amount into cents.
func ToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrNegative
	}
	cents := amount.Mul(hundred)
	if !cents.IsInteger() {
		return 0, ErrSubCent
	}
	if cents.GreaterThan(maxCents) {
		return 0, ErrTooLarge
	}
	return cents.IntPart(), nil
}

// Format renders cents as a fixed two-decimal string, e.g. 9000 -> "90.00".
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// MulQty returns cents*qty, or false when the product does not fit in int64.
func MulQty(cents int64, qty int64) (int64, bool) {
	if cents == 0 || qty == 0 {
		return 0, true
	}
	product := cents * qty
	if (qty == -1 && cents == math.MinInt64) || product/qty != cents {
		return 0, false
	}
	return product, true
}

// Add returns a+b, or false when the sum does not fit in int64.
func Add(a int64, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
