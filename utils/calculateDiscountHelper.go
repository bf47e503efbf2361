package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	decimalZero       = decimal.Zero
	decimalOne        = decimal.NewFromInt(1)
	decimalOneHundred = decimal.NewFromInt(100)
)

// DiscountFactor returns max(0, 1 - percent/100).
func DiscountFactor(percent decimal.Decimal) decimal.Decimal {
	factor := decimalOne.Sub(percent.Div(decimalOneHundred))
	if factor.IsNegative() {
		return decimalZero
	}
	return factor
}

// RoundAmount rounds half away from zero to places decimals.
func RoundAmount(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Round(places)
}

// ConvertAmount converts a base amount with rate and rounds to the target currency's precision.
func ConvertAmount(baseAmount decimal.Decimal, rate decimal.Decimal, places int32) decimal.Decimal {
	return RoundAmount(baseAmount.Mul(rate), places)
}

// DateOnly drops the clock part, keeping the calendar date of t.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InclusiveDays counts calendar days from start through end. End before start counts as one
// day; a missing date counts as zero.
func InclusiveDays(start, end *time.Time) int {
	if start == nil || end == nil {
		return 0
	}
	s := DateOnly(*start)
	e := DateOnly(*end)
	if e.Before(s) {
		e = s
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// ClampEnd returns end, or start when end falls on an earlier calendar day.
func ClampEnd(start, end time.Time) time.Time {
	if DateOnly(end).Before(DateOnly(start)) {
		return start
	}
	return end
}
