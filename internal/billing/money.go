package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToSubunits converts a decimal amount in currency units to the smallest
// currency subunit: round(amount * 100). Half values round away from zero.
func ToSubunits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromSubunits is the inverse of ToSubunits.
func FromSubunits(subunits int64) decimal.Decimal {
	return decimal.New(subunits, -2)
}

// DiscountedPrice applies a whole-percent discount and rounds to cents.
func DiscountedPrice(price decimal.Decimal, discount int) decimal.Decimal {
	if discount <= 0 {
		return price
	}
	factor := decimal.NewFromInt(int64(100 - discount)).Div(hundred)
	return price.Mul(factor).Round(2)
}

// RefundAmount computes the pro-rata refund for the unused part of a billing
// period: total * (endDate - today) / period, rounded to cents.
// It returns false when endDate is before today: the subscription lapsed and
// no refund is due.
func RefundAmount(endDate time.Time, total decimal.Decimal, period int, today time.Time) (decimal.Decimal, bool) {
	remaining := DaysBetween(today, endDate)
	if remaining < 0 || period <= 0 {
		return decimal.Zero, false
	}
	// Never refund more than was paid, even if the window was extended.
	remaining = min(remaining, period)

	amount := total.Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(period))).
		Round(2)
	return amount, true
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the calendar date n days after d.
func AddDays(d time.Time, n int) time.Time {
	return Date(d).AddDate(0, 0, n)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}
