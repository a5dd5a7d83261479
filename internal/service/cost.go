package service

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	sixty        = decimal.NewFromInt(60)
	secondsPerHr = decimal.NewFromInt(3600)
)

// Cost prorates rate per hour over minutes and rounds half up to cents.
func Cost(ratePerHour decimal.Decimal, minutes int) decimal.Decimal {
	if minutes <= 0 {
		return decimal.Zero
	}
	return ratePerHour.Mul(decimal.NewFromInt(int64(minutes))).Div(sixty).Round(2)
}

// CheckoutCost is free while the stay lasts at most grace. Longer stays
// are prorated on the elapsed seconds and rounded half up to cents.
func CheckoutCost(ratePerHour decimal.Decimal, elapsed, grace time.Duration) decimal.Decimal {
	if elapsed <= grace {
		return decimal.Zero
	}
	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	return ratePerHour.Mul(seconds).Div(secondsPerHr).Round(2)
}

// ElapsedMinutes returns the whole minutes between from and to, never
// negative.
func ElapsedMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
