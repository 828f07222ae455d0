// Package schedule holds the flat-interest repayment arithmetic. Every
// function here is pure.
package schedule

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
)

// TotalRepayable is principal plus rate percent of principal. Interest is
// charged once over the whole term, so termMonths only affects dates.
func TotalRepayable(principal money.Money, rate decimal.Decimal, termMonths int) (money.Money, error) {
	if termMonths < 1 {
		return money.Money{}, fmt.Errorf("%w: term must be at least 1 month, got %d", money.ErrInvalidAmount, termMonths)
	}
	interest, err := principal.PercentageOf(rate)
	if err != nil {
		return money.Money{}, err
	}
	return principal.Add(interest)
}

// Outstanding is total minus paid, clamped at zero.
func Outstanding(total, paid money.Money) money.Money {
	rest, err := total.Sub(paid)
	if err != nil {
		zero, _ := money.Zero(total.Currency())
		return zero
	}
	return rest
}

var hundred = decimal.NewFromInt(100)

// ProgressPercent is paid/total as a whole percentage in 0..100.
func ProgressPercent(paid, total money.Money) int {
	if total.IsZero() {
		return 0
	}
	pct := decimal.NewFromInt(paid.Minor()).
		Mul(hundred).
		Div(decimal.NewFromInt(total.Minor())).
		Round(0).
		IntPart()
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}

// DueDate is the disbursement date plus the term.
func DueDate(disbursedAt time.Time, termMonths int) time.Time {
	return AddMonths(disbursedAt, termMonths)
}

// NextPaymentDate is one month after the later of disbursement and the last
// payment.
func NextPaymentDate(disbursedAt time.Time, lastPaymentAt *time.Time) time.Time {
	from := disbursedAt
	if lastPaymentAt != nil && lastPaymentAt.After(from) {
		from = *lastPaymentAt
	}
	return AddMonths(from, 1)
}

// AddMonths adds calendar months, clamping the day to the end of the target
// month instead of overflowing (Jan 31 + 1 month is Feb 28 or 29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
