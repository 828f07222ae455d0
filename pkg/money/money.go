package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	ErrNegativeResult   = errors.New("result would be negative")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrUnknownCurrency  = errors.New("unknown currency")
)

var hundred = decimal.NewFromInt(100)

// Money is a non-negative amount held in the currency's minor units.
type Money struct {
	minor    int64
	currency string
}

// New builds a Money from minor units (cents for KES and USD).
func New(minor int64, code string) (Money, error) {
	if minor < 0 {
		return Money{}, fmt.Errorf("%w: %d is negative", ErrInvalidAmount, minor)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return Money{minor: minor, currency: unit.String()}, nil
}

// MustNew is New for constants and tests.
func MustNew(minor int64, code string) Money {
	m, err := New(minor, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount of the given currency.
func Zero(code string) (Money, error) {
	return New(0, code)
}

// FromMajor converts an amount in major units (e.g. shillings) to Money. It
// rejects amounts carrying more precision than the currency's minor unit.
func FromMajor(major decimal.Decimal, code string) (Money, error) {
	scale, err := Scale(code)
	if err != nil {
		return Money{}, err
	}
	shifted := major.Shift(int32(scale))
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, major, scale)
	}
	if shifted.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return Money{}, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, major)
	}
	return New(shifted.IntPart(), code)
}

// MustFromMajor is FromMajor for constants and tests.
func MustFromMajor(major int64, code string) Money {
	m, err := FromMajor(decimal.NewFromInt(major), code)
	if err != nil {
		panic(err)
	}
	return m
}

// Scale reports the number of minor-unit digits of a currency.
func Scale(code string) (int, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

func (m Money) Minor() int64     { return m.minor }
func (m Money) Currency() string { return m.currency }
func (m Money) IsZero() bool     { return m.minor == 0 }
func (m Money) IsPositive() bool { return m.minor > 0 }

// SameCurrencyAs reports whether m and o can be combined.
func (m Money) SameCurrencyAs(o Money) bool {
	return m.currency == o.currency
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	scale, _ := Scale(m.currency)
	return decimal.NewFromInt(m.minor).Shift(-int32(scale))
}

func (m Money) String() string {
	scale, _ := Scale(m.currency)
	return m.currency + " " + m.Major().StringFixed(int32(scale))
}

func (m Money) check(o Money) error {
	if m.currency != o.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return nil
}

// Add fails with ErrInvalidAmount when the sum does not fit in int64 minor
// units.
func (m Money) Add(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	if (o.minor > 0 && m.minor > math.MaxInt64-o.minor) || (o.minor < 0 && m.minor < math.MinInt64-o.minor) {
		return Money{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, m, o)
	}
	return Money{minor: m.minor + o.minor, currency: m.currency}, nil
}

// Sub fails with ErrNegativeResult rather than producing a negative amount.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	if o.minor > m.minor {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, m, o)
	}
	return Money{minor: m.minor - o.minor, currency: m.currency}, nil
}

// PercentageOf returns rate percent of m, rounded half-up to the minor unit.
func (m Money) PercentageOf(rate decimal.Decimal) (Money, error) {
	if rate.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative rate %s", ErrInvalidAmount, rate)
	}
	v := decimal.NewFromInt(m.minor).Mul(rate).Div(hundred).Round(0)
	return Money{minor: v.IntPart(), currency: m.currency}, nil
}

// Cmp compares amounts of the same currency: -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.minor < o.minor:
		return -1
	case m.minor > o.minor:
		return 1
	}
	return 0
}

func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }
func (m Money) LessThan(o Money) bool    { return m.Cmp(o) < 0 }
func (m Money) Equal(o Money) bool       { return m.currency == o.currency && m.minor == o.minor }

type wireMoney struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	if m.currency == "" {
		return []byte("null"), nil
	}
	return json.Marshal(wireMoney{Amount: m.Major(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Money{}
		return nil
	}
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := FromMajor(w.Amount, w.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
