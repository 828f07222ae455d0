package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New(150, "KES")
	require.NoError(t, err)
	assert.Equal(t, int64(150), m.Minor())
	assert.Equal(t, "KES", m.Currency())

	_, err = New(-1, "KES")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(1, "XYZZY")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestFromMajor(t *testing.T) {
	m, err := FromMajor(decimal.RequireFromString("1150.25"), "KES")
	require.NoError(t, err)
	assert.Equal(t, int64(115025), m.Minor())
	assert.Equal(t, "KES 1150.25", m.String())

	_, err = FromMajor(decimal.RequireFromString("1.005"), "KES")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = FromMajor(decimal.RequireFromString("-3"), "KES")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAddSub(t *testing.T) {
	a := MustNew(500, "KES")
	b := MustNew(200, "KES")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(700), sum.Minor())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(300), diff.Minor())

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrNegativeResult)

	_, err = a.Add(MustNew(1, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestAddOverflow(t *testing.T) {
	big, err := FromMajor(decimal.RequireFromString("46116860184273879.04"), "KES")
	require.NoError(t, err)

	_, err = big.Add(big)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	top := MustNew(math.MaxInt64, "KES")
	_, err = top.Add(MustNew(1, "KES"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	sum, err := top.Add(MustNew(0, "KES"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), sum.Minor())
}

func TestPercentageOfRoundsHalfUp(t *testing.T) {
	tests := []struct {
		name  string
		minor int64
		rate  string
		want  int64
	}{
		{name: "exact", minor: 10000000, rate: "15", want: 1500000},
		{name: "half rounds up", minor: 10, rate: "15", want: 2},
		{name: "below half rounds down", minor: 13, rate: "10", want: 1},
		{name: "fractional rate", minor: 1000, rate: "12.5", want: 125},
		{name: "zero amount", minor: 0, rate: "50", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MustNew(tt.minor, "KES").PercentageOf(decimal.RequireFromString(tt.rate))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Minor())
		})
	}
}

func TestCmp(t *testing.T) {
	a := MustNew(1, "KES")
	b := MustNew(2, "KES")
	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Cmp(a))
	assert.Equal(t, 0, a.Cmp(a))
	assert.True(t, b.GreaterThan(a))
	assert.False(t, a.Equal(MustNew(1, "USD")))
}

func TestJSON(t *testing.T) {
	m := MustFromMajor(115000, "KES")
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"115000","currency":"KES"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":45000.5,"currency":"KES"}`), &back))
	assert.Equal(t, int64(4500050), back.Minor())
}
