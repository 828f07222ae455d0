package loans

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	created   = time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)
	disbursed = time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)
	funding   = uuid.New()
)

func kes(major int64) money.Money {
	return money.MustFromMajor(major, "KES")
}

func newLoan(t *testing.T) models.Loan {
	t.Helper()
	loan, err := New(NewParams{
		BorrowerID: "BR-001",
		Principal:  kes(100000),
		Rate:       decimal.NewFromInt(15),
		TermMonths: 6,
	}, DefaultPolicy, created)
	require.NoError(t, err)
	return loan
}

func activeLoan(t *testing.T) models.Loan {
	t.Helper()
	loan, _, err := Disburse(newLoan(t), funding, disbursed)
	require.NoError(t, err)
	return loan
}

func pay(amount money.Money) PaymentParams {
	return PaymentParams{Amount: amount, Method: models.PaymentMethodMobileMoney, AccountID: funding}
}

func TestNew(t *testing.T) {
	loan := newLoan(t)

	assert.Equal(t, models.LoanStatusPending, loan.Status)
	assert.True(t, loan.TotalRepayable.Equal(kes(115000)))
	assert.True(t, loan.PaidAmount.IsZero())
	assert.Nil(t, loan.DueDate)
	assert.Nil(t, loan.NextPaymentDate)
	assert.NoError(t, Check(loan))
}

func TestNewValidation(t *testing.T) {
	base := NewParams{BorrowerID: "BR-001", Principal: kes(100000), Rate: decimal.NewFromInt(15), TermMonths: 6}

	tests := []struct {
		name   string
		mutate func(p *NewParams)
		policy Policy
	}{
		{name: "no borrower", mutate: func(p *NewParams) { p.BorrowerID = " " }},
		{name: "zero principal", mutate: func(p *NewParams) { p.Principal = kes(0) }},
		{name: "zero rate", mutate: func(p *NewParams) { p.Rate = decimal.Zero }},
		{name: "rate above 50", mutate: func(p *NewParams) { p.Rate = decimal.RequireFromString("50.01") }},
		{name: "zero term", mutate: func(p *NewParams) { p.TermMonths = 0 }},
		{
			name:   "below minimum principal",
			mutate: func(p *NewParams) { p.Principal = kes(9999) },
			policy: Policy{MinPrincipal: decimal.NewFromInt(10000), MaxRate: decimal.NewFromInt(50)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			policy := tt.policy
			if policy.MaxRate.IsZero() {
				policy = DefaultPolicy
			}
			_, err := New(p, policy, created)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	_, err := New(NewParams{BorrowerID: "BR-001", Principal: kes(1), Rate: decimal.NewFromInt(50), TermMonths: 1}, DefaultPolicy, created)
	assert.NoError(t, err, "rate of exactly 50 is allowed")
}

func TestDisburse(t *testing.T) {
	loan, instr, err := Disburse(newLoan(t), funding, disbursed)
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusActive, loan.Status)
	require.NotNil(t, loan.DueDate)
	assert.Equal(t, time.Date(2024, time.July, 15, 8, 0, 0, 0, time.UTC), *loan.DueDate)
	require.NotNil(t, loan.NextPaymentDate)
	assert.Equal(t, time.Date(2024, time.February, 15, 8, 0, 0, 0, time.UTC), *loan.NextPaymentDate)

	assert.Equal(t, loan.ID, instr.LoanID)
	assert.Equal(t, funding, instr.AccountID)
	assert.True(t, instr.Amount.Equal(kes(100000)))
	assert.Contains(t, instr.Reference, "DIS-")

	_, _, err = Disburse(loan, funding, disbursed)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestPaymentScenario(t *testing.T) {
	loan := activeLoan(t)
	now := disbursed.Add(24 * time.Hour)

	loan, rec, err := ApplyPayment(loan, pay(kes(45000)), now, now)
	require.NoError(t, err)
	assert.True(t, Outstanding(loan).Equal(kes(70000)))
	assert.Equal(t, 39, Progress(loan))
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.Equal(t, loan.ID, rec.LoanID)
	assert.Contains(t, rec.Reference, "PAY-")

	loan, _, err = ApplyPayment(loan, pay(kes(70000)), now, now)
	require.NoError(t, err)
	assert.True(t, Outstanding(loan).IsZero())
	assert.Equal(t, models.LoanStatusCompleted, loan.Status)
	assert.Nil(t, loan.NextPaymentDate)

	_, _, err = ApplyPayment(loan, pay(money.MustNew(1, "KES")), now, now)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestPaidAmountIsMonotonic(t *testing.T) {
	loan := activeLoan(t)
	now := disbursed
	prev := loan.PaidAmount

	for _, amt := range []int64{1, 5000, 25000, 1, 84998} {
		now = now.Add(time.Hour)
		next, _, err := ApplyPayment(loan, pay(kes(amt)), now, now)
		require.NoError(t, err)
		assert.True(t, next.PaidAmount.GreaterThan(prev))
		require.NoError(t, Check(next))
		prev, loan = next.PaidAmount, next
	}
	assert.Equal(t, models.LoanStatusCompleted, loan.Status)
}

func TestApplyPaymentRejections(t *testing.T) {
	active := activeLoan(t)

	_, _, err := ApplyPayment(newLoan(t), pay(kes(10)), disbursed, disbursed)
	assert.ErrorIs(t, err, models.ErrInvalidState, "pending loan")

	_, _, err = ApplyPayment(active, pay(kes(115001)), disbursed, disbursed)
	assert.ErrorIs(t, err, models.ErrOverpayment)

	_, _, err = ApplyPayment(active, pay(kes(0)), disbursed, disbursed)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, _, err = ApplyPayment(active, pay(money.MustFromMajor(10, "USD")), disbursed, disbursed)
	assert.ErrorIs(t, err, models.ErrValidation)

	bad := pay(kes(10))
	bad.Method = "cheque"
	_, _, err = ApplyPayment(active, bad, disbursed, disbursed)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, _, err = ApplyPayment(active, pay(kes(10)), disbursed.Add(-time.Second), disbursed)
	assert.ErrorIs(t, err, models.ErrValidation, "received before disbursement")
}

func TestStatusMovesBetweenActiveAndOverdue(t *testing.T) {
	loan := activeLoan(t)
	afterDue := time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, models.LoanStatusActive, DeriveStatus(loan, disbursed))
	assert.Equal(t, models.LoanStatusOverdue, DeriveStatus(loan, afterDue))

	// Overdue loans still accept payments and complete when settled.
	loan, _, err := ApplyPayment(loan, pay(kes(115000)), afterDue, afterDue)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusCompleted, loan.Status)
	assert.Equal(t, models.LoanStatusCompleted, DeriveStatus(loan, afterDue.AddDate(1, 0, 0)))
}

func TestNextPaymentDateFollowsLastPayment(t *testing.T) {
	loan := activeLoan(t)
	paidAt := time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC)

	loan, _, err := ApplyPayment(loan, pay(kes(1000)), paidAt, paidAt)
	require.NoError(t, err)
	require.NotNil(t, loan.NextPaymentDate)
	assert.Equal(t, time.Date(2024, time.April, 3, 12, 0, 0, 0, time.UTC), *loan.NextPaymentDate)

	// A back-dated payment does not pull the schedule backwards.
	earlier := paidAt.AddDate(0, 0, -10)
	loan, _, err = ApplyPayment(loan, pay(kes(1000)), earlier, paidAt)
	require.NoError(t, err)
	assert.Equal(t, paidAt, *loan.LastPaymentAt)
}
