package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, time.February, 8, 10, 0, 0, 0, time.UTC)

func kes(major int64) money.Money {
	return money.MustFromMajor(major, "KES")
}

func newSQLite(t *testing.T) Storage {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(t *testing.T) Storage {
	return NewMemoryStore()
}

var backends = map[string]func(t *testing.T) Storage{
	"memory": newMemory,
	"sqlite": newSQLite,
}

func sampleLoan() *models.Loan {
	return &models.Loan{
		ID:             uuid.New(),
		BorrowerID:     "BR-001",
		Principal:      kes(100000),
		Rate:           decimal.NewFromInt(15),
		TermMonths:     6,
		TotalRepayable: kes(115000),
		PaidAmount:     kes(0),
		CreatedAt:      stamp,
	}
}

func sampleAccount() *models.BankAccount {
	return &models.BankAccount{
		ID:             uuid.New(),
		Name:           "Equity Bank",
		BankName:       "Equity Bank Kenya",
		AccountNumber:  "0123-456-789",
		Currency:       "KES",
		OpeningBalance: kes(4745000),
		CurrentBalance: kes(4745000),
		CreatedAt:      stamp,
	}
}

func TestStorage_CreateAndGetLoan(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			loan := sampleLoan()
			require.NoError(t, s.CreateLoan(ctx, loan))

			fetched, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, loan.BorrowerID, fetched.BorrowerID)
			assert.True(t, fetched.Principal.Equal(loan.Principal))
			assert.True(t, fetched.TotalRepayable.Equal(loan.TotalRepayable))
			assert.True(t, fetched.Rate.Equal(loan.Rate))
			assert.Equal(t, 6, fetched.TermMonths)
			assert.Nil(t, fetched.DisbursedAt)
			assert.True(t, fetched.CreatedAt.Equal(stamp))

			_, err = s.GetLoan(ctx, uuid.New())
			assert.ErrorIs(t, err, models.ErrNotFound)

			all, err := s.ListLoans(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStorage_ApplyPaymentChangeset(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			loan := sampleLoan()
			acct := sampleAccount()
			require.NoError(t, s.CreateLoan(ctx, loan))
			require.NoError(t, s.CreateAccount(ctx, acct))

			disbursed := stamp.Add(time.Hour)
			loan.DisbursedAt = &disbursed
			loan.FundingAccountID = &acct.ID
			loan.PaidAmount = kes(15000)
			loan.LastPaymentAt = &disbursed

			tx := &models.LedgerTransaction{
				ID:                  uuid.New(),
				AccountID:           acct.ID,
				Seq:                 1,
				Direction:           models.DirectionCredit,
				Amount:              kes(15000),
				RunningBalanceAfter: kes(4760000),
				Reference:           "PAY-001",
				Description:         "Loan repayment - John Kamau",
				Origin:              models.OriginRepayment,
				RelatedLoanID:       &loan.ID,
				Timestamp:           disbursed,
			}
			acct.CurrentBalance = kes(4760000)
			payment := &models.PaymentRecord{
				ID:                 uuid.New(),
				LoanID:             loan.ID,
				Amount:             kes(15000),
				Method:             models.PaymentMethodMobileMoney,
				SettledToAccountID: acct.ID,
				TransactionID:      tx.ID,
				Reference:          "PAY-001",
				Timestamp:          disbursed,
			}

			require.NoError(t, s.Apply(ctx, Changeset{Loan: loan, Payment: payment, Account: acct, Transaction: tx}))

			gotLoan, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.True(t, gotLoan.PaidAmount.Equal(kes(15000)))
			require.NotNil(t, gotLoan.DisbursedAt)
			assert.True(t, gotLoan.DisbursedAt.Equal(disbursed))
			require.NotNil(t, gotLoan.FundingAccountID)
			assert.Equal(t, acct.ID, *gotLoan.FundingAccountID)

			gotAcct, err := s.GetAccount(ctx, acct.ID)
			require.NoError(t, err)
			assert.True(t, gotAcct.CurrentBalance.Equal(kes(4760000)))
			require.Len(t, gotAcct.Transactions, 1)
			got := gotAcct.Transactions[0]
			assert.Equal(t, tx.ID, got.ID)
			assert.Equal(t, models.DirectionCredit, got.Direction)
			assert.True(t, got.RunningBalanceAfter.Equal(kes(4760000)))
			assert.Equal(t, models.OriginRepayment, got.Origin)
			require.NotNil(t, got.RelatedLoanID)
			assert.Equal(t, loan.ID, *got.RelatedLoanID)
			assert.Nil(t, got.ReversesID)

			payments, err := s.ListPayments(ctx, loan.ID)
			require.NoError(t, err)
			require.Len(t, payments, 1)
			assert.Equal(t, models.PaymentMethodMobileMoney, payments[0].Method)
			assert.True(t, payments[0].Amount.Equal(kes(15000)))
		})
	}
}

func TestStorage_ApplyRejectsStaleSeqAtomically(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			loan := sampleLoan()
			acct := sampleAccount()
			require.NoError(t, s.CreateLoan(ctx, loan))
			require.NoError(t, s.CreateAccount(ctx, acct))

			now := stamp
			loan.DisbursedAt = &now
			acct.CurrentBalance = kes(4645000)
			tx := &models.LedgerTransaction{
				ID:                  uuid.New(),
				AccountID:           acct.ID,
				Seq:                 2, // log is empty, so 1 is expected
				Direction:           models.DirectionDebit,
				Amount:              kes(100000),
				RunningBalanceAfter: kes(4645000),
				Timestamp:           now,
			}

			err := s.Apply(ctx, Changeset{Loan: loan, Account: acct, Transaction: tx})
			assert.ErrorIs(t, err, ErrConflict)

			gotLoan, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Nil(t, gotLoan.DisbursedAt, "loan update must roll back with the failed append")

			gotAcct, err := s.GetAccount(ctx, acct.ID)
			require.NoError(t, err)
			assert.True(t, gotAcct.CurrentBalance.Equal(kes(4745000)))
			assert.Empty(t, gotAcct.Transactions)
		})
	}
}

func TestStorage_NotFound(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.GetAccount(ctx, uuid.New())
			assert.ErrorIs(t, err, models.ErrNotFound)

			_, err = s.ListPayments(ctx, uuid.New())
			assert.ErrorIs(t, err, models.ErrNotFound)

			err = s.Apply(ctx, Changeset{Loan: sampleLoan()})
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acct := sampleAccount()
	require.NoError(t, s.CreateAccount(ctx, acct))

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	got.CurrentBalance = kes(1)
	got.Transactions = append(got.Transactions, models.LedgerTransaction{})

	again, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, again.CurrentBalance.Equal(kes(4745000)))
	assert.Empty(t, again.Transactions)
}
