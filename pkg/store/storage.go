package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

// ErrConflict means a changeset was computed from a stale snapshot.
var ErrConflict = errors.New("stale write")

// Changeset is everything one facade operation writes. Apply persists all of
// it or none of it.
type Changeset struct {
	Loan        *models.Loan              // replaces paid amount, disbursement and payment dates
	Payment     *models.PaymentRecord     // appended
	Account     *models.BankAccount       // replaces current balance
	Transaction *models.LedgerTransaction // appended; Seq must follow the stored log
}

//go:generate mockgen -source=storage.go -destination=storage_mock.go -package=store

// Storage defines the persistence operations for loans, payments and accounts.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context) ([]*models.Loan, error)
	ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentRecord, error)

	CreateAccount(ctx context.Context, acct *models.BankAccount) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error)
	ListAccounts(ctx context.Context) ([]*models.BankAccount, error)

	Apply(ctx context.Context, cs Changeset) error

	Close() error
}
