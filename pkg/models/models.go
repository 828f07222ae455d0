package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusOverdue   LoanStatus = "overdue"
	LoanStatusCompleted LoanStatus = "completed"
)

// Loan is a flat-interest loan. Status, DueDate and NextPaymentDate are
// derived on read and never persisted.
type Loan struct {
	ID               uuid.UUID       `json:"id"`
	BorrowerID       string          `json:"borrower_id"` // Link to external borrower directory
	Principal        money.Money     `json:"principal"`
	Rate             decimal.Decimal `json:"rate"` // Flat percentage over the whole term
	TermMonths       int             `json:"term_months"`
	TotalRepayable   money.Money     `json:"total_repayable"`
	PaidAmount       money.Money     `json:"paid_amount"`
	Status           LoanStatus      `json:"status"`
	FundingAccountID *uuid.UUID      `json:"funding_account_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	DisbursedAt      *time.Time      `json:"disbursed_at,omitempty"`
	LastPaymentAt    *time.Time      `json:"last_payment_at,omitempty"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	NextPaymentDate  *time.Time      `json:"next_payment_date,omitempty"`
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodMobileMoney:
		return true
	}
	return false
}

// PaymentRecord is an immutable repayment against a loan.
type PaymentRecord struct {
	ID                 uuid.UUID     `json:"id"`
	LoanID             uuid.UUID     `json:"loan_id"`
	Amount             money.Money   `json:"amount"`
	Method             PaymentMethod `json:"method"`
	SettledToAccountID uuid.UUID     `json:"settled_to_account_id"`
	TransactionID      uuid.UUID     `json:"transaction_id"`
	Reference          string        `json:"reference"`
	Notes              string        `json:"notes,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
}

// BankAccount owns its ordered transaction log. CurrentBalance always equals
// OpeningBalance plus the signed sum of Transactions.
type BankAccount struct {
	ID             uuid.UUID           `json:"id"`
	Name           string              `json:"name"`
	BankName       string              `json:"bank_name,omitempty"`
	AccountNumber  string              `json:"account_number,omitempty"`
	Currency       string              `json:"currency"`
	OpeningBalance money.Money         `json:"opening_balance"`
	CurrentBalance money.Money         `json:"current_balance"`
	CreatedAt      time.Time           `json:"created_at"`
	Transactions   []LedgerTransaction `json:"-"`
}

// Clone returns a copy whose transaction log does not share storage with a.
func (a *BankAccount) Clone() *BankAccount {
	cp := *a
	cp.Transactions = append([]LedgerTransaction(nil), a.Transactions...)
	return &cp
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Opposite is used to build reversing entries.
func (d Direction) Opposite() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

// TransactionOrigin records which operation wrote a ledger entry.
type TransactionOrigin string

const (
	OriginManual       TransactionOrigin = "manual"
	OriginDisbursement TransactionOrigin = "disbursement"
	OriginRepayment    TransactionOrigin = "repayment"
	OriginReversal     TransactionOrigin = "reversal"
)

// Managed reports whether the entry mirrors loan state and so cannot be
// corrected by hand.
func (o TransactionOrigin) Managed() bool {
	return o == OriginDisbursement || o == OriginRepayment
}

type LedgerTransaction struct {
	ID                  uuid.UUID         `json:"id"`
	AccountID           uuid.UUID         `json:"account_id"`
	Seq                 int64             `json:"seq"` // Insertion order, 1-based; ties on Timestamp break on Seq
	Direction           Direction         `json:"direction"`
	Amount              money.Money       `json:"amount"`
	RunningBalanceAfter money.Money       `json:"running_balance_after"`
	Reference           string            `json:"reference"`
	Description         string            `json:"description,omitempty"`
	Origin              TransactionOrigin `json:"origin"`
	RelatedLoanID       *uuid.UUID        `json:"related_loan_id,omitempty"`
	ReversesID          *uuid.UUID        `json:"reverses_id,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}
