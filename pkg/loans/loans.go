// Package loans applies lifecycle transitions and repayments to a single loan
// snapshot. Functions take and return values; persisting the result is the
// caller's job.
package loans

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/schedule"
	"github.com/shopspring/decimal"
)

const maxNotesLen = 200

// Policy bounds the loans the book will originate.
type Policy struct {
	MinPrincipal decimal.Decimal // Major units; zero disables the check
	MaxRate      decimal.Decimal
}

// DefaultPolicy accepts any positive principal at a rate up to 50%.
var DefaultPolicy = Policy{
	MinPrincipal: decimal.Zero,
	MaxRate:      decimal.NewFromInt(50),
}

type NewParams struct {
	BorrowerID string
	Principal  money.Money
	Rate       decimal.Decimal
	TermMonths int
}

// New validates params and returns a pending loan with its total repayable
// fixed for life.
func New(p NewParams, policy Policy, now time.Time) (models.Loan, error) {
	if strings.TrimSpace(p.BorrowerID) == "" {
		return models.Loan{}, fmt.Errorf("%w: borrower is required", models.ErrValidation)
	}
	if !p.Principal.IsPositive() {
		return models.Loan{}, fmt.Errorf("%w: principal must be positive", models.ErrValidation)
	}
	if !policy.MinPrincipal.IsZero() && p.Principal.Major().LessThan(policy.MinPrincipal) {
		return models.Loan{}, fmt.Errorf("%w: principal must be at least %s %s", models.ErrValidation, policy.MinPrincipal, p.Principal.Currency())
	}
	if !p.Rate.IsPositive() || p.Rate.GreaterThan(policy.MaxRate) {
		return models.Loan{}, fmt.Errorf("%w: rate must be in (0, %s], got %s", models.ErrValidation, policy.MaxRate, p.Rate)
	}
	if p.TermMonths < 1 {
		return models.Loan{}, fmt.Errorf("%w: term must be at least 1 month", models.ErrValidation)
	}

	total, err := schedule.TotalRepayable(p.Principal, p.Rate, p.TermMonths)
	if err != nil {
		return models.Loan{}, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	zero, _ := money.Zero(p.Principal.Currency())

	loan := models.Loan{
		ID:             uuid.New(),
		BorrowerID:     p.BorrowerID,
		Principal:      p.Principal,
		Rate:           p.Rate,
		TermMonths:     p.TermMonths,
		TotalRepayable: total,
		PaidAmount:     zero,
		CreatedAt:      now,
	}
	return Refresh(loan, now), nil
}

// DeriveStatus computes the lifecycle state from disbursement, balance and
// the due date. It is the only source of truth for status.
func DeriveStatus(loan models.Loan, now time.Time) models.LoanStatus {
	if loan.DisbursedAt == nil {
		return models.LoanStatusPending
	}
	if Outstanding(loan).IsZero() {
		return models.LoanStatusCompleted
	}
	if now.After(schedule.DueDate(*loan.DisbursedAt, loan.TermMonths)) {
		return models.LoanStatusOverdue
	}
	return models.LoanStatusActive
}

// Refresh fills in the derived fields for presentation.
func Refresh(loan models.Loan, now time.Time) models.Loan {
	loan.Status = DeriveStatus(loan, now)
	loan.DueDate = nil
	loan.NextPaymentDate = nil
	if loan.DisbursedAt == nil {
		return loan
	}

	due := schedule.DueDate(*loan.DisbursedAt, loan.TermMonths)
	loan.DueDate = &due
	if loan.Status != models.LoanStatusCompleted {
		next := schedule.NextPaymentDate(*loan.DisbursedAt, loan.LastPaymentAt)
		loan.NextPaymentDate = &next
	}
	return loan
}

func Outstanding(loan models.Loan) money.Money {
	return schedule.Outstanding(loan.TotalRepayable, loan.PaidAmount)
}

func Progress(loan models.Loan) int {
	return schedule.ProgressPercent(loan.PaidAmount, loan.TotalRepayable)
}

// Check verifies the balance invariants of a loan snapshot.
func Check(loan models.Loan) error {
	if loan.TotalRepayable.LessThan(loan.Principal) {
		return fmt.Errorf("%w: total repayable %s below principal %s", models.ErrValidation, loan.TotalRepayable, loan.Principal)
	}
	if loan.PaidAmount.GreaterThan(loan.TotalRepayable) {
		return fmt.Errorf("%w: paid %s exceeds total repayable %s", models.ErrValidation, loan.PaidAmount, loan.TotalRepayable)
	}
	return nil
}

// DisbursementInstruction asks the funding account to pay out the principal.
type DisbursementInstruction struct {
	LoanID    uuid.UUID
	AccountID uuid.UUID
	Amount    money.Money
	Reference string
}

// Disburse moves a pending loan to active and returns the debit the funding
// account must accept for the transition to stand.
func Disburse(loan models.Loan, fundingAccountID uuid.UUID, at time.Time) (models.Loan, DisbursementInstruction, error) {
	if status := DeriveStatus(loan, at); status != models.LoanStatusPending {
		return models.Loan{}, DisbursementInstruction{}, fmt.Errorf("%w: loan %s is %s, only pending loans can be disbursed", models.ErrInvalidState, loan.ID, status)
	}

	loan.DisbursedAt = &at
	loan.FundingAccountID = &fundingAccountID

	return Refresh(loan, at), DisbursementInstruction{
		LoanID:    loan.ID,
		AccountID: fundingAccountID,
		Amount:    loan.Principal,
		Reference: "DIS-" + shortID(loan.ID),
	}, nil
}

type PaymentParams struct {
	Amount    money.Money
	Method    models.PaymentMethod
	AccountID uuid.UUID
	Reference string
	Notes     string
}

// ApplyPayment records a repayment. Overpayment is rejected, not capped, so
// the excess has to be reconciled explicitly.
func ApplyPayment(loan models.Loan, p PaymentParams, at, now time.Time) (models.Loan, models.PaymentRecord, error) {
	if !p.Amount.IsPositive() {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: payment amount must be positive", models.ErrValidation)
	}
	if !p.Amount.SameCurrencyAs(loan.TotalRepayable) {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: payment in %s for a %s loan", models.ErrValidation, p.Amount.Currency(), loan.TotalRepayable.Currency())
	}
	if !p.Method.Valid() {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: unknown payment method %q", models.ErrValidation, p.Method)
	}
	if len(p.Notes) > maxNotesLen {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: notes longer than %d characters", models.ErrValidation, maxNotesLen)
	}

	switch status := DeriveStatus(loan, now); status {
	case models.LoanStatusPending, models.LoanStatusCompleted:
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: cannot pay a %s loan", models.ErrInvalidState, status)
	}
	if loan.DisbursedAt != nil && at.Before(*loan.DisbursedAt) {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: payment received %s, before disbursement on %s", models.ErrValidation, at.Format(time.RFC3339), loan.DisbursedAt.Format(time.RFC3339))
	}

	outstanding := Outstanding(loan)
	if p.Amount.GreaterThan(outstanding) {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: %s offered, %s outstanding", models.ErrOverpayment, p.Amount, outstanding)
	}

	paid, err := loan.PaidAmount.Add(p.Amount)
	if err != nil {
		return models.Loan{}, models.PaymentRecord{}, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	loan.PaidAmount = paid
	if loan.LastPaymentAt == nil || at.After(*loan.LastPaymentAt) {
		loan.LastPaymentAt = &at
	}

	record := models.PaymentRecord{
		ID:                 uuid.New(),
		LoanID:             loan.ID,
		Amount:             p.Amount,
		Method:             p.Method,
		SettledToAccountID: p.AccountID,
		Reference:          p.Reference,
		Notes:              p.Notes,
		Timestamp:          at,
	}
	if record.Reference == "" {
		record.Reference = "PAY-" + shortID(record.ID)
	}

	return Refresh(loan, now), record, nil
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}
