package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/accounts"
	"github.com/mcclellann/loanledger/pkg/journal"
	"github.com/mcclellann/loanledger/pkg/keylock"
	"github.com/mcclellann/loanledger/pkg/loans"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
)

type DisbursementResult struct {
	Loan        *LoanView                `json:"loan"`
	Account     *models.BankAccount      `json:"account"`
	Transaction models.LedgerTransaction `json:"transaction"`
}

// RecordDisbursement activates a pending loan and debits its principal from
// the funding account. If the account cannot cover the principal the loan
// stays pending and the account log is unchanged.
func (l *Ledger) RecordDisbursement(ctx context.Context, loanID, accountID uuid.UUID) (*DisbursementResult, error) {
	unlock := l.lockLoanAndAccount(loanID, accountID)
	defer unlock()

	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	acct, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	active, instr, err := loans.Disburse(*loan, accountID, now)
	if err != nil {
		return nil, err
	}
	nextAcct, tx, err := accounts.Append(acct, accounts.Entry{
		Direction:     models.DirectionDebit,
		Amount:        instr.Amount,
		Reference:     instr.Reference,
		Description:   "Loan disbursement - " + l.borrowerName(loan.BorrowerID),
		Origin:        models.OriginDisbursement,
		RelatedLoanID: &active.ID,
	}, now)
	if err != nil {
		slog.Warn("disbursement refused", "loan_id", loanID, "account_id", accountID, "error", err)
		return nil, err
	}

	if err := l.storage.Apply(ctx, store.Changeset{Loan: &active, Account: nextAcct, Transaction: &tx}); err != nil {
		return nil, fmt.Errorf("failed to commit disbursement: %w", err)
	}

	slog.Info("loan disbursed", "loan_id", active.ID, "account_id", accountID, "amount", instr.Amount.String(), "reference", tx.Reference)
	l.publish(journal.TypeLoanDisbursed, tx, "loan_id", active.ID.String(), "account_id", accountID.String())
	return &DisbursementResult{Loan: l.view(active, now), Account: nextAcct, Transaction: tx}, nil
}

type RecordPaymentParams struct {
	LoanID     uuid.UUID
	AccountID  uuid.UUID
	Amount     money.Money
	Method     models.PaymentMethod
	Reference  string
	Notes      string
	ReceivedAt *time.Time // defaults to now
}

type PaymentResult struct {
	Loan        *LoanView                `json:"loan"`
	Payment     models.PaymentRecord     `json:"payment"`
	Account     *models.BankAccount      `json:"account"`
	Transaction models.LedgerTransaction `json:"transaction"`
}

// RecordPayment applies a repayment to a loan and credits the receiving
// account. Either both sides are written or neither is.
func (l *Ledger) RecordPayment(ctx context.Context, p RecordPaymentParams) (*PaymentResult, error) {
	if p.Reference != "" {
		if err := checkLength("reference", p.Reference, 3, 20); err != nil {
			return nil, err
		}
	}

	unlock := l.lockLoanAndAccount(p.LoanID, p.AccountID)
	defer unlock()

	loan, err := l.storage.GetLoan(ctx, p.LoanID)
	if err != nil {
		return nil, err
	}
	acct, err := l.storage.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	at, err := l.receivedAt(p.ReceivedAt, now)
	if err != nil {
		return nil, err
	}

	updated, record, err := loans.ApplyPayment(*loan, loans.PaymentParams{
		Amount:    p.Amount,
		Method:    p.Method,
		AccountID: p.AccountID,
		Reference: p.Reference,
		Notes:     p.Notes,
	}, at, now)
	if err != nil {
		return nil, err
	}
	if err := loans.Check(updated); err != nil {
		return nil, err
	}

	nextAcct, tx, err := accounts.Append(acct, accounts.Entry{
		Direction:     models.DirectionCredit,
		Amount:        record.Amount,
		Reference:     record.Reference,
		Description:   "Loan repayment - " + l.borrowerName(loan.BorrowerID),
		Origin:        models.OriginRepayment,
		RelatedLoanID: &updated.ID,
	}, at)
	if err != nil {
		return nil, err
	}
	record.TransactionID = tx.ID

	cs := store.Changeset{Loan: &updated, Payment: &record, Account: nextAcct, Transaction: &tx}
	if err := l.storage.Apply(ctx, cs); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	slog.Info("payment recorded",
		"loan_id", updated.ID,
		"payment_id", record.ID,
		"amount", record.Amount.String(),
		"outstanding", loans.Outstanding(updated).String(),
		"status", updated.Status,
	)
	l.publish(journal.TypePaymentRecorded, record, "loan_id", updated.ID.String(), "account_id", p.AccountID.String())
	return &PaymentResult{Loan: l.view(updated, now), Payment: record, Account: nextAcct, Transaction: tx}, nil
}

// ManualEntry is a bank movement not produced by a loan operation: bank
// charges, transfers, expenses.
type ManualEntry struct {
	Direction   models.Direction
	Amount      money.Money
	Reference   string
	Description string
	LoanID      *uuid.UUID
	OccurredAt  *time.Time
}

func (l *Ledger) RecordTransaction(ctx context.Context, accountID uuid.UUID, e ManualEntry) (*models.LedgerTransaction, error) {
	if err := checkLength("reference", e.Reference, 3, 20); err != nil {
		return nil, err
	}
	if err := checkLength("description", e.Description, 3, 100); err != nil {
		return nil, err
	}
	if e.LoanID != nil {
		if _, err := l.storage.GetLoan(ctx, *e.LoanID); err != nil {
			return nil, err
		}
	}

	unlock := l.locks.Lock(keylock.AccountKey(accountID.String()))
	defer unlock()

	acct, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	at, err := l.receivedAt(e.OccurredAt, now)
	if err != nil {
		return nil, err
	}

	nextAcct, tx, err := accounts.Append(acct, accounts.Entry{
		Direction:     e.Direction,
		Amount:        e.Amount,
		Reference:     e.Reference,
		Description:   e.Description,
		Origin:        models.OriginManual,
		RelatedLoanID: e.LoanID,
	}, at)
	if err != nil {
		return nil, err
	}
	if err := l.storage.Apply(ctx, store.Changeset{Account: nextAcct, Transaction: &tx}); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction recorded", "account_id", accountID, "direction", tx.Direction, "amount", tx.Amount.String(), "balance", tx.RunningBalanceAfter.String())
	l.publish(journal.TypeTransactionRecorded, tx, "account_id", accountID.String())
	return &tx, nil
}

// ReverseTransaction appends the opposite entry for txID. Disbursement and
// repayment entries cannot be reversed here since the loan's paid amount
// would drift from the bank. Manual entries tagged with a loan can.
func (l *Ledger) ReverseTransaction(ctx context.Context, accountID, txID uuid.UUID, reference string) (*models.LedgerTransaction, error) {
	if reference != "" {
		if err := checkLength("reference", reference, 3, 20); err != nil {
			return nil, err
		}
	}

	unlock := l.locks.Lock(keylock.AccountKey(accountID.String()))
	defer unlock()

	acct, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, t := range acct.Transactions {
		if t.ID == txID && t.Origin.Managed() {
			return nil, fmt.Errorf("%w: %s transaction %s cannot be reversed by hand", models.ErrInvalidState, t.Origin, txID)
		}
	}

	nextAcct, tx, err := accounts.Reverse(acct, txID, reference, l.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := l.storage.Apply(ctx, store.Changeset{Account: nextAcct, Transaction: &tx}); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}

	slog.Info("transaction reversed", "account_id", accountID, "reversed_id", txID, "reversal_id", tx.ID)
	l.publish(journal.TypeTransactionReversed, tx, "account_id", accountID.String(), "reversed_id", txID.String())
	return &tx, nil
}

func checkLength(field, v string, min, max int) error {
	if n := utf8.RuneCountInString(v); n < min || n > max {
		return fmt.Errorf("%w: %s must be %d-%d characters", models.ErrValidation, field, min, max)
	}
	return nil
}
