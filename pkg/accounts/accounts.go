// Package accounts keeps one bank account's append-only transaction log and
// running balance.
package accounts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
)

type OpenParams struct {
	Name           string
	BankName       string
	AccountNumber  string
	OpeningBalance money.Money
}

func Open(p OpenParams, now time.Time) (*models.BankAccount, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: account name is required", models.ErrValidation)
	}
	if p.OpeningBalance.Currency() == "" {
		return nil, fmt.Errorf("%w: opening balance needs a currency", models.ErrValidation)
	}
	return &models.BankAccount{
		ID:             uuid.New(),
		Name:           p.Name,
		BankName:       p.BankName,
		AccountNumber:  p.AccountNumber,
		Currency:       p.OpeningBalance.Currency(),
		OpeningBalance: p.OpeningBalance,
		CurrentBalance: p.OpeningBalance,
		CreatedAt:      now,
	}, nil
}

// Entry is a balance movement waiting to be appended.
type Entry struct {
	Direction     models.Direction
	Amount        money.Money
	Reference     string
	Description   string
	Origin        models.TransactionOrigin // Defaults to OriginManual
	RelatedLoanID *uuid.UUID
	ReversesID    *uuid.UUID
}

// Append returns a copy of acct with the entry applied, plus the stored
// transaction. Debits may not take the balance below zero, and entries may
// not be stamped earlier than the last one in the log.
func Append(acct *models.BankAccount, e Entry, at time.Time) (*models.BankAccount, models.LedgerTransaction, error) {
	if !e.Direction.Valid() {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: unknown direction %q", models.ErrValidation, e.Direction)
	}
	if !e.Amount.IsPositive() {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if e.Amount.Currency() != acct.Currency {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: %s entry on a %s account", models.ErrValidation, e.Amount.Currency(), acct.Currency)
	}
	if n := len(acct.Transactions); n > 0 && at.Before(acct.Transactions[n-1].Timestamp) {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: entry at %s precedes the last entry at %s", models.ErrValidation, at.Format(time.RFC3339), acct.Transactions[n-1].Timestamp.Format(time.RFC3339))
	}

	var (
		balance money.Money
		err     error
	)
	switch e.Direction {
	case models.DirectionCredit:
		balance, err = acct.CurrentBalance.Add(e.Amount)
	case models.DirectionDebit:
		if e.Amount.GreaterThan(acct.CurrentBalance) {
			return nil, models.LedgerTransaction{}, fmt.Errorf("%w: debit of %s against balance %s on account %s", models.ErrInsufficientFunds, e.Amount, acct.CurrentBalance, acct.ID)
		}
		balance, err = acct.CurrentBalance.Sub(e.Amount)
	}
	if err != nil {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	if e.Origin == "" {
		e.Origin = models.OriginManual
	}

	tx := models.LedgerTransaction{
		ID:                  uuid.New(),
		AccountID:           acct.ID,
		Seq:                 int64(len(acct.Transactions)) + 1,
		Direction:           e.Direction,
		Amount:              e.Amount,
		RunningBalanceAfter: balance,
		Reference:           e.Reference,
		Description:         e.Description,
		Origin:              e.Origin,
		RelatedLoanID:       e.RelatedLoanID,
		ReversesID:          e.ReversesID,
		Timestamp:           at,
	}

	next := acct.Clone()
	next.Transactions = append(next.Transactions, tx)
	next.CurrentBalance = balance
	return next, tx, nil
}

// Reverse appends the correcting entry for an earlier transaction. Each
// transaction can be reversed once, and reversing entries cannot themselves
// be reversed.
func Reverse(acct *models.BankAccount, txID uuid.UUID, reference string, at time.Time) (*models.BankAccount, models.LedgerTransaction, error) {
	var orig *models.LedgerTransaction
	for i := range acct.Transactions {
		t := &acct.Transactions[i]
		if t.ReversesID != nil && *t.ReversesID == txID {
			return nil, models.LedgerTransaction{}, fmt.Errorf("%w: transaction %s already reversed by %s", models.ErrInvalidState, txID, t.ID)
		}
		if t.ID == txID {
			orig = t
		}
	}
	if orig == nil {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: transaction %s on account %s", models.ErrNotFound, txID, acct.ID)
	}
	if orig.ReversesID != nil {
		return nil, models.LedgerTransaction{}, fmt.Errorf("%w: transaction %s is itself a reversal", models.ErrInvalidState, txID)
	}
	if reference == "" {
		reference = "REV-" + orig.Reference
	}

	id := orig.ID
	return Append(acct, Entry{
		Direction:     orig.Direction.Opposite(),
		Amount:        orig.Amount,
		Reference:     reference,
		Description:   "Reversal of " + orig.Reference,
		Origin:        models.OriginReversal,
		RelatedLoanID: orig.RelatedLoanID,
		ReversesID:    &id,
	}, at)
}

func signed(balance money.Money, t models.LedgerTransaction) (money.Money, error) {
	if t.Direction == models.DirectionDebit {
		return balance.Sub(t.Amount)
	}
	return balance.Add(t.Amount)
}

// BalanceAsOf folds the log up to and including the last transaction (in
// sequence order) stamped at or before cutoff.
func BalanceAsOf(acct *models.BankAccount, cutoff time.Time) (money.Money, error) {
	last := -1
	for i, t := range acct.Transactions {
		if !t.Timestamp.After(cutoff) {
			last = i
		}
	}

	balance := acct.OpeningBalance
	for _, t := range acct.Transactions[:last+1] {
		var err error
		if balance, err = signed(balance, t); err != nil {
			return money.Money{}, fmt.Errorf("%w: seq %d: %w", models.ErrCorruptLedger, t.Seq, err)
		}
	}
	return balance, nil
}

// Verify replays the log from the opening balance and checks every stored
// running balance and the current balance.
func Verify(acct *models.BankAccount) error {
	balance := acct.OpeningBalance
	for i, t := range acct.Transactions {
		if t.Seq != int64(i)+1 {
			return fmt.Errorf("%w: account %s position %d has seq %d", models.ErrCorruptLedger, acct.ID, i+1, t.Seq)
		}
		var err error
		if balance, err = signed(balance, t); err != nil {
			return fmt.Errorf("%w: account %s seq %d: %w", models.ErrCorruptLedger, acct.ID, t.Seq, err)
		}
		if !balance.Equal(t.RunningBalanceAfter) {
			return fmt.Errorf("%w: account %s seq %d stored %s, replay gives %s", models.ErrCorruptLedger, acct.ID, t.Seq, t.RunningBalanceAfter, balance)
		}
	}
	if !balance.Equal(acct.CurrentBalance) {
		return fmt.Errorf("%w: account %s current balance %s, replay gives %s", models.ErrCorruptLedger, acct.ID, acct.CurrentBalance, balance)
	}
	return nil
}

// Filter narrows a transaction list; zero-valued fields match everything.
type Filter struct {
	Direction *models.Direction
	From      *time.Time
	To        *time.Time
	Search    string
	LoanID    *uuid.UUID
}

func (f Filter) matches(t models.LedgerTransaction) bool {
	if f.Direction != nil && t.Direction != *f.Direction {
		return false
	}
	if f.From != nil && t.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && t.Timestamp.After(*f.To) {
		return false
	}
	if f.LoanID != nil && (t.RelatedLoanID == nil || *t.RelatedLoanID != *f.LoanID) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(t.Reference), q) ||
			strings.Contains(strings.ToLower(t.Description), q)
	}
	return true
}

// Select returns the matching transactions in sequence order.
func Select(txs []models.LedgerTransaction, f Filter) []models.LedgerTransaction {
	out := make([]models.LedgerTransaction, 0, len(txs))
	for _, t := range txs {
		if f.matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// Totals sums credits and debits separately.
func Totals(currency string, txs []models.LedgerTransaction) (credits, debits money.Money) {
	credits, _ = money.Zero(currency)
	debits, _ = money.Zero(currency)
	for _, t := range txs {
		if t.Direction == models.DirectionCredit {
			credits, _ = credits.Add(t.Amount)
		} else {
			debits, _ = debits.Add(t.Amount)
		}
	}
	return credits, debits
}
