package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/accounts"
	"github.com/mcclellann/loanledger/pkg/borrowers"
	"github.com/mcclellann/loanledger/pkg/keylock"
	"github.com/mcclellann/loanledger/pkg/loans"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
)

// LoanView is a loan with its derived figures filled in.
type LoanView struct {
	models.Loan
	BorrowerName    string      `json:"borrower_name,omitempty"`
	Outstanding     money.Money `json:"outstanding"`
	ProgressPercent int         `json:"progress_percent"`
}

func (l *Ledger) view(loan models.Loan, now time.Time) *LoanView {
	loan = loans.Refresh(loan, now)
	v := &LoanView{
		Loan:            loan,
		Outstanding:     loans.Outstanding(loan),
		ProgressPercent: loans.Progress(loan),
	}
	if name := l.borrowerName(loan.BorrowerID); name != loan.BorrowerID {
		v.BorrowerName = name
	}
	return v
}

func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*LoanView, error) {
	unlock := l.locks.Lock(keylock.LoanKey(id.String()))
	defer unlock()

	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.view(*loan, l.clock.Now()), nil
}

// ListLoans returns loans in creation order, optionally only those in the
// given status.
func (l *Ledger) ListLoans(ctx context.Context, status *models.LoanStatus) ([]*LoanView, error) {
	all, err := l.storage.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	out := make([]*LoanView, 0, len(all))
	for _, loan := range all {
		v := l.view(*loan, now)
		if status != nil && v.Status != *status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// OverdueLoans lists unpaid loans past their due date, most overdue first.
func (l *Ledger) OverdueLoans(ctx context.Context) ([]*LoanView, error) {
	overdue := models.LoanStatusOverdue
	out, err := l.ListLoans(ctx, &overdue)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(*out[j].DueDate)
	})
	return out, nil
}

// ListPayments holds the loan lock so the list never trails a payment that
// is mid-commit.
func (l *Ledger) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentRecord, error) {
	unlock := l.locks.Lock(keylock.LoanKey(loanID.String()))
	defer unlock()
	return l.storage.ListPayments(ctx, loanID)
}

// GetAccount returns the account including its full transaction log.
func (l *Ledger) GetAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error) {
	unlock := l.locks.Lock(keylock.AccountKey(id.String()))
	defer unlock()
	return l.storage.GetAccount(ctx, id)
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]*models.BankAccount, error) {
	return l.storage.ListAccounts(ctx)
}

type TransactionPage struct {
	Transactions []models.LedgerTransaction `json:"transactions"`
	Credits      money.Money                `json:"total_credits"`
	Debits       money.Money                `json:"total_debits"`
}

func (l *Ledger) ListTransactions(ctx context.Context, accountID uuid.UUID, f accounts.Filter) (*TransactionPage, error) {
	acct, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	txs := accounts.Select(acct.Transactions, f)
	credits, debits := accounts.Totals(acct.Currency, txs)
	return &TransactionPage{Transactions: txs, Credits: credits, Debits: debits}, nil
}

func (l *Ledger) BalanceAsOf(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (money.Money, error) {
	acct, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	return accounts.BalanceAsOf(acct, cutoff)
}

// VerifyAccount replays the account log and reports any running-balance
// mismatch as models.ErrCorruptLedger.
func (l *Ledger) VerifyAccount(ctx context.Context, accountID uuid.UUID) error {
	acct, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return accounts.Verify(acct)
}

// PortfolioTotals aggregates the loan book for one currency.
type PortfolioTotals struct {
	Disbursed   money.Money `json:"total_disbursed"`
	Repayable   money.Money `json:"total_repayable"`
	Collected   money.Money `json:"total_collected"`
	Outstanding money.Money `json:"total_outstanding"`
}

type Portfolio struct {
	Counts map[models.LoanStatus]int   `json:"counts"`
	Totals map[string]*PortfolioTotals `json:"totals"`
	AsOf   time.Time                   `json:"as_of"`
}

// Portfolio summarises every disbursed loan. Pending loans are counted but
// contribute nothing to the money totals.
func (l *Ledger) Portfolio(ctx context.Context) (*Portfolio, error) {
	views, err := l.ListLoans(ctx, nil)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		Counts: map[models.LoanStatus]int{
			models.LoanStatusPending:   0,
			models.LoanStatusActive:    0,
			models.LoanStatusOverdue:   0,
			models.LoanStatusCompleted: 0,
		},
		Totals: make(map[string]*PortfolioTotals),
		AsOf:   l.clock.Now(),
	}
	for _, v := range views {
		p.Counts[v.Status]++
		if v.Status == models.LoanStatusPending {
			continue
		}

		cur := v.Principal.Currency()
		t, ok := p.Totals[cur]
		if !ok {
			zero, err := money.Zero(cur)
			if err != nil {
				return nil, err
			}
			t = &PortfolioTotals{Disbursed: zero, Repayable: zero, Collected: zero, Outstanding: zero}
			p.Totals[cur] = t
		}
		for _, step := range []struct {
			into   *money.Money
			amount money.Money
		}{
			{&t.Disbursed, v.Principal},
			{&t.Repayable, v.TotalRepayable},
			{&t.Collected, v.PaidAmount},
			{&t.Outstanding, v.Outstanding},
		} {
			sum, err := step.into.Add(step.amount)
			if err != nil {
				return nil, err
			}
			*step.into = sum
		}
	}
	return p, nil
}

func accumulate(totals map[string]money.Money, amount money.Money) error {
	cur := amount.Currency()
	sum, ok := totals[cur]
	if !ok {
		totals[cur] = amount
		return nil
	}
	next, err := sum.Add(amount)
	if err != nil {
		return err
	}
	totals[cur] = next
	return nil
}

func containsFold(needle string, haystack ...string) bool {
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// PaymentView is a payment with its loan's borrower attached.
type PaymentView struct {
	models.PaymentRecord
	BorrowerID   string `json:"borrower_id"`
	BorrowerName string `json:"borrower_name,omitempty"`
}

type PaymentsPage struct {
	Payments  []PaymentView          `json:"payments"`
	Collected map[string]money.Money `json:"total_collected"`
}

// Payments lists repayments across every loan, newest first. A non-empty
// search keeps payments whose borrower, loan id, payment id or reference
// contains it, ignoring case. Collected sums the matches per currency.
func (l *Ledger) Payments(ctx context.Context, search string) (*PaymentsPage, error) {
	all, err := l.storage.ListLoans(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	page := &PaymentsPage{Payments: []PaymentView{}, Collected: make(map[string]money.Money)}
	for _, loan := range all {
		records, err := l.ListPayments(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		name := l.borrowerName(loan.BorrowerID)
		for _, r := range records {
			if needle != "" && !containsFold(needle, name, loan.BorrowerID, loan.ID.String(), r.ID.String(), r.Reference) {
				continue
			}
			v := PaymentView{PaymentRecord: *r, BorrowerID: loan.BorrowerID}
			if name != loan.BorrowerID {
				v.BorrowerName = name
			}
			page.Payments = append(page.Payments, v)
			if err := accumulate(page.Collected, r.Amount); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(page.Payments, func(i, j int) bool {
		return page.Payments[i].Timestamp.After(page.Payments[j].Timestamp)
	})
	return page, nil
}

// BorrowerSummary is one borrower's standing across their loans. Borrowed
// counts disbursed principal only.
type BorrowerSummary struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name,omitempty"`
	Phone         string                 `json:"phone,omitempty"`
	TotalLoans    int                    `json:"total_loans"`
	ActiveLoans   int                    `json:"active_loans"`
	TotalBorrowed map[string]money.Money `json:"total_borrowed"`
	TotalRepaid   map[string]money.Money `json:"total_repaid"`
}

// Borrowers summarises every borrower that holds a loan, plus any the
// directory lists without one. search filters on id or name. Results are
// sorted by id.
func (l *Ledger) Borrowers(ctx context.Context, search string) ([]*BorrowerSummary, error) {
	views, err := l.ListLoans(ctx, nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*BorrowerSummary)
	get := func(id string) *BorrowerSummary {
		s, ok := byID[id]
		if !ok {
			s = &BorrowerSummary{ID: id, TotalBorrowed: make(map[string]money.Money), TotalRepaid: make(map[string]money.Money)}
			if l.borrowers != nil {
				if b, found := l.borrowers.Lookup(id); found {
					s.Name, s.Phone = b.Name, b.Phone
				}
			}
			byID[id] = s
		}
		return s
	}

	if lister, ok := l.borrowers.(borrowers.Lister); ok {
		for _, b := range lister.All() {
			get(b.ID)
		}
	}
	for _, v := range views {
		s := get(v.BorrowerID)
		s.TotalLoans++
		switch v.Status {
		case models.LoanStatusActive, models.LoanStatusOverdue:
			s.ActiveLoans++
		}
		if v.DisbursedAt == nil {
			continue
		}
		if err := accumulate(s.TotalBorrowed, v.Principal); err != nil {
			return nil, err
		}
		if v.PaidAmount.IsPositive() {
			if err := accumulate(s.TotalRepaid, v.PaidAmount); err != nil {
				return nil, err
			}
		}
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]*BorrowerSummary, 0, len(byID))
	for _, s := range byID {
		if needle != "" && !containsFold(needle, s.ID, s.Name) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MonthPoint is one calendar month (UTC) of lending activity.
type MonthPoint struct {
	Month     string      `json:"month"` // 2006-01
	Disbursed money.Money `json:"disbursed"`
	Collected money.Money `json:"collected"`
}

const maxPerformanceMonths = 24

// MonthlyPerformance returns disbursed principal against collected
// repayments in currency for the last months calendar months, oldest first.
// The current month is included.
func (l *Ledger) MonthlyPerformance(ctx context.Context, currency string, months int) ([]MonthPoint, error) {
	if months < 1 || months > maxPerformanceMonths {
		return nil, fmt.Errorf("%w: months must be between 1 and %d", models.ErrValidation, maxPerformanceMonths)
	}
	zero, err := money.Zero(currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	now := l.clock.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	points := make([]MonthPoint, months)
	for i := range points {
		points[i] = MonthPoint{Month: first.AddDate(0, i, 0).Format("2006-01"), Disbursed: zero, Collected: zero}
	}
	bucket := func(at time.Time) int {
		at = at.UTC()
		if at.Before(first) {
			return -1
		}
		i := (at.Year()-first.Year())*12 + int(at.Month()-first.Month())
		if i >= months {
			return -1
		}
		return i
	}

	all, err := l.storage.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	for _, loan := range all {
		if loan.Principal.Currency() != currency {
			continue
		}
		if loan.DisbursedAt != nil {
			if i := bucket(*loan.DisbursedAt); i >= 0 {
				if points[i].Disbursed, err = points[i].Disbursed.Add(loan.Principal); err != nil {
					return nil, err
				}
			}
		}
		records, err := l.ListPayments(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if i := bucket(r.Timestamp); i >= 0 {
				if points[i].Collected, err = points[i].Collected.Add(r.Amount); err != nil {
					return nil, err
				}
			}
		}
	}
	return points, nil
}
