package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/accounts"
	"github.com/mcclellann/loanledger/pkg/borrowers"
	"github.com/mcclellann/loanledger/pkg/clock"
	"github.com/mcclellann/loanledger/pkg/journal"
	"github.com/mcclellann/loanledger/pkg/keylock"
	"github.com/mcclellann/loanledger/pkg/loans"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger coordinates loan books and bank accounts so that every disbursement
// and repayment lands on both sides or on neither.
type Ledger struct {
	storage   store.Storage
	clock     clock.Clock
	borrowers borrowers.Directory
	locks     *keylock.Locker
	journal   journal.Publisher
	policy    loans.Policy
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithBorrowers makes CreateLoan reject borrowers the directory doesn't know.
func WithBorrowers(d borrowers.Directory) Option {
	return func(l *Ledger) { l.borrowers = d }
}

func WithJournal(p journal.Publisher) Option {
	return func(l *Ledger) { l.journal = p }
}

func WithPolicy(p loans.Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		clock:   clock.System,
		locks:   keylock.New(),
		journal: journal.Discard{},
		policy:  loans.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) publish(eventType string, data any, meta ...string) {
	opts := []journal.EventOption{journal.WithData(data), journal.WithTime(l.clock.Now())}
	for i := 0; i+1 < len(meta); i += 2 {
		opts = append(opts, journal.WithMeta(meta[i], meta[i+1]))
	}
	l.journal.Publish(journal.NewEvent(eventType, opts...))
}

type NewLoanParams struct {
	BorrowerID string
	Principal  money.Money
	Rate       decimal.Decimal
	TermMonths int
}

// CreateLoan books a pending loan. Nothing moves until it is disbursed.
func (l *Ledger) CreateLoan(ctx context.Context, p NewLoanParams) (*LoanView, error) {
	if l.borrowers != nil {
		if _, ok := l.borrowers.Lookup(p.BorrowerID); !ok {
			return nil, fmt.Errorf("%w: borrower %s", models.ErrNotFound, p.BorrowerID)
		}
	}

	now := l.clock.Now()
	loan, err := loans.New(loans.NewParams{
		BorrowerID: p.BorrowerID,
		Principal:  p.Principal,
		Rate:       p.Rate,
		TermMonths: p.TermMonths,
	}, l.policy, now)
	if err != nil {
		return nil, err
	}

	if err := l.storage.CreateLoan(ctx, &loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	slog.Info("loan created", "loan_id", loan.ID, "borrower_id", loan.BorrowerID, "principal", loan.Principal.String(), "total_repayable", loan.TotalRepayable.String())
	l.publish(journal.TypeLoanCreated, loan, "loan_id", loan.ID.String())
	return l.view(loan, now), nil
}

// OpenAccount registers a bank account with its opening balance.
func (l *Ledger) OpenAccount(ctx context.Context, p accounts.OpenParams) (*models.BankAccount, error) {
	acct, err := accounts.Open(p, l.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	slog.Info("account opened", "account_id", acct.ID, "name", acct.Name, "opening_balance", acct.OpeningBalance.String())
	l.publish(journal.TypeAccountOpened, acct, "account_id", acct.ID.String())
	return acct, nil
}

// receivedAt resolves an optional caller-supplied timestamp; future times are
// rejected.
func (l *Ledger) receivedAt(at *time.Time, now time.Time) (time.Time, error) {
	if at == nil || at.IsZero() {
		return now, nil
	}
	if at.After(now) {
		return time.Time{}, fmt.Errorf("%w: timestamp %s is in the future", models.ErrValidation, at.Format(time.RFC3339))
	}
	return at.UTC(), nil
}

func (l *Ledger) borrowerName(id string) string {
	if l.borrowers == nil {
		return id
	}
	if b, ok := l.borrowers.Lookup(id); ok && b.Name != "" {
		return b.Name
	}
	return id
}

func (l *Ledger) lockLoanAndAccount(loanID, accountID uuid.UUID) func() {
	return l.locks.LockAll(keylock.LoanKey(loanID.String()), keylock.AccountKey(accountID.String()))
}
