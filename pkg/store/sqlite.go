package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file and makes sure the schema exists.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// A single connection keeps the PRAGMAs in force and avoids SQLITE_BUSY inside Apply.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database ready", "path", dataSourceName)
	return s, nil
}

// DB exposes the handle so other components (the journal) can share it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// initSchema creates the tables if they don't already exist. Amounts are
// integer minor units; rates are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		principal INTEGER NOT NULL,
		rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		total_repayable INTEGER NOT NULL,
		paid_amount INTEGER NOT NULL DEFAULT 0,
		funding_account_id TEXT,
		created_at DATETIME NOT NULL,
		disbursed_at DATETIME,
		last_payment_at DATETIME,
		CHECK (paid_amount >= 0 AND paid_amount <= total_repayable),
		CHECK (total_repayable >= principal)
	);
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bank_name TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		opening_balance INTEGER NOT NULL,
		current_balance INTEGER NOT NULL CHECK (current_balance >= 0),
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS account_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		direction TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		running_balance INTEGER NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT 'manual',
		related_loan_id TEXT,
		reverses_id TEXT,
		timestamp DATETIME NOT NULL,
		UNIQUE (account_id, seq),
		FOREIGN KEY(account_id) REFERENCES accounts(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		method TEXT NOT NULL,
		account_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(transaction_id) REFERENCES account_transactions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func toMoney(minor int64, currency string) (money.Money, error) {
	m, err := money.New(minor, currency)
	if err != nil {
		return money.Money{}, fmt.Errorf("stored amount: %w", err)
	}
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

const loanColumns = `id, borrower_id, currency, principal, rate, term_months, total_repayable, paid_amount, funding_account_id, created_at, disbursed_at, last_payment_at`

func scanLoan(sc scanner) (*models.Loan, error) {
	var (
		loan                       models.Loan
		currency                   string
		principal, total, paid     int64
		funding                    uuid.NullUUID
		disbursedAt, lastPaymentAt sql.NullTime
	)
	if err := sc.Scan(&loan.ID, &loan.BorrowerID, &currency, &principal, &loan.Rate, &loan.TermMonths, &total, &paid, &funding, &loan.CreatedAt, &disbursedAt, &lastPaymentAt); err != nil {
		return nil, err
	}

	var err error
	if loan.Principal, err = toMoney(principal, currency); err != nil {
		return nil, err
	}
	if loan.TotalRepayable, err = toMoney(total, currency); err != nil {
		return nil, err
	}
	if loan.PaidAmount, err = toMoney(paid, currency); err != nil {
		return nil, err
	}
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.FundingAccountID = uuidPtr(funding)
	loan.DisbursedAt = timePtr(disbursedAt)
	loan.LastPaymentAt = timePtr(lastPaymentAt)
	return &loan, nil
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.BorrowerID, loan.Principal.Currency(), loan.Principal.Minor(), loan.Rate, loan.TermMonths,
		loan.TotalRepayable.Minor(), loan.PaidAmount.Minor(), nullUUID(loan.FundingAccountID), loan.CreatedAt.UTC(),
		nullTime(loan.DisbursedAt), nullTime(loan.LastPaymentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: loan %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoans retrieves all loans in creation order.
func (s *SQLiteStore) ListLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// ListPayments retrieves the payments of a loan in the order they were recorded.
func (s *SQLiteStore) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentRecord, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.loan_id, p.amount, l.currency, p.method, p.account_id, p.transaction_id, p.reference, p.notes, p.timestamp
		FROM payments p JOIN loans l ON l.id = p.loan_id
		WHERE p.loan_id = ? ORDER BY p.rowid`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.PaymentRecord
	for rows.Next() {
		var (
			p        models.PaymentRecord
			amount   int64
			currency string
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &amount, &currency, &p.Method, &p.SettledToAccountID, &p.TransactionID, &p.Reference, &p.Notes, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		if p.Amount, err = toMoney(amount, currency); err != nil {
			return nil, err
		}
		p.Timestamp = p.Timestamp.UTC()
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

// CreateAccount inserts an account. Accounts start with an empty log.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acct *models.BankAccount) error {
	if len(acct.Transactions) > 0 {
		return fmt.Errorf("%w: new account %s already has transactions", models.ErrValidation, acct.ID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, bank_name, account_number, currency, opening_balance, current_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID.String(), acct.Name, acct.BankName, acct.AccountNumber, acct.Currency,
		acct.OpeningBalance.Minor(), acct.CurrentBalance.Minor(), acct.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, name, bank_name, account_number, currency, opening_balance, current_balance, created_at`

func scanAccount(sc scanner) (*models.BankAccount, error) {
	var (
		acct             models.BankAccount
		opening, current int64
	)
	if err := sc.Scan(&acct.ID, &acct.Name, &acct.BankName, &acct.AccountNumber, &acct.Currency, &opening, &current, &acct.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if acct.OpeningBalance, err = toMoney(opening, acct.Currency); err != nil {
		return nil, err
	}
	if acct.CurrentBalance, err = toMoney(current, acct.Currency); err != nil {
		return nil, err
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	return &acct, nil
}

// GetAccount retrieves an account together with its full transaction log.
func (s *SQLiteStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct.Transactions, err = s.loadTransactions(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// ListAccounts retrieves every account with its log.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*models.BankAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var accts []*models.BankAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accts = append(accts, acct)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	// Logs are loaded after the cursor is closed; the pool has a single connection.
	for _, acct := range accts {
		if acct.Transactions, err = s.loadTransactions(ctx, acct); err != nil {
			return nil, err
		}
	}
	return accts, nil
}

func (s *SQLiteStore) loadTransactions(ctx context.Context, acct *models.BankAccount) ([]models.LedgerTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, seq, direction, amount, running_balance, reference, description, origin, related_loan_id, reverses_id, timestamp
		FROM account_transactions WHERE account_id = ? ORDER BY seq ASC`, acct.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for account %s: %w", acct.ID, err)
	}
	defer rows.Close()

	var txs []models.LedgerTransaction
	for rows.Next() {
		var (
			t                 models.LedgerTransaction
			amount, running   int64
			related, reverses uuid.NullUUID
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Seq, &t.Direction, &amount, &running, &t.Reference, &t.Description, &t.Origin, &related, &reverses, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		if t.Amount, err = toMoney(amount, acct.Currency); err != nil {
			return nil, err
		}
		if t.RunningBalanceAfter, err = toMoney(running, acct.Currency); err != nil {
			return nil, err
		}
		t.RelatedLoanID = uuidPtr(related)
		t.ReversesID = uuidPtr(reverses)
		t.Timestamp = t.Timestamp.UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for account transactions: %w", err)
	}
	return txs, nil
}

// Apply writes a changeset inside one database transaction.
func (s *SQLiteStore) Apply(ctx context.Context, cs Changeset) error {
	if (cs.Account == nil) != (cs.Transaction == nil) {
		return fmt.Errorf("%w: account and transaction must be written together", models.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if cs.Loan != nil {
		l := cs.Loan
		result, err := tx.ExecContext(ctx,
			`UPDATE loans SET paid_amount = ?, funding_account_id = ?, disbursed_at = ?, last_payment_at = ? WHERE id = ?`,
			l.PaidAmount.Minor(), nullUUID(l.FundingAccountID), nullTime(l.DisbursedAt), nullTime(l.LastPaymentAt), l.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: loan %s", models.ErrNotFound, l.ID)
		}
	}

	if cs.Transaction != nil {
		t := cs.Transaction
		var count int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM account_transactions WHERE account_id = ?`, t.AccountID.String()).Scan(&count); err != nil {
			return fmt.Errorf("failed to count account transactions: %w", err)
		}
		if t.Seq != count+1 {
			return fmt.Errorf("%w: account %s expects seq %d, got %d", ErrConflict, t.AccountID, count+1, t.Seq)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_transactions (id, account_id, seq, direction, amount, running_balance, reference, description, origin, related_loan_id, reverses_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), t.AccountID.String(), t.Seq, t.Direction, t.Amount.Minor(), t.RunningBalanceAfter.Minor(),
			t.Reference, t.Description, t.Origin, nullUUID(t.RelatedLoanID), nullUUID(t.ReversesID), t.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert account transaction: %w", err)
		}

		result, err := tx.ExecContext(ctx, `UPDATE accounts SET current_balance = ? WHERE id = ?`, cs.Account.CurrentBalance.Minor(), cs.Account.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update account balance: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: account %s", models.ErrNotFound, cs.Account.ID)
		}
	}

	if cs.Payment != nil {
		p := cs.Payment
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payments (id, loan_id, amount, method, account_id, transaction_id, reference, notes, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID.String(), p.LoanID.String(), p.Amount.Minor(), p.Method, p.SettledToAccountID.String(),
			p.TransactionID.String(), p.Reference, p.Notes, p.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
