package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

// MemoryStore keeps entities in id-keyed maps. It backs tests and
// single-process deployments that snapshot elsewhere.
type MemoryStore struct {
	mu        sync.RWMutex
	loans     map[uuid.UUID]models.Loan
	loanOrder []uuid.UUID
	payments  map[uuid.UUID][]models.PaymentRecord
	accounts  map[uuid.UUID]*models.BankAccount
	acctOrder []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:    make(map[uuid.UUID]models.Loan),
		payments: make(map[uuid.UUID][]models.PaymentRecord),
		accounts: make(map[uuid.UUID]*models.BankAccount),
	}
}

func (m *MemoryStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; ok {
		return fmt.Errorf("%w: loan %s already exists", models.ErrValidation, loan.ID)
	}
	m.loans[loan.ID] = *loan
	m.loanOrder = append(m.loanOrder, loan.ID)
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: loan %s", models.ErrNotFound, id)
	}
	return &loan, nil
}

func (m *MemoryStore) ListLoans(_ context.Context) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Loan, 0, len(m.loanOrder))
	for _, id := range m.loanOrder {
		loan := m.loans[id]
		out = append(out, &loan)
	}
	return out, nil
}

func (m *MemoryStore) ListPayments(_ context.Context, loanID uuid.UUID) ([]*models.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.loans[loanID]; !ok {
		return nil, fmt.Errorf("%w: loan %s", models.ErrNotFound, loanID)
	}
	out := make([]*models.PaymentRecord, 0, len(m.payments[loanID]))
	for _, p := range m.payments[loanID] {
		out = append(out, &p)
	}
	return out, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, acct *models.BankAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", models.ErrValidation, acct.ID)
	}
	m.accounts[acct.ID] = acct.Clone()
	m.acctOrder = append(m.acctOrder, acct.ID)
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.BankAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, id)
	}
	return acct.Clone(), nil
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]*models.BankAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.BankAccount, 0, len(m.acctOrder))
	for _, id := range m.acctOrder {
		out = append(out, m.accounts[id].Clone())
	}
	return out, nil
}

// Apply checks every part of the changeset before touching any map.
func (m *MemoryStore) Apply(_ context.Context, cs Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs.Loan != nil {
		if _, ok := m.loans[cs.Loan.ID]; !ok {
			return fmt.Errorf("%w: loan %s", models.ErrNotFound, cs.Loan.ID)
		}
	}
	if cs.Payment != nil {
		if _, ok := m.loans[cs.Payment.LoanID]; !ok {
			return fmt.Errorf("%w: loan %s", models.ErrNotFound, cs.Payment.LoanID)
		}
	}
	if (cs.Account == nil) != (cs.Transaction == nil) {
		return fmt.Errorf("%w: account and transaction must be written together", models.ErrValidation)
	}
	var acct *models.BankAccount
	if cs.Account != nil {
		var ok bool
		if acct, ok = m.accounts[cs.Account.ID]; !ok {
			return fmt.Errorf("%w: account %s", models.ErrNotFound, cs.Account.ID)
		}
		if cs.Transaction.AccountID != acct.ID || cs.Transaction.Seq != int64(len(acct.Transactions))+1 {
			return fmt.Errorf("%w: account %s expects seq %d, got %d", ErrConflict, acct.ID, len(acct.Transactions)+1, cs.Transaction.Seq)
		}
	}

	if cs.Loan != nil {
		m.loans[cs.Loan.ID] = *cs.Loan
	}
	if cs.Payment != nil {
		m.payments[cs.Payment.LoanID] = append(m.payments[cs.Payment.LoanID], *cs.Payment)
	}
	if acct != nil {
		acct.Transactions = append(acct.Transactions, *cs.Transaction)
		acct.CurrentBalance = cs.Account.CurrentBalance
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
