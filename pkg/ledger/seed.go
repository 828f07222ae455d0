package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcclellann/loanledger/pkg/accounts"
	"github.com/mcclellann/loanledger/pkg/borrowers"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
)

// OpenSeedAccounts opens the seeded accounts that are not stored yet, matched
// by name and account number, so restarting against the same database is a
// no-op. It returns the number of accounts opened.
func (l *Ledger) OpenSeedAccounts(ctx context.Context, seeds []borrowers.AccountSeed, defaultCurrency string) (int, error) {
	existing, err := l.storage.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.Name+"/"+a.AccountNumber] = true
	}

	opened := 0
	for _, s := range seeds {
		if seen[s.Name+"/"+s.AccountNumber] {
			continue
		}
		cur := s.Currency
		if cur == "" {
			cur = defaultCurrency
		}
		major := decimal.Zero
		if s.OpeningBalance != "" {
			if major, err = decimal.NewFromString(s.OpeningBalance); err != nil {
				return opened, fmt.Errorf("seed account %q: opening balance: %w", s.Name, err)
			}
		}
		balance, err := money.FromMajor(major, cur)
		if err != nil {
			return opened, fmt.Errorf("seed account %q: %w", s.Name, err)
		}
		if _, err := l.OpenAccount(ctx, accounts.OpenParams{
			Name:           s.Name,
			BankName:       s.BankName,
			AccountNumber:  s.AccountNumber,
			OpeningBalance: balance,
		}); err != nil {
			return opened, fmt.Errorf("seed account %q: %w", s.Name, err)
		}
		opened++
	}
	if opened > 0 {
		slog.Info("seed accounts opened", "count", opened)
	}
	return opened, nil
}
