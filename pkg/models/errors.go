package models

import (
	"errors"

	"github.com/mcclellann/loanledger/pkg/money"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrOverpayment       = errors.New("payment exceeds outstanding balance")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrCorruptLedger     = errors.New("ledger replay mismatch")
)

// Kind maps an error to a stable name callers can show or switch on.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrCorruptLedger):
		return "corrupt_ledger"
	case errors.Is(err, ErrValidation),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrUnknownCurrency),
		errors.Is(err, money.ErrNegativeResult):
		return "validation"
	}
	return "internal"
}
