package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/accounts"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func statusFor(err error) (int, string) {
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "conflict"
	}
	kind := models.Kind(err)
	switch kind {
	case "not_found":
		return http.StatusNotFound, kind
	case "validation":
		return http.StatusBadRequest, kind
	case "invalid_state":
		return http.StatusConflict, kind
	case "overpayment", "insufficient_funds":
		return http.StatusUnprocessableEntity, kind
	}
	return http.StatusInternalServerError, kind
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", models.ErrValidation, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", models.ErrValidation, name)
	}
	return id, nil
}

func (s *Server) amount(major, currency string) (money.Money, error) {
	if currency == "" {
		currency = s.currency
	}
	d, err := decimal.NewFromString(major)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: amount %q", models.ErrValidation, major)
	}
	return money.FromMajor(d, currency)
}

// parseTime accepts RFC 3339 timestamps or plain dates (start of day UTC).
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", models.ErrValidation, v)
	}
	return t, nil
}

type createLoanRequest struct {
	BorrowerID string `json:"borrower_id" validate:"required,max=64"`
	Principal  string `json:"principal" validate:"required,numeric"`
	Currency   string `json:"currency" validate:"omitempty,iso4217"`
	Rate       string `json:"rate" validate:"required,numeric"`
	TermMonths int    `json:"term_months" validate:"required,min=1,max=360"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	principal, err := s.amount(req.Principal, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: rate %q", models.ErrValidation, req.Rate))
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), ledger.NewLoanParams{
		BorrowerID: req.BorrowerID,
		Principal:  principal,
		Rate:       rate,
		TermMonths: req.TermMonths,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var status *models.LoanStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.LoanStatus(v)
		switch st {
		case models.LoanStatusPending, models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusCompleted:
		default:
			writeError(w, r, fmt.Errorf("%w: unknown status %q", models.ErrValidation, v))
			return
		}
		status = &st
	}

	loans, err := s.ledger.ListLoans(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

type disbursementRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
}

func (s *Server) disburseHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req disbursementRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.RecordDisbursement(r.Context(), loanID, uuid.MustParse(req.AccountID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type paymentRequest struct {
	AccountID  string     `json:"account_id" validate:"required,uuid"`
	Amount     string     `json:"amount" validate:"required,numeric"`
	Currency   string     `json:"currency" validate:"omitempty,iso4217"`
	Method     string     `json:"method" validate:"required,oneof=cash bank_transfer mobile_money"`
	Reference  string     `json:"reference" validate:"omitempty,min=3,max=20"`
	Notes      string     `json:"notes" validate:"max=200"`
	ReceivedAt *time.Time `json:"received_at"`
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req paymentRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.amount(req.Amount, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.RecordPayment(r.Context(), ledger.RecordPaymentParams{
		LoanID:     loanID,
		AccountID:  uuid.MustParse(req.AccountID),
		Amount:     amount,
		Method:     models.PaymentMethod(req.Method),
		Reference:  req.Reference,
		Notes:      req.Notes,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := s.ledger.ListPayments(r.Context(), loanID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

type openAccountRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	BankName       string `json:"bank_name" validate:"max=100"`
	AccountNumber  string `json:"account_number" validate:"max=50"`
	Currency       string `json:"currency" validate:"omitempty,iso4217"`
	OpeningBalance string `json:"opening_balance" validate:"required,numeric"`
}

func (s *Server) openAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opening, err := s.amount(req.OpeningBalance, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	acct, err := s.ledger.OpenAccount(r.Context(), accounts.OpenParams{
		Name:           req.Name,
		BankName:       req.BankName,
		AccountNumber:  req.AccountNumber,
		OpeningBalance: opening,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func transactionFilter(r *http.Request) (accounts.Filter, error) {
	q := r.URL.Query()
	f := accounts.Filter{Search: q.Get("q")}

	if v := q.Get("direction"); v != "" {
		d := models.Direction(v)
		if !d.Valid() {
			return f, fmt.Errorf("%w: unknown direction %q", models.ErrValidation, v)
		}
		f.Direction = &d
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	if v := q.Get("loan_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("%w: invalid loan_id", models.ErrValidation)
		}
		f.LoanID = &id
	}
	return f, nil
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := transactionFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.ledger.ListTransactions(r.Context(), id, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type transactionRequest struct {
	Direction   string     `json:"direction" validate:"required,oneof=credit debit"`
	Amount      string     `json:"amount" validate:"required,numeric"`
	Currency    string     `json:"currency" validate:"omitempty,iso4217"`
	Reference   string     `json:"reference" validate:"required,min=3,max=20"`
	Description string     `json:"description" validate:"required,min=3,max=100"`
	LoanID      string     `json:"loan_id" validate:"omitempty,uuid"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (s *Server) recordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.amount(req.Amount, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry := ledger.ManualEntry{
		Direction:   models.Direction(req.Direction),
		Amount:      amount,
		Reference:   req.Reference,
		Description: req.Description,
		OccurredAt:  req.OccurredAt,
	}
	if req.LoanID != "" {
		loanID := uuid.MustParse(req.LoanID)
		entry.LoanID = &loanID
	}

	tx, err := s.ledger.RecordTransaction(r.Context(), id, entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

type reversalRequest struct {
	Reference string `json:"reference" validate:"omitempty,min=3,max=20"`
}

func (s *Server) reverseTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathUUID(r, "txid")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reversalRequest
	if r.ContentLength != 0 {
		if err := s.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	tx, err := s.ledger.ReverseTransaction(r.Context(), id, txID, req.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		if asOf, err = parseTime(v); err != nil {
			writeError(w, r, err)
			return
		}
	}

	balance, err := s.ledger.BalanceAsOf(r.Context(), id, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"as_of":      asOf,
		"balance":    balance,
	})
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = s.ledger.VerifyAccount(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": true})
	case errors.Is(err, models.ErrCorruptLedger):
		slog.Error("account failed verification", "account_id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": false, "error": err.Error()})
	default:
		writeError(w, r, err)
	}
}

func (s *Server) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.Portfolio(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

const defaultPerformanceMonths = 6

func (s *Server) monthlyPerformanceHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	months := defaultPerformanceMonths
	if v := q.Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: months must be a number", models.ErrValidation))
			return
		}
		months = n
	}
	currency := s.currency
	if v := q.Get("currency"); v != "" {
		currency = strings.ToUpper(v)
	}

	points, err := s.ledger.MonthlyPerformance(r.Context(), currency, months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) searchPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := s.ledger.Payments(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) listBorrowersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.Borrowers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, r, fmt.Errorf("%w: journal disabled", models.ErrNotFound))
		return
	}
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		writeError(w, r, fmt.Errorf("%w: type is required", models.ErrValidation))
		return
	}
	events, err := s.events.ByType(r.Context(), eventType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
