package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/borrowers"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/journal"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/loans"
	"github.com/mcclellann/loanledger/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage // Keep a reference to the storage to close it
	events   journal.Sink  // nil disables GET /events
	validate *validator.Validate
	currency string
}

func NewServer(l *ledger.Ledger, s store.Storage, events journal.Sink, currency string) *Server {
	return &Server{
		ledger:   l,
		storage:  s,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		currency: currency,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/disbursements", s.disburseHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")

	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts", s.openAccountHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/transactions", s.recordTransactionHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/transactions/{txid}/reversal", s.reverseTransactionHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/balance", s.balanceHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/verify", s.verifyHandler).Methods("GET")

	router.HandleFunc("/payments", s.searchPaymentsHandler).Methods("GET")
	router.HandleFunc("/borrowers", s.listBorrowersHandler).Methods("GET")

	router.HandleFunc("/portfolio", s.portfolioHandler).Methods("GET")
	router.HandleFunc("/portfolio/monthly", s.monthlyPerformanceHandler).Methods("GET")
	router.HandleFunc("/events", s.eventsHandler).Methods("GET")

	return router
}

// scanOverdue logs loans that have slipped past their due date. Status is
// derived on read, so the scan only reports.
func (s *Server) scanOverdue(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportOverdue(ctx)
		}
	}
}

func (s *Server) reportOverdue(ctx context.Context) {
	overdue, err := s.ledger.OverdueLoans(ctx)
	if err != nil {
		slog.Error("overdue scan failed", "error", err)
		return
	}
	for _, l := range overdue {
		slog.Warn("loan overdue",
			"loan_id", l.ID,
			"borrower_id", l.BorrowerID,
			"due_date", l.DueDate,
			"outstanding", l.Outstanding.String(),
		)
	}
	slog.Info("overdue scan complete", "overdue", len(overdue))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqliteStore, err := store.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()

	sink, err := journal.NewSQLiteSink(sqliteStore.DB())
	if err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	worker := journal.NewWorker(sink, cfg.Jobs.JournalBuffer)
	worker.Start()
	defer worker.Shutdown()

	opts := []ledger.Option{
		ledger.WithJournal(worker),
		ledger.WithPolicy(loans.Policy{MinPrincipal: cfg.Ledger.MinPrincipal, MaxRate: cfg.Ledger.MaxRate}),
	}
	var seed *borrowers.Seed
	if cfg.Ledger.SeedFile != "" {
		if seed, err = borrowers.LoadSeed(cfg.Ledger.SeedFile); err != nil {
			return err
		}
		opts = append(opts, ledger.WithBorrowers(borrowers.NewStatic(seed.Borrowers...)))
		slog.Info("borrower directory loaded", "path", cfg.Ledger.SeedFile, "borrowers", len(seed.Borrowers))
	}

	l := ledger.NewLedger(sqliteStore, opts...)
	if seed != nil {
		if _, err := l.OpenSeedAccounts(ctx, seed.Accounts, cfg.Ledger.Currency); err != nil {
			return err
		}
	}

	server := NewServer(l, sqliteStore, sink, cfg.Ledger.Currency)
	go server.scanOverdue(ctx, cfg.Jobs.OverdueScanInterval)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "app", cfg.App.Name, "addr", httpServer.Addr, "db", cfg.DB.Path)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
