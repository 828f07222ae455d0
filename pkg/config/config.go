package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"loanledger"`
		Port     int    `envconfig:"PORT" default:"8080"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	}

	DB struct {
		Path string `envconfig:"DB_PATH" default:"loanledger.db"`
	}

	Ledger struct {
		Currency     string          `envconfig:"DEFAULT_CURRENCY" default:"KES"`
		MinPrincipal decimal.Decimal `envconfig:"LOAN_MIN_PRINCIPAL" default:"10000"`
		MaxRate      decimal.Decimal `envconfig:"LOAN_MAX_RATE" default:"50"`
		SeedFile     string          `envconfig:"SEED_FILE" default:""`
	}

	Jobs struct {
		OverdueScanInterval time.Duration `envconfig:"OVERDUE_SCAN_INTERVAL" default:"1h"`
		JournalBuffer       int           `envconfig:"JOURNAL_BUFFER" default:"256"`
	}
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if !cfg.Ledger.MaxRate.IsPositive() {
		return nil, fmt.Errorf("LOAN_MAX_RATE must be positive, got %s", cfg.Ledger.MaxRate)
	}
	if cfg.Ledger.MinPrincipal.IsNegative() {
		return nil, fmt.Errorf("LOAN_MIN_PRINCIPAL must not be negative, got %s", cfg.Ledger.MinPrincipal)
	}

	return &cfg, nil
}
