// Package borrowers resolves borrower references. The engine only checks that
// a borrower exists; names are for display.
package borrowers

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Borrower struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone,omitempty" json:"phone,omitempty"`
}

// Directory is the lookup the ledger consumes.
type Directory interface {
	Lookup(id string) (Borrower, bool)
}

// Lister is implemented by directories that can enumerate their borrowers.
type Lister interface {
	All() []Borrower
}

var _ Lister = (*Static)(nil)

// Static is an in-memory directory, typically loaded from a seed file.
type Static struct {
	byID map[string]Borrower
}

func NewStatic(list ...Borrower) *Static {
	s := &Static{byID: make(map[string]Borrower, len(list))}
	for _, b := range list {
		s.byID[b.ID] = b
	}
	return s
}

func (s *Static) Lookup(id string) (Borrower, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// All returns borrowers sorted by id.
func (s *Static) All() []Borrower {
	out := make([]Borrower, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccountSeed describes a bank account to open on first start.
type AccountSeed struct {
	Name           string `yaml:"name"`
	BankName       string `yaml:"bank_name"`
	AccountNumber  string `yaml:"account_number"`
	Currency       string `yaml:"currency"`
	OpeningBalance string `yaml:"opening_balance"` // Major units, e.g. "4745000.00"
}

// Seed is the layout of the seed file.
type Seed struct {
	Borrowers []Borrower    `yaml:"borrowers"`
	Accounts  []AccountSeed `yaml:"accounts"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	seen := make(map[string]bool, len(seed.Borrowers))
	for _, b := range seed.Borrowers {
		if b.ID == "" {
			return nil, fmt.Errorf("seed borrower %q has no id", b.Name)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate seed borrower %s", b.ID)
		}
		seen[b.ID] = true
	}
	return &seed, nil
}
