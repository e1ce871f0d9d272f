package parser

import (
	"fmt"
	"sort"
	"time"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// Row is one statement line normalized into double-entry shape.
// Account references are dotted paths ("餐飲.早餐"), optionally
// carrying an A-/L-/I-/E- type prefix on the first segment. Empty
// paths mean the parser could not tell and the mapping step decides.
type Row struct {
	Index       int                    `json:"index"`
	Date        time.Time              `json:"date"`
	Description string                 `json:"description"`
	Amount      money.Amount           `json:"amount"`
	Type        ledger.TransactionType `json:"type"`
	FromPath    string                 `json:"from_path"`
	ToPath      string                 `json:"to_path"`
	InvoiceNo   string                 `json:"invoice_no,omitempty"`
}

// RowError is a line the parser rejected; the import carries on and
// reports it.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Index, e.Reason)
}

// BillingPeriod is the statement month a credit-card file covers
type BillingPeriod struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Parser turns one raw statement file into rows. Implementations are
// deterministic: the same bytes always produce the same rows, which is
// what lets a preview be re-derived at execute time.
type Parser interface {
	BankCode() string
	BankName() string
	// EmailQuery is the mailbox search that finds this bank's
	// statement mail; empty for file-only sources.
	EmailQuery() string
	// PasswordHint tells the user how the bank derives the attachment
	// password; empty when statements are not protected.
	PasswordHint() string
	Parse(data []byte) ([]Row, []RowError, error)
	// DetectBillingPeriod reads the statement period from the file or
	// its subject line; nil when the source has no period concept.
	DetectBillingPeriod(data []byte, subject string) *BillingPeriod
}

// Registry holds the known parsers keyed by bank code
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry from the given parsers
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.BankCode()] = p
	}
	return r
}

// Get returns the parser for a bank code
func (r *Registry) Get(bankCode string) (Parser, error) {
	p, ok := r.parsers[bankCode]
	if !ok {
		return nil, fmt.Errorf("no parser registered for bank code %q", bankCode)
	}
	return p, nil
}

// List returns all registered parsers ordered by bank code
func (r *Registry) List() []Parser {
	out := make([]Parser, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankCode() < out[j].BankCode() })
	return out
}

// DefaultRegistry wires every built-in parser
func DefaultRegistry() *Registry {
	all := []Parser{NewMYAB()}
	for _, cfg := range builtinCardConfigs {
		all = append(all, NewCreditCard(cfg))
	}
	all = append(all, NewBankRecord())
	return NewRegistry(all...)
}

// parseFlexibleDate accepts the date shapes the sources produce
func parseFlexibleDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006/01/02", "2006-01-02", "01/02/2006", "2006/1/2"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
