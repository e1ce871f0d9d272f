// Package suggest turns the account paths and bare descriptions a
// statement parser produces into a concrete account mapping: which
// existing accounts rows post to and which accounts the import must
// create first.
package suggest

import (
	"strings"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
)

// typePrefixes maps the single-letter path prefixes to account types
var typePrefixes = map[string]ledger.AccountType{
	"A-": ledger.AccountTypeAsset,
	"L-": ledger.AccountTypeLiability,
	"I-": ledger.AccountTypeIncome,
	"E-": ledger.AccountTypeExpense,
}

// PathSpec is a parsed dotted account path
type PathSpec struct {
	Type     ledger.AccountType `json:"type"`
	Segments []string           `json:"segments"`
}

// FullName joins the segments back into a dotted path
func (p PathSpec) FullName() string {
	return strings.Join(p.Segments, ".")
}

// ParsePath splits a dotted path, reading and stripping an optional
// type prefix from the first segment. Paths deeper than the account
// tree allows fold their tail into the leaf name, so
// "食.外食.午餐.便當" becomes a leaf "午餐.便當" under 食.外食.
func ParsePath(path string, fallback ledger.AccountType) PathSpec {
	path = strings.TrimSpace(path)
	accountType := fallback
	for prefix, t := range typePrefixes {
		if strings.HasPrefix(path, prefix) {
			accountType = t
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}

	raw := strings.Split(path, ".")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) > ledger.MaxAccountDepth {
		head := segments[:ledger.MaxAccountDepth-1]
		tail := strings.Join(segments[ledger.MaxAccountDepth-1:], ".")
		segments = append(head, tail)
	}
	return PathSpec{Type: accountType, Segments: segments}
}

// Target resolves one source path: either an existing account or the
// chain of accounts to create. CreateFrom indexes the first segment
// missing from the ledger; segments before it already exist.
type Target struct {
	Spec          PathSpec   `json:"spec"`
	ExistingID    *uuid.UUID `json:"existing_id,omitempty"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	CreateFrom    int        `json:"create_from"`
	NeedsCreation bool       `json:"needs_creation"`
}

// Index looks paths up against a ledger's existing accounts
type Index struct {
	byPath map[string]*ledger.Account
	byLeaf map[string][]*ledger.Account
}

// NewIndex builds the lookup from a ledger's accounts. Archived
// accounts are excluded so imports never post to a retired name.
func NewIndex(accounts []*ledger.Account) *Index {
	byID := make(map[uuid.UUID]*ledger.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	idx := &Index{
		byPath: make(map[string]*ledger.Account),
		byLeaf: make(map[string][]*ledger.Account),
	}
	for _, a := range accounts {
		if a.IsArchived {
			continue
		}
		idx.byPath[pathKey(a, byID)] = a
		idx.byLeaf[a.Name] = append(idx.byLeaf[a.Name], a)
	}
	return idx
}

func pathKey(a *ledger.Account, byID map[uuid.UUID]*ledger.Account) string {
	segments := []string{a.Name}
	for cur := a; cur.ParentID != nil; {
		parent, ok := byID[*cur.ParentID]
		if !ok {
			break
		}
		segments = append([]string{parent.Name}, segments...)
		cur = parent
	}
	return strings.Join(segments, ".")
}

// Resolve matches a parsed path against the ledger. Full path match
// wins; otherwise a unique leaf-name match of the same type; otherwise
// the path is marked for creation, reusing the longest existing
// ancestor chain.
func (idx *Index) Resolve(spec PathSpec) Target {
	t := Target{Spec: spec}
	if len(spec.Segments) == 0 {
		return t
	}

	if a, ok := idx.byPath[spec.FullName()]; ok && a.Type == spec.Type {
		t.ExistingID = &a.ID
		return t
	}

	leaf := spec.Segments[len(spec.Segments)-1]
	if candidates := idx.byLeaf[leaf]; len(candidates) == 1 && candidates[0].Type == spec.Type {
		t.ExistingID = &candidates[0].ID
		return t
	}

	t.NeedsCreation = true
	for i := len(spec.Segments) - 1; i > 0; i-- {
		prefix := strings.Join(spec.Segments[:i], ".")
		if a, ok := idx.byPath[prefix]; ok && a.Type == spec.Type {
			t.ParentID = &a.ID
			t.CreateFrom = i
			return t
		}
	}
	t.CreateFrom = 0
	return t
}

// Rule maps a description keyword to an account path
type Rule struct {
	Keyword string
	Path    string
}

// defaultRules are the keyword heuristics applied to card and bank
// rows that arrive without a category.
var defaultRules = []Rule{
	{Keyword: "全聯", Path: "E-食.超市"},
	{Keyword: "家樂福", Path: "E-食.超市"},
	{Keyword: "7-ELEVEN", Path: "E-食.便利商店"},
	{Keyword: "全家", Path: "E-食.便利商店"},
	{Keyword: "UBER EATS", Path: "E-食.外送"},
	{Keyword: "FOODPANDA", Path: "E-食.外送"},
	{Keyword: "中油", Path: "E-行.加油"},
	{Keyword: "台灣大車隊", Path: "E-行.計程車"},
	{Keyword: "悠遊卡", Path: "E-行.大眾運輸"},
	{Keyword: "NETFLIX", Path: "E-娛樂.訂閱"},
	{Keyword: "SPOTIFY", Path: "E-娛樂.訂閱"},
	{Keyword: "台電", Path: "E-住.水電"},
	{Keyword: "自來水", Path: "E-住.水電"},
	{Keyword: "薪資", Path: "I-薪水"},
	{Keyword: "利息", Path: "I-利息"},
}

// FallbackExpensePath catches rows no rule matches
const FallbackExpensePath = "E-未分類"

// FallbackIncomePath catches uncategorized income rows
const FallbackIncomePath = "I-未分類"

// Suggester proposes category paths for uncategorized rows
type Suggester struct {
	rules []Rule
}

// NewSuggester creates a suggester with the built-in rules plus any
// user-defined extras, extras first so they win.
func NewSuggester(extra ...Rule) *Suggester {
	return &Suggester{rules: append(append([]Rule{}, extra...), defaultRules...)}
}

// Categorize picks a path for a description. The fallback depends on
// which leg is missing.
func (s *Suggester) Categorize(description string, txType ledger.TransactionType) string {
	upper := strings.ToUpper(description)
	for _, r := range s.rules {
		if strings.Contains(upper, strings.ToUpper(r.Keyword)) {
			return r.Path
		}
	}
	if txType == ledger.TransactionTypeIncome {
		return FallbackIncomePath
	}
	return FallbackExpensePath
}
