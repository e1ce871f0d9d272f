package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

// Repository defines the persistence operations the reporting engine needs
type Repository interface {
	GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error)
	ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error)
	ListTransactionsUpTo(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error)
	ListTransactionsBetween(ctx context.Context, ledgerID uuid.UUID, start, end time.Time) ([]*ledger.Transaction, error)
}

// Node is one line of a report tree. Amounts roll up from children.
type Node struct {
	AccountID  *uuid.UUID   `json:"account_id,omitempty"`
	Name       string       `json:"name"`
	Amount     money.Amount `json:"amount"`
	DepthLevel int          `json:"depth_level"`
	Children   []*Node      `json:"children,omitempty"`
}

// BalanceSheet is a point-in-time statement of financial position. The
// accounting identity total_assets == total_liabilities + total_equity
// holds by construction: equity is synthesized as the difference.
type BalanceSheet struct {
	AsOf             time.Time    `json:"as_of"`
	Assets           []*Node      `json:"assets"`
	Liabilities      []*Node      `json:"liabilities"`
	Equity           []*Node      `json:"equity"`
	TotalAssets      money.Amount `json:"total_assets"`
	TotalLiabilities money.Amount `json:"total_liabilities"`
	TotalEquity      money.Amount `json:"total_equity"`
}

// IncomeStatement covers an inclusive date range
type IncomeStatement struct {
	StartDate     time.Time    `json:"start_date"`
	EndDate       time.Time    `json:"end_date"`
	Income        []*Node      `json:"income"`
	Expenses      []*Node      `json:"expenses"`
	TotalIncome   money.Amount `json:"total_income"`
	TotalExpenses money.Amount `json:"total_expenses"`
	NetIncome     money.Amount `json:"net_income"`
}

// Service is the reporting engine
type Service struct {
	repo Repository
}

// NewService creates a new reporting service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// BalanceSheet traverses every transaction dated at or before asOf and
// aggregates per account. Zero-balance accounts stay in the trees so
// callers can filter.
func (s *Service) BalanceSheet(ctx context.Context, userID, ledgerID uuid.UUID, asOf time.Time) (*BalanceSheet, error) {
	accounts, transactions, err := s.load(ctx, userID, ledgerID, asOf)
	if err != nil {
		return nil, err
	}

	direct := ledger.DirectBalances(transactions, accounts)
	rolled := ledger.RollupBalances(accounts, direct)
	children := ledger.ChildIndex(accounts)

	// The system Equity account is posted as an asset but reported on
	// the equity side; keeping it out of the asset tree preserves the
	// accounting identity.
	assetRoots := reportRoots(children, ledger.AccountTypeAsset, excludeSystemEquity)
	liabilityRoots := reportRoots(children, ledger.AccountTypeLiability, nil)

	assets := buildNodes(assetRoots, children, rolled, 1)
	liabilities := buildNodes(liabilityRoots, children, rolled, 1)

	totalAssets := sumNodes(assets)
	totalLiabilities := sumNodes(liabilities)
	totalEquity := totalAssets.Sub(totalLiabilities)

	equity := []*Node{{
		Name:       "Equity",
		Amount:     totalEquity,
		DepthLevel: 1,
	}}

	return &BalanceSheet{
		AsOf:             asOf,
		Assets:           assets,
		Liabilities:      liabilities,
		Equity:           equity,
		TotalAssets:      totalAssets,
		TotalLiabilities: totalLiabilities,
		TotalEquity:      totalEquity,
	}, nil
}

// IncomeStatement projects INCOME and EXPENSE activity over the
// inclusive [start, end] range.
func (s *Service) IncomeStatement(ctx context.Context, userID, ledgerID uuid.UUID, start, end time.Time) (*IncomeStatement, error) {
	if end.Before(start) {
		return nil, apperrors.Validation("end date must not be before start date")
	}

	l, err := s.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperrors.NotFound("ledger")
	}

	accounts, err := s.activeAccounts(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactionsBetween(ctx, ledgerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	direct := ledger.DirectBalances(transactions, accounts)
	rolled := ledger.RollupBalances(accounts, direct)
	children := ledger.ChildIndex(accounts)

	income := buildNodes(reportRoots(children, ledger.AccountTypeIncome, nil), children, rolled, 1)
	expenses := buildNodes(reportRoots(children, ledger.AccountTypeExpense, nil), children, rolled, 1)

	totalIncome := sumNodes(income)
	totalExpenses := sumNodes(expenses)

	return &IncomeStatement{
		StartDate:     start,
		EndDate:       end,
		Income:        income,
		Expenses:      expenses,
		TotalIncome:   totalIncome,
		TotalExpenses: totalExpenses,
		NetIncome:     totalIncome.Sub(totalExpenses),
	}, nil
}

func (s *Service) load(ctx context.Context, userID, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Account, []*ledger.Transaction, error) {
	l, err := s.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return nil, nil, err
	}
	if l.UserID != userID {
		return nil, nil, apperrors.NotFound("ledger")
	}

	accounts, err := s.activeAccounts(ctx, ledgerID)
	if err != nil {
		return nil, nil, err
	}
	transactions, err := s.repo.ListTransactionsUpTo(ctx, ledgerID, asOf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return accounts, transactions, nil
}

func (s *Service) activeAccounts(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	accounts, err := s.repo.ListAccountsByLedger(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	active := accounts[:0:0]
	for _, a := range accounts {
		if !a.IsArchived {
			active = append(active, a)
		}
	}
	return active, nil
}

func excludeSystemEquity(a *ledger.Account) bool {
	return a.IsSystem && a.Name == ledger.SystemAccountEquity
}

// reportRoots selects root accounts of one type, in sort order
func reportRoots(children map[uuid.UUID][]*ledger.Account, accountType ledger.AccountType, exclude func(*ledger.Account) bool) []*ledger.Account {
	var roots []*ledger.Account
	for _, a := range children[uuid.Nil] {
		if a.Type != accountType {
			continue
		}
		if exclude != nil && exclude(a) {
			continue
		}
		roots = append(roots, a)
	}
	return roots
}

// buildNodes converts accounts into report nodes, recursing through
// children already ordered by sort_order.
func buildNodes(accounts []*ledger.Account, children map[uuid.UUID][]*ledger.Account, balances map[uuid.UUID]money.Amount, depth int) []*Node {
	var nodes []*Node
	for _, a := range accounts {
		id := a.ID
		node := &Node{
			AccountID:  &id,
			Name:       a.Name,
			Amount:     balances[a.ID],
			DepthLevel: depth,
			Children:   buildNodes(children[a.ID], children, balances, depth+1),
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func sumNodes(nodes []*Node) money.Amount {
	total := money.Zero
	for _, n := range nodes {
		total = total.Add(n.Amount)
	}
	return total
}
