package ledger

import (
	"sort"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/pkg/money"
)

// DirectBalances folds a transaction log into per-account direct-posted
// balances. Each transaction contributes its amount to both legs: the
// to side as a debit, the from side as a credit, signed by the
// account's normal side. Transactions dated after asOf are skipped when
// asOf is non-zero.
func DirectBalances(transactions []*Transaction, accounts []*Account) map[uuid.UUID]money.Amount {
	typeOf := make(map[uuid.UUID]AccountType, len(accounts))
	balances := make(map[uuid.UUID]money.Amount, len(accounts))
	for _, a := range accounts {
		typeOf[a.ID] = a.Type
		balances[a.ID] = money.Zero
	}

	for _, t := range transactions {
		if toType, ok := typeOf[t.ToAccountID]; ok {
			balances[t.ToAccountID] = balances[t.ToAccountID].Add(Contribution(toType, true, t.Amount))
		}
		if fromType, ok := typeOf[t.FromAccountID]; ok {
			balances[t.FromAccountID] = balances[t.FromAccountID].Add(Contribution(fromType, false, t.Amount))
		}
	}
	return balances
}

// RollupBalances returns aggregated balances: each account's direct
// balance plus the recursive sum of its children. The aggregate is
// always computed, never stored.
func RollupBalances(accounts []*Account, direct map[uuid.UUID]money.Amount) map[uuid.UUID]money.Amount {
	children := ChildIndex(accounts)

	rolled := make(map[uuid.UUID]money.Amount, len(accounts))
	var visit func(id uuid.UUID) money.Amount
	visit = func(id uuid.UUID) money.Amount {
		if v, ok := rolled[id]; ok {
			return v
		}
		total := direct[id]
		for _, child := range children[id] {
			total = total.Add(visit(child.ID))
		}
		rolled[id] = total
		return total
	}

	for _, a := range accounts {
		visit(a.ID)
	}
	return rolled
}

// ChildIndex groups accounts by parent id, ordered by sort_order. Root
// accounts appear under uuid.Nil.
func ChildIndex(accounts []*Account) map[uuid.UUID][]*Account {
	children := make(map[uuid.UUID][]*Account)
	for _, a := range accounts {
		parent := uuid.Nil
		if a.ParentID != nil {
			parent = *a.ParentID
		}
		children[parent] = append(children[parent], a)
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool {
			return siblings[i].SortOrder < siblings[j].SortOrder
		})
	}
	return children
}

// SubtreeHeight returns the height of the subtree rooted at id: 1 for a
// leaf, 2 when it has children, and so on.
func SubtreeHeight(id uuid.UUID, children map[uuid.UUID][]*Account) int {
	height := 1
	for _, child := range children[id] {
		if h := 1 + SubtreeHeight(child.ID, children); h > height {
			height = h
		}
	}
	return height
}
