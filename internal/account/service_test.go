package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/account"
	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

type fakeUnitOfWork struct{}

func (fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (fakeUnitOfWork) Commit(ctx context.Context) error                   { return nil }
func (fakeUnitOfWork) Rollback(ctx context.Context) error                 { return nil }

type fakeRecorder struct {
	logs []*audit.Log
}

func (r *fakeRecorder) Record(ctx context.Context, log *audit.Log) error {
	r.logs = append(r.logs, log)
	return nil
}

type fakeRepo struct {
	ledgers      map[uuid.UUID]*ledger.Ledger
	accounts     map[uuid.UUID]*ledger.Account
	transactions []*ledger.Transaction
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		ledgers:  make(map[uuid.UUID]*ledger.Ledger),
		accounts: make(map[uuid.UUID]*ledger.Account),
	}
}

func (r *fakeRepo) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	l, ok := r.ledgers[id]
	if !ok {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (r *fakeRepo) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account")
	}
	return a, nil
}

func (r *fakeRepo) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for _, a := range r.accounts {
		if a.LedgerID == ledgerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindActiveAccountByName(ctx context.Context, ledgerID uuid.UUID, name string) (*ledger.Account, error) {
	for _, a := range r.accounts {
		if a.LedgerID == ledgerID && a.Name == name && !a.IsArchived {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	max := 0
	for _, a := range r.accounts {
		if a.LedgerID != ledgerID {
			continue
		}
		sameParent := (a.ParentID == nil) == (parentID == nil)
		if a.ParentID != nil && parentID != nil {
			sameParent = *a.ParentID == *parentID
		}
		if sameParent && a.SortOrder > max {
			max = a.SortOrder
		}
	}
	return max, nil
}

func (r *fakeRepo) CreateAccount(ctx context.Context, a *ledger.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeRepo) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeRepo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	delete(r.accounts, id)
	return nil
}

func (r *fakeRepo) CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	for _, a := range r.accounts {
		if a.ParentID != nil && *a.ParentID == accountID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CountTransactionsByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	for _, t := range r.transactions {
		if t.FromAccountID == accountID || t.ToAccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CountTransactionsBetween(ctx context.Context, a, b uuid.UUID) (int64, error) {
	var n int64
	for _, t := range r.transactions {
		if (t.FromAccountID == a && t.ToAccountID == b) || (t.FromAccountID == b && t.ToAccountID == a) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ReassignTransactions(ctx context.Context, source, target uuid.UUID) (int64, error) {
	var n int64
	for _, t := range r.transactions {
		touched := false
		if t.FromAccountID == source {
			t.FromAccountID = target
			touched = true
		}
		if t.ToAccountID == source {
			t.ToAccountID = target
			touched = true
		}
		if touched {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ListTransactionsUpTo(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, t := range r.transactions {
		if t.LedgerID != ledgerID {
			continue
		}
		if !asOf.IsZero() && t.Date.After(asOf) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type fixture struct {
	repo     *fakeRepo
	svc      *account.Service
	userID   uuid.UUID
	ledgerID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	userID := uuid.New()
	ledgerID := uuid.New()
	repo.ledgers[ledgerID] = &ledger.Ledger{ID: ledgerID, UserID: userID, Name: "Book"}
	return &fixture{
		repo:     repo,
		svc:      account.NewService(repo, fakeUnitOfWork{}, &fakeRecorder{}),
		userID:   userID,
		ledgerID: ledgerID,
	}
}

func (f *fixture) addAccount(name string, typ ledger.AccountType, parentID *uuid.UUID, depth int) *ledger.Account {
	a := &ledger.Account{
		ID:       uuid.New(),
		LedgerID: f.ledgerID,
		Name:     name,
		Type:     typ,
		ParentID: parentID,
		Depth:    depth,
	}
	f.repo.accounts[a.ID] = a
	return a
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("root account", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Food",
			Type:     ledger.AccountTypeExpense,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, a.Depth)
		assert.Nil(t, a.ParentID)
		assert.Equal(t, ledger.SortOrderGap, a.SortOrder)
	})

	t.Run("child inherits parent depth plus one", func(t *testing.T) {
		f := newFixture(t)
		parent := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		a, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Groceries",
			Type:     ledger.AccountTypeExpense,
			ParentID: &parent.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, a.Depth)
	})

	t.Run("depth ceiling", func(t *testing.T) {
		f := newFixture(t)
		root := f.addAccount("A", ledger.AccountTypeExpense, nil, 1)
		mid := f.addAccount("B", ledger.AccountTypeExpense, &root.ID, 2)
		leaf := f.addAccount("C", ledger.AccountTypeExpense, &mid.ID, 3)

		_, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "D",
			Type:     ledger.AccountTypeExpense,
			ParentID: &leaf.ID,
		})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("duplicate active name conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		_, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Food",
			Type:     ledger.AccountTypeExpense,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("archived name can be reused", func(t *testing.T) {
		f := newFixture(t)
		old := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		old.IsArchived = true
		_, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Food",
			Type:     ledger.AccountTypeExpense,
		})
		assert.NoError(t, err)
	})

	t.Run("child type must match parent", func(t *testing.T) {
		f := newFixture(t)
		parent := f.addAccount("Bank", ledger.AccountTypeAsset, nil, 1)
		_, err := f.svc.Create(ctx, f.userID, account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Rent",
			Type:     ledger.AccountTypeExpense,
			ParentID: &parent.ID,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("foreign ledger is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, uuid.New(), account.CreateInput{
			LedgerID: f.ledgerID,
			Name:     "Food",
			Type:     ledger.AccountTypeExpense,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestService_Update_Reparent(t *testing.T) {
	ctx := context.Background()

	t.Run("moves subtree and rewrites depths", func(t *testing.T) {
		f := newFixture(t)
		oldRoot := f.addAccount("Old", ledger.AccountTypeExpense, nil, 1)
		moved := f.addAccount("Moved", ledger.AccountTypeExpense, &oldRoot.ID, 2)
		child := f.addAccount("Child", ledger.AccountTypeExpense, &moved.ID, 3)
		newRoot := f.addAccount("New", ledger.AccountTypeExpense, nil, 1)

		got, err := f.svc.Update(ctx, f.userID, moved.ID, account.UpdateInput{NewParentID: &newRoot.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, got.Depth)
		assert.Equal(t, newRoot.ID, *got.ParentID)
		assert.Equal(t, 3, f.repo.accounts[child.ID].Depth)
	})

	t.Run("move that would exceed depth ceiling", func(t *testing.T) {
		f := newFixture(t)
		top := f.addAccount("Top", ledger.AccountTypeExpense, nil, 1)
		mid := f.addAccount("Mid", ledger.AccountTypeExpense, &top.ID, 2)
		tall := f.addAccount("Tall", ledger.AccountTypeExpense, nil, 1)
		f.addAccount("TallChild", ledger.AccountTypeExpense, &tall.ID, 2)

		// Subtree of height 2 under a depth-2 node would hit depth 4.
		_, err := f.svc.Update(ctx, f.userID, tall.ID, account.UpdateInput{NewParentID: &mid.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("cannot move under own subtree", func(t *testing.T) {
		f := newFixture(t)
		root := f.addAccount("Root", ledger.AccountTypeExpense, nil, 1)
		child := f.addAccount("Child", ledger.AccountTypeExpense, &root.ID, 2)

		_, err := f.svc.Update(ctx, f.userID, root.ID, account.UpdateInput{NewParentID: &child.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("move to root", func(t *testing.T) {
		f := newFixture(t)
		root := f.addAccount("Root", ledger.AccountTypeExpense, nil, 1)
		child := f.addAccount("Child", ledger.AccountTypeExpense, &root.ID, 2)

		got, err := f.svc.Update(ctx, f.userID, child.ID, account.UpdateInput{MoveToRoot: true})
		require.NoError(t, err)
		assert.Nil(t, got.ParentID)
		assert.Equal(t, 1, got.Depth)
	})

	t.Run("system account refuses edits", func(t *testing.T) {
		f := newFixture(t)
		cash := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
		cash.IsSystem = true
		name := "Wallet"
		_, err := f.svc.Update(ctx, f.userID, cash.ID, account.UpdateInput{Name: &name})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbiddenSystem))
	})
}

func TestService_Archive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)

	got, err := f.svc.Archive(ctx, f.userID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	require.NotNil(t, got.ArchivedAt)

	// Idempotent.
	again, err := f.svc.Archive(ctx, f.userID, a.ID)
	require.NoError(t, err)
	assert.True(t, again.IsArchived)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("clean leaf deletes outright", func(t *testing.T) {
		f := newFixture(t)
		a := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		require.NoError(t, f.svc.Delete(ctx, f.userID, a.ID, nil))
		assert.NotContains(t, f.repo.accounts, a.ID)
	})

	t.Run("system account refuses deletion", func(t *testing.T) {
		f := newFixture(t)
		cash := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
		cash.IsSystem = true
		err := f.svc.Delete(ctx, f.userID, cash.ID, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbiddenSystem))
	})

	t.Run("account with children conflicts", func(t *testing.T) {
		f := newFixture(t)
		root := f.addAccount("Root", ledger.AccountTypeExpense, nil, 1)
		f.addAccount("Child", ledger.AccountTypeExpense, &root.ID, 2)
		err := f.svc.Delete(ctx, f.userID, root.ID, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("transactions require a replacement", func(t *testing.T) {
		f := newFixture(t)
		a := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		from := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
		f.repo.transactions = append(f.repo.transactions, &ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID, Date: time.Now(),
			Amount: money.MustParse("10.00"), FromAccountID: from.ID, ToAccountID: a.ID,
			Type: ledger.TransactionTypeExpense,
		})

		err := f.svc.Delete(ctx, f.userID, a.ID, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("reassigns transactions to the replacement", func(t *testing.T) {
		f := newFixture(t)
		rec := &fakeRecorder{}
		f.svc = account.NewService(f.repo, fakeUnitOfWork{}, rec)

		doomed := f.addAccount("Old food", ledger.AccountTypeExpense, nil, 1)
		replacement := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		from := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
		tx := &ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID, Date: time.Now(),
			Amount: money.MustParse("10.00"), FromAccountID: from.ID, ToAccountID: doomed.ID,
			Type: ledger.TransactionTypeExpense,
		}
		f.repo.transactions = append(f.repo.transactions, tx)

		require.NoError(t, f.svc.Delete(ctx, f.userID, doomed.ID, &replacement.ID))

		assert.Equal(t, replacement.ID, tx.ToAccountID)
		assert.NotContains(t, f.repo.accounts, doomed.ID)
		require.Len(t, rec.logs, 1)
		assert.Equal(t, audit.ActionReassign, rec.logs[0].Action)
	})

	t.Run("replacement on the other leg conflicts", func(t *testing.T) {
		f := newFixture(t)
		doomed := f.addAccount("Wallet", ledger.AccountTypeAsset, nil, 1)
		replacement := f.addAccount("Bank", ledger.AccountTypeAsset, nil, 1)
		tx := &ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID, Date: time.Now(),
			Amount: money.MustParse("200.00"), FromAccountID: doomed.ID, ToAccountID: replacement.ID,
			Type: ledger.TransactionTypeTransfer,
		}
		f.repo.transactions = append(f.repo.transactions, tx)

		err := f.svc.Delete(ctx, f.userID, doomed.ID, &replacement.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
		// Nothing was rewritten or deleted.
		assert.Equal(t, doomed.ID, tx.FromAccountID)
		assert.Contains(t, f.repo.accounts, doomed.ID)
	})

	t.Run("replacement must match type", func(t *testing.T) {
		f := newFixture(t)
		doomed := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
		wrongType := f.addAccount("Bank", ledger.AccountTypeAsset, nil, 1)
		from := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
		f.repo.transactions = append(f.repo.transactions, &ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID, Date: time.Now(),
			Amount: money.MustParse("10.00"), FromAccountID: from.ID, ToAccountID: doomed.ID,
			Type: ledger.TransactionTypeExpense,
		})

		err := f.svc.Delete(ctx, f.userID, doomed.ID, &wrongType.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestService_PreviewDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.addAccount("Root", ledger.AccountTypeExpense, nil, 1)
	f.addAccount("Child", ledger.AccountTypeExpense, &root.ID, 2)

	preview, err := f.svc.PreviewDelete(ctx, f.userID, root.ID)
	require.NoError(t, err)
	assert.False(t, preview.CanDelete)
	assert.True(t, preview.HasChildren)
	assert.EqualValues(t, 1, preview.ChildCount)
	assert.False(t, preview.HasTransactions)
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAccount("Active", ledger.AccountTypeExpense, nil, 1)
	archived := f.addAccount("Gone", ledger.AccountTypeExpense, nil, 1)
	archived.IsArchived = true

	active, err := f.svc.List(ctx, f.userID, f.ledgerID, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := f.svc.List(ctx, f.userID, f.ledgerID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_LedgerBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cash := f.addAccount("Cash", ledger.AccountTypeAsset, nil, 1)
	food := f.addAccount("Food", ledger.AccountTypeExpense, nil, 1)
	groceries := f.addAccount("Groceries", ledger.AccountTypeExpense, &food.ID, 2)

	f.repo.transactions = append(f.repo.transactions,
		&ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID,
			Date:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Amount: money.MustParse("100.00"), FromAccountID: cash.ID, ToAccountID: groceries.ID,
			Type: ledger.TransactionTypeExpense,
		},
		&ledger.Transaction{
			ID: uuid.New(), LedgerID: f.ledgerID,
			Date:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			Amount: money.MustParse("50.00"), FromAccountID: cash.ID, ToAccountID: groceries.ID,
			Type: ledger.TransactionTypeExpense,
		},
	)

	t.Run("aggregates parent from children", func(t *testing.T) {
		balances, err := f.svc.LedgerBalances(ctx, f.userID, f.ledgerID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, "150.00", balances[food.ID].String())
		assert.Equal(t, "150.00", balances[groceries.ID].String())
		assert.Equal(t, "-150.00", balances[cash.ID].String())
	})

	t.Run("as of cuts off later transactions", func(t *testing.T) {
		balances, err := f.svc.LedgerBalances(ctx, f.userID, f.ledgerID, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, "100.00", balances[groceries.ID].String())
	})
}
