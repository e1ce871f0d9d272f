package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

type fakeUnitOfWork struct {
	begun      int
	committed  int
	rolledBack int
}

func (u *fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	u.begun++
	return ctx, nil
}
func (u *fakeUnitOfWork) Commit(ctx context.Context) error   { u.committed++; return nil }
func (u *fakeUnitOfWork) Rollback(ctx context.Context) error { u.rolledBack++; return nil }

type fakeRecorder struct {
	logs []*audit.Log
}

func (r *fakeRecorder) Record(ctx context.Context, log *audit.Log) error {
	r.logs = append(r.logs, log)
	return nil
}

type fakeLedgerRepo struct {
	ledgers      map[uuid.UUID]*ledger.Ledger
	accounts     map[uuid.UUID]*ledger.Account
	transactions map[uuid.UUID]*ledger.Transaction
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		ledgers:      make(map[uuid.UUID]*ledger.Ledger),
		accounts:     make(map[uuid.UUID]*ledger.Account),
		transactions: make(map[uuid.UUID]*ledger.Transaction),
	}
}

func (r *fakeLedgerRepo) CreateLedger(ctx context.Context, l *ledger.Ledger) error {
	r.ledgers[l.ID] = l
	return nil
}

func (r *fakeLedgerRepo) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	l, ok := r.ledgers[id]
	if !ok {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (r *fakeLedgerRepo) ListLedgersByUser(ctx context.Context, userID uuid.UUID) ([]*ledger.Ledger, error) {
	var out []*ledger.Ledger
	for _, l := range r.ledgers {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeLedgerRepo) UpdateLedger(ctx context.Context, l *ledger.Ledger) error {
	r.ledgers[l.ID] = l
	return nil
}

func (r *fakeLedgerRepo) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	delete(r.ledgers, id)
	return nil
}

func (r *fakeLedgerRepo) CreateAccount(ctx context.Context, a *ledger.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeLedgerRepo) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for _, a := range r.accounts {
		if a.LedgerID == ledgerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeLedgerRepo) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	r.transactions[t.ID] = t
	return nil
}

func (r *fakeLedgerRepo) CountTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var n int64
	for _, t := range r.transactions {
		if t.LedgerID == ledgerID {
			n++
		}
	}
	return n, nil
}

func (r *fakeLedgerRepo) DeleteTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var n int64
	for id, t := range r.transactions {
		if t.LedgerID == ledgerID {
			delete(r.transactions, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeLedgerRepo) DeleteTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	return nil
}

func (r *fakeLedgerRepo) DeleteAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var n int64
	for id, a := range r.accounts {
		if a.LedgerID == ledgerID {
			delete(r.accounts, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeLedgerRepo) DeleteAuditLogsByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	return nil
}

func (r *fakeLedgerRepo) DeleteImportSessionsByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	return nil
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("materializes system accounts and opening transfer", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		uow := &fakeUnitOfWork{}
		rec := &fakeRecorder{}
		svc := ledger.NewService(repo, uow, rec)

		l, err := svc.Create(ctx, userID, "Household", money.MustParse("1000.00"))
		require.NoError(t, err)

		accounts, _ := repo.ListAccountsByLedger(ctx, l.ID)
		require.Len(t, accounts, 2)
		names := map[string]bool{}
		for _, a := range accounts {
			assert.True(t, a.IsSystem)
			assert.Equal(t, 1, a.Depth)
			names[a.Name] = true
		}
		assert.True(t, names[ledger.SystemAccountCash])
		assert.True(t, names[ledger.SystemAccountEquity])

		require.Len(t, repo.transactions, 1)
		for _, tx := range repo.transactions {
			assert.Equal(t, ledger.TransactionTypeTransfer, tx.Type)
			assert.True(t, tx.Amount.Equal(money.MustParse("1000.00")))
		}

		assert.Equal(t, 1, uow.committed)
		assert.Zero(t, uow.rolledBack)
		require.Len(t, rec.logs, 1)
		assert.Equal(t, audit.ActionCreate, rec.logs[0].Action)
	})

	t.Run("zero balance skips opening transfer", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		svc := ledger.NewService(repo, &fakeUnitOfWork{}, &fakeRecorder{})

		_, err := svc.Create(ctx, userID, "Empty", money.Zero)
		require.NoError(t, err)
		assert.Empty(t, repo.transactions)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		uow := &fakeUnitOfWork{}
		svc := ledger.NewService(repo, uow, &fakeRecorder{})

		_, err := svc.Create(ctx, userID, "", money.Zero)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		assert.Zero(t, uow.begun)
	})
}

func TestService_Get_Ownership(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	svc := ledger.NewService(repo, &fakeUnitOfWork{}, &fakeRecorder{})

	owner := uuid.New()
	l, err := svc.Create(ctx, owner, "Mine", money.Zero)
	require.NoError(t, err)

	t.Run("owner sees the ledger", func(t *testing.T) {
		got, err := svc.Get(ctx, l.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)
	})

	t.Run("foreign ledger reads as not found", func(t *testing.T) {
		_, err := svc.Get(ctx, l.ID, uuid.New())
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestService_UpdateName(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	rec := &fakeRecorder{}
	svc := ledger.NewService(repo, &fakeUnitOfWork{}, rec)

	owner := uuid.New()
	l, err := svc.Create(ctx, owner, "Before", money.Zero)
	require.NoError(t, err)

	updated, err := svc.UpdateName(ctx, l.ID, owner, "After")
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Name)

	_, err = svc.UpdateName(ctx, l.ID, owner, "")
	assert.Error(t, err)
}

func TestService_ClearTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	svc := ledger.NewService(repo, &fakeUnitOfWork{}, &fakeRecorder{})

	owner := uuid.New()
	l, err := svc.Create(ctx, owner, "Book", money.MustParse("500.00"))
	require.NoError(t, err)
	require.Len(t, repo.transactions, 1)

	require.NoError(t, svc.ClearTransactions(ctx, l.ID, owner))

	assert.Empty(t, repo.transactions)
	// Chart of accounts survives.
	accounts, _ := repo.ListAccountsByLedger(ctx, l.ID)
	assert.Len(t, accounts, 2)
}

func TestService_ClearAccounts(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	svc := ledger.NewService(repo, &fakeUnitOfWork{}, &fakeRecorder{})

	owner := uuid.New()
	l, err := svc.Create(ctx, owner, "Book", money.MustParse("500.00"))
	require.NoError(t, err)

	before, _ := repo.ListAccountsByLedger(ctx, l.ID)
	require.Len(t, before, 2)

	require.NoError(t, svc.ClearAccounts(ctx, l.ID, owner))

	assert.Empty(t, repo.transactions)
	after, _ := repo.ListAccountsByLedger(ctx, l.ID)
	require.Len(t, after, 2)
	// Fresh system accounts, not the original rows.
	for _, a := range after {
		for _, b := range before {
			assert.NotEqual(t, b.ID, a.ID)
		}
		assert.True(t, a.IsSystem)
	}
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	svc := ledger.NewService(repo, &fakeUnitOfWork{}, &fakeRecorder{})

	owner := uuid.New()
	l, err := svc.Create(ctx, owner, "Doomed", money.MustParse("100.00"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, l.ID, owner))

	assert.Empty(t, repo.ledgers)
	assert.Empty(t, repo.accounts)
	assert.Empty(t, repo.transactions)
}
