package recurring_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/recurring"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

type fakeUnitOfWork struct{}

func (fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (fakeUnitOfWork) Commit(ctx context.Context) error                   { return nil }
func (fakeUnitOfWork) Rollback(ctx context.Context) error                 { return nil }

type fakeRecorder struct{}

func (fakeRecorder) Record(ctx context.Context, log *audit.Log) error { return nil }

type fakeRepo struct {
	ledgers      map[uuid.UUID]*ledger.Ledger
	accounts     map[uuid.UUID]*ledger.Account
	templates    map[uuid.UUID]*recurring.Template
	plans        map[uuid.UUID]*recurring.InstallmentPlan
	transactions []*ledger.Transaction

	listErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		ledgers:   make(map[uuid.UUID]*ledger.Ledger),
		accounts:  make(map[uuid.UUID]*ledger.Account),
		templates: make(map[uuid.UUID]*recurring.Template),
		plans:     make(map[uuid.UUID]*recurring.InstallmentPlan),
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

func (r *fakeRepo) CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	for _, a := range r.accounts {
		if a.ParentID != nil && *a.ParentID == accountID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CreateTemplate(ctx context.Context, t *recurring.Template) error {
	r.templates[t.ID] = t
	return nil
}

func (r *fakeRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*recurring.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, apperrors.NotFound("recurring template")
	}
	return t, nil
}

func (r *fakeRepo) ListTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*recurring.Template, error) {
	var out []*recurring.Template
	for _, t := range r.templates {
		if t.LedgerID == ledgerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListOpenTemplates(ctx context.Context, asOf time.Time) ([]*recurring.Template, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*recurring.Template
	for _, t := range r.templates {
		if t.EndDate == nil || !t.EndDate.Before(asOf) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateTemplate(ctx context.Context, t *recurring.Template) error {
	r.templates[t.ID] = t
	return nil
}

func (r *fakeRepo) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	delete(r.templates, id)
	return nil
}

func (r *fakeRepo) CreatePlan(ctx context.Context, p *recurring.InstallmentPlan) error {
	r.plans[p.ID] = p
	return nil
}

func (r *fakeRepo) GetPlan(ctx context.Context, id uuid.UUID) (*recurring.InstallmentPlan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, apperrors.NotFound("installment plan")
	}
	return p, nil
}

func (r *fakeRepo) ListPlansByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*recurring.InstallmentPlan, error) {
	var out []*recurring.InstallmentPlan
	for _, p := range r.plans {
		if p.LedgerID == ledgerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	r.transactions = append(r.transactions, t)
	return nil
}

type fixture struct {
	repo     *fakeRepo
	svc      *recurring.Service
	userID   uuid.UUID
	ledgerID uuid.UUID
	cash     *ledger.Account
	rent     *ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	userID := uuid.New()
	ledgerID := uuid.New()
	repo.ledgers[ledgerID] = &ledger.Ledger{ID: ledgerID, UserID: userID, Name: "Book"}

	add := func(name string, typ ledger.AccountType) *ledger.Account {
		a := &ledger.Account{ID: uuid.New(), LedgerID: ledgerID, Name: name, Type: typ, Depth: 1}
		repo.accounts[a.ID] = a
		return a
	}

	return &fixture{
		repo:     repo,
		svc:      recurring.NewService(repo, fakeUnitOfWork{}, fakeRecorder{}),
		userID:   userID,
		ledgerID: ledgerID,
		cash:     add("Cash", ledger.AccountTypeAsset),
		rent:     add("Rent", ledger.AccountTypeExpense),
	}
}

func (f *fixture) templateInput() recurring.TemplateInput {
	return recurring.TemplateInput{
		LedgerID:      f.ledgerID,
		Description:   "Rent",
		Amount:        money.MustParse("800.00"),
		FromAccountID: f.cash.ID,
		ToAccountID:   f.rent.ID,
		Type:          ledger.TransactionTypeExpense,
		Frequency:     recurring.FrequencyMonthly,
		StartDate:     date(2025, 3, 1),
	}
}

func TestService_CreateTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		f := newFixture(t)
		tmpl, err := f.svc.CreateTemplate(ctx, f.userID, f.templateInput())
		require.NoError(t, err)
		assert.Contains(t, f.repo.templates, tmpl.ID)
		assert.Nil(t, tmpl.LastGeneratedDate)
	})

	t.Run("invalid frequency", func(t *testing.T) {
		f := newFixture(t)
		in := f.templateInput()
		in.Frequency = "FORTNIGHTLY"
		_, err := f.svc.CreateTemplate(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("end before start", func(t *testing.T) {
		f := newFixture(t)
		in := f.templateInput()
		end := in.StartDate.AddDate(0, 0, -1)
		in.EndDate = &end
		_, err := f.svc.CreateTemplate(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("invalid type pair", func(t *testing.T) {
		f := newFixture(t)
		in := f.templateInput()
		in.Type = ledger.TransactionTypeIncome
		_, err := f.svc.CreateTemplate(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestService_ListDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateTemplate(ctx, f.userID, f.templateInput())
	require.NoError(t, err)

	in := f.templateInput()
	in.Description = "Future"
	in.StartDate = date(2025, 9, 1)
	_, err = f.svc.CreateTemplate(ctx, f.userID, in)
	require.NoError(t, err)

	due, err := f.svc.ListDue(ctx, f.userID, f.ledgerID, date(2025, 3, 10))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Rent", due[0].Description)
}

func TestService_Approve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tmpl, err := f.svc.CreateTemplate(ctx, f.userID, f.templateInput())
	require.NoError(t, err)

	t.Run("posts occurrence dated next-due and advances cursor", func(t *testing.T) {
		tx, err := f.svc.Approve(ctx, f.userID, tmpl.ID, date(2025, 3, 10))
		require.NoError(t, err)

		assert.True(t, tx.Date.Equal(date(2025, 3, 1)))
		require.NotNil(t, tx.RecurringTemplateID)
		assert.Equal(t, tmpl.ID, *tx.RecurringTemplateID)

		stored := f.repo.templates[tmpl.ID]
		require.NotNil(t, stored.LastGeneratedDate)
		assert.True(t, stored.LastGeneratedDate.Equal(date(2025, 3, 1)))
	})

	t.Run("second approval posts the next period", func(t *testing.T) {
		tx, err := f.svc.Approve(ctx, f.userID, tmpl.ID, date(2025, 4, 10))
		require.NoError(t, err)
		assert.True(t, tx.Date.Equal(date(2025, 4, 1)))
	})

	t.Run("nothing pending conflicts", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, f.userID, tmpl.ID, date(2025, 4, 15))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})
}

func TestService_Skip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tmpl, err := f.svc.CreateTemplate(ctx, f.userID, f.templateInput())
	require.NoError(t, err)

	skipped, err := f.svc.Skip(ctx, f.userID, tmpl.ID, date(2025, 3, 10))
	require.NoError(t, err)
	require.NotNil(t, skipped.LastGeneratedDate)
	assert.True(t, skipped.LastGeneratedDate.Equal(date(2025, 3, 1)))

	// Nothing was posted.
	assert.Empty(t, f.repo.transactions)
}

func TestService_DeleteTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tmpl, err := f.svc.CreateTemplate(ctx, f.userID, f.templateInput())
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTemplate(ctx, f.userID, tmpl.ID))
	assert.NotContains(t, f.repo.templates, tmpl.ID)

	err = f.svc.DeleteTemplate(ctx, f.userID, tmpl.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestService_CreatePlan(t *testing.T) {
	ctx := context.Background()

	planInput := func(f *fixture) recurring.PlanInput {
		return recurring.PlanInput{
			LedgerID:      f.ledgerID,
			Description:   "Laptop",
			TotalAmount:   money.MustParse("1000.00"),
			Count:         3,
			StartDate:     date(2025, 3, 15),
			FromAccountID: f.cash.ID,
			ToAccountID:   f.rent.ID,
			Type:          ledger.TransactionTypeExpense,
		}
	}

	t.Run("expands into monthly installments summing to the total", func(t *testing.T) {
		f := newFixture(t)
		p, err := f.svc.CreatePlan(ctx, f.userID, planInput(f))
		require.NoError(t, err)

		require.Len(t, f.repo.transactions, 3)
		total := money.Zero
		for i, tx := range f.repo.transactions {
			n := i + 1
			assert.True(t, tx.Date.Equal(date(2025, time.Month(3+i), 15)))
			assert.Equal(t, fmt.Sprintf("Laptop (%d/3)", n), tx.Description)
			require.NotNil(t, tx.InstallmentPlanID)
			assert.Equal(t, p.ID, *tx.InstallmentPlanID)
			require.NotNil(t, tx.InstallmentNumber)
			assert.Equal(t, n, *tx.InstallmentNumber)
			total = total.Add(tx.Amount)
		}
		assert.True(t, total.Equal(money.MustParse("1000.00")))
		assert.Equal(t, "333.33", f.repo.transactions[0].Amount.String())
		assert.Equal(t, "333.34", f.repo.transactions[2].Amount.String())
	})

	t.Run("count of one rejected", func(t *testing.T) {
		f := newFixture(t)
		in := planInput(f)
		in.Count = 1
		_, err := f.svc.CreatePlan(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestService_ListPlans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreatePlan(ctx, f.userID, recurring.PlanInput{
		LedgerID:      f.ledgerID,
		Description:   "Phone",
		TotalAmount:   money.MustParse("600.00"),
		Count:         2,
		StartDate:     date(2025, 3, 1),
		FromAccountID: f.cash.ID,
		ToAccountID:   f.rent.ID,
		Type:          ledger.TransactionTypeExpense,
	})
	require.NoError(t, err)

	plans, err := f.svc.ListPlans(ctx, f.userID, f.ledgerID)
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	_, err = f.svc.ListPlans(ctx, uuid.New(), f.ledgerID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}
