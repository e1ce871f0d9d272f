package importer_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/importer"
	"github.com/hweilin/moneybook/internal/importer/parser"
	"github.com/hweilin/moneybook/internal/importer/suggest"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/logger"
	"github.com/hweilin/moneybook/pkg/money"
)

const myabFile = "日期,交易類型,支出科目,收入科目,從科目,到科目,金額,明細,發票號碼\n" +
	"2025/03/01,支出,餐飲.早餐,,A-現金,,120,豆漿店,\n" +
	"2025/03/02,收入,,薪資,,A-銀行,50000,三月薪水,\n"

type fakeUnitOfWork struct {
	begun, committed, rolledBack int
}

func (f *fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	f.begun++
	return ctx, nil
}

func (f *fakeUnitOfWork) Commit(ctx context.Context) error {
	f.committed++
	return nil
}

func (f *fakeUnitOfWork) Rollback(ctx context.Context) error {
	f.rolledBack++
	return nil
}

type fakeRecorder struct {
	logs []*audit.Log
}

func (f *fakeRecorder) Record(ctx context.Context, log *audit.Log) error {
	f.logs = append(f.logs, log)
	return nil
}

type fakeRepo struct {
	ledgers  map[uuid.UUID]*ledger.Ledger
	accounts map[uuid.UUID]*ledger.Account
	sessions map[uuid.UUID]*importer.Session
	txs      []*ledger.Transaction

	failCreateTx bool
	// lockedStatus, when set, is what GetSessionForUpdate reports,
	// modelling another caller transitioning the session between the
	// plain read and the locked one.
	lockedStatus importer.Status
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		ledgers:  make(map[uuid.UUID]*ledger.Ledger),
		accounts: make(map[uuid.UUID]*ledger.Account),
		sessions: make(map[uuid.UUID]*importer.Session),
	}
}

func (f *fakeRepo) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	l, ok := f.ledgers[id]
	if !ok {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (f *fakeRepo) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account")
	}
	return a, nil
}

func (f *fakeRepo) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for _, a := range f.accounts {
		if a.LedgerID == ledgerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRepo) CreateAccount(ctx context.Context, a *ledger.Account) error {
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeRepo) MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	max := 0
	for _, a := range f.accounts {
		if a.LedgerID != ledgerID {
			continue
		}
		same := (a.ParentID == nil && parentID == nil) ||
			(a.ParentID != nil && parentID != nil && *a.ParentID == *parentID)
		if same && a.SortOrder > max {
			max = a.SortOrder
		}
	}
	return max, nil
}

func (f *fakeRepo) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	if f.failCreateTx {
		return errors.New("insert rejected")
	}
	f.txs = append(f.txs, t)
	return nil
}

func (f *fakeRepo) TransactionExists(ctx context.Context, ledgerID uuid.UUID, date time.Time, amount money.Amount, fromID, toID uuid.UUID) (bool, error) {
	for _, t := range f.txs {
		if t.LedgerID == ledgerID && t.Date.Equal(date) && t.Amount.String() == amount.String() &&
			t.FromAccountID == fromID && t.ToAccountID == toID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CreateSession(ctx context.Context, s *importer.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeRepo) GetSession(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("import session")
	}
	return s, nil
}

func (f *fakeRepo) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("import session")
	}
	if f.lockedStatus != "" {
		locked := *s
		locked.Status = f.lockedStatus
		return &locked, nil
	}
	return s, nil
}

func (f *fakeRepo) ListSessionsByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*importer.Session, error) {
	var out []*importer.Session
	for _, s := range f.sessions {
		if s.LedgerID == ledgerID {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) UpdateSession(ctx context.Context, s *importer.Session) error {
	f.sessions[s.ID] = s
	return nil
}

type fakeScratch struct {
	data map[uuid.UUID][]byte
}

func newFakeScratch() *fakeScratch {
	return &fakeScratch{data: make(map[uuid.UUID][]byte)}
}

func (f *fakeScratch) Put(ctx context.Context, sessionID uuid.UUID, data []byte, ttl time.Duration) error {
	f.data[sessionID] = data
	return nil
}

func (f *fakeScratch) Get(ctx context.Context, sessionID uuid.UUID) ([]byte, error) {
	return f.data[sessionID], nil
}

func (f *fakeScratch) Delete(ctx context.Context, sessionID uuid.UUID) error {
	delete(f.data, sessionID)
	return nil
}

type fakeEnhancer struct {
	suggestions map[string]string
	err         error
	calls       int
}

func (f *fakeEnhancer) Suggest(ctx context.Context, descriptions []string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestions, nil
}

type fixture struct {
	svc     *importer.Service
	repo    *fakeRepo
	uow     *fakeUnitOfWork
	rec     *fakeRecorder
	scratch *fakeScratch

	userID   uuid.UUID
	ledgerID uuid.UUID
}

func newFixture(t *testing.T, enhancer importer.Enhancer) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newFakeRepo(),
		uow:     &fakeUnitOfWork{},
		rec:     &fakeRecorder{},
		scratch: newFakeScratch(),
		userID:  uuid.New(),
	}
	l := &ledger.Ledger{ID: uuid.New(), UserID: f.userID, Name: "主帳本"}
	f.ledgerID = l.ID
	f.repo.ledgers[l.ID] = l

	f.svc = importer.NewService(f.repo, f.uow, f.rec, f.scratch,
		parser.DefaultRegistry(), suggest.NewSuggester(), enhancer,
		logger.NewDefault("test"), importer.Config{
			MaxFileSize: 1 << 20,
			MaxRows:     1000,
			ScratchTTL:  10 * time.Minute,
		})
	return f
}

func (f *fixture) addAccount(name string, typ ledger.AccountType, parent *ledger.Account) *ledger.Account {
	a := &ledger.Account{ID: uuid.New(), LedgerID: f.ledgerID, Name: name, Type: typ, Depth: 1}
	if parent != nil {
		a.ParentID = &parent.ID
		a.Depth = parent.Depth + 1
	}
	f.repo.accounts[a.ID] = a
	return a
}

func (f *fixture) preview(t *testing.T, data string) *importer.PreviewResult {
	t.Helper()
	res, err := f.svc.Preview(context.Background(), f.userID, importer.PreviewInput{
		LedgerID:   f.ledgerID,
		SourceType: importer.SourceMYABCSV,
		FileName:   "export.csv",
		Data:       []byte(data),
	})
	require.NoError(t, err)
	return res
}

func TestService_Preview(t *testing.T) {
	t.Run("stages a pending session", func(t *testing.T) {
		f := newFixture(t, nil)

		res := f.preview(t, myabFile)

		sess := res.Session
		assert.Equal(t, importer.StatusPending, sess.Status)
		assert.Equal(t, f.ledgerID, sess.LedgerID)
		assert.Equal(t, 2, sess.RowCount)
		assert.Len(t, sess.FileDigest, 64)
		assert.True(t, res.IsValid)
		assert.Len(t, res.SampleRows, 2)

		// Every distinct path is resolved up front.
		assert.Contains(t, sess.Mapping, "A-現金")
		assert.Contains(t, sess.Mapping, "餐飲.早餐")

		// Bytes are staged for execute, and the creation is audited.
		assert.NotEmpty(t, f.scratch.data[sess.ID])
		require.Len(t, f.rec.logs, 1)
		assert.Equal(t, audit.EntityImport, f.rec.logs[0].EntityType)
		assert.Equal(t, audit.ActionCreate, f.rec.logs[0].Action)
	})

	t.Run("rejects an empty file", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Preview(context.Background(), f.userID, importer.PreviewInput{
			LedgerID:   f.ledgerID,
			SourceType: importer.SourceMYABCSV,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("rejects an unknown source type", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Preview(context.Background(), f.userID, importer.PreviewInput{
			LedgerID:   f.ledgerID,
			SourceType: importer.SourceType("FAX"),
			Data:       []byte(myabFile),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("rejects an unknown bank code", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Preview(context.Background(), f.userID, importer.PreviewInput{
			LedgerID:   f.ledgerID,
			SourceType: importer.SourceCreditCardCSV,
			BankCode:   "NOPE",
			Data:       []byte("whatever"),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("foreign ledger is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Preview(context.Background(), uuid.New(), importer.PreviewInput{
			LedgerID:   f.ledgerID,
			SourceType: importer.SourceMYABCSV,
			Data:       []byte(myabFile),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("flags rows that already exist", func(t *testing.T) {
		f := newFixture(t, nil)
		cash := f.addAccount("現金", ledger.AccountTypeAsset, nil)
		meals := f.addAccount("餐飲", ledger.AccountTypeExpense, nil)
		breakfast := f.addAccount("早餐", ledger.AccountTypeExpense, meals)
		f.repo.txs = append(f.repo.txs, &ledger.Transaction{
			LedgerID:      f.ledgerID,
			Date:          time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Amount:        money.MustParse("120"),
			FromAccountID: cash.ID,
			ToAccountID:   breakfast.ID,
		})

		res := f.preview(t, myabFile)

		require.Len(t, res.DuplicateIndexes, 1)
		assert.Equal(t, res.SampleRows[0].Index, res.DuplicateIndexes[0])
	})
}

func TestService_Preview_Categorize(t *testing.T) {
	const tsibFile = "卡號,消費日,商店,金額\n" +
		"1234,2025/03/05,NETFLIX.COM,-390\n" +
		"1234,2025/03/06,神秘商店,-500\n"

	previewCC := func(t *testing.T, f *fixture) *importer.PreviewResult {
		t.Helper()
		res, err := f.svc.Preview(context.Background(), f.userID, importer.PreviewInput{
			LedgerID:   f.ledgerID,
			SourceType: importer.SourceCreditCardCSV,
			BankCode:   "TSIB_CC",
			FileName:   "bill.csv",
			Data:       []byte(tsibFile),
		})
		require.NoError(t, err)
		return res
	}

	t.Run("keyword rules place what they can", func(t *testing.T) {
		f := newFixture(t, nil)
		res := previewCC(t, f)

		assert.Equal(t, "E-娛樂.訂閱", res.Session.Overrides["NETFLIX.COM"])
		assert.Equal(t, suggest.FallbackExpensePath, res.Session.Overrides["神秘商店"])
	})

	t.Run("enhancer refines the leftovers only", func(t *testing.T) {
		enh := &fakeEnhancer{suggestions: map[string]string{"神秘商店": "E-購物.雜貨"}}
		f := newFixture(t, enh)
		res := previewCC(t, f)

		assert.Equal(t, 1, enh.calls)
		assert.Equal(t, "E-購物.雜貨", res.Session.Overrides["神秘商店"])
		assert.Equal(t, "E-娛樂.訂閱", res.Session.Overrides["NETFLIX.COM"])
	})

	t.Run("enhancer failure keeps the fallback", func(t *testing.T) {
		f := newFixture(t, &fakeEnhancer{err: errors.New("model offline")})
		res := previewCC(t, f)

		assert.Equal(t, suggest.FallbackExpensePath, res.Session.Overrides["神秘商店"])
	})
}

func TestService_Execute(t *testing.T) {
	t.Run("posts rows and creates missing accounts", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session

		done, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		require.NoError(t, err)

		assert.Equal(t, importer.StatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
		assert.Equal(t, 2, done.CreatedCount)
		assert.Equal(t, 0, done.SkippedCount)
		// 現金, 餐飲, 早餐, 薪資, 銀行
		assert.Equal(t, 5, done.AccountsCreated)

		require.Len(t, f.repo.txs, 2)
		tx := f.repo.txs[0]
		assert.Equal(t, "豆漿店", tx.Description)
		assert.Equal(t, "120.00", tx.Amount.String())
		require.NotNil(t, tx.SourceChannel)
		assert.Equal(t, "import", *tx.SourceChannel)

		// Staged bytes are gone once applied.
		assert.Empty(t, f.scratch.data[sess.ID])
	})

	t.Run("skip rows are left out", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.preview(t, myabFile)

		done, err := f.svc.Execute(context.Background(), f.userID, res.Session.ID, importer.ExecuteInput{
			SkipRows: []int{res.SampleRows[0].Index},
		})
		require.NoError(t, err)

		assert.Equal(t, 1, done.CreatedCount)
		assert.Equal(t, 1, done.SkippedCount)
		require.Len(t, f.repo.txs, 1)
		assert.Equal(t, "三月薪水", f.repo.txs[0].Description)
	})

	t.Run("path overrides redirect a mapped leg", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session

		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{
			PathOverrides: map[string]string{"餐飲.早餐": "E-食.早餐"},
		})
		require.NoError(t, err)

		var names []string
		for _, a := range f.repo.accounts {
			names = append(names, a.Name)
		}
		assert.Contains(t, names, "食")
		assert.NotContains(t, names, "餐飲")
	})

	seedDuplicate := func(t *testing.T, f *fixture) {
		t.Helper()
		cash := f.addAccount("現金", ledger.AccountTypeAsset, nil)
		meals := f.addAccount("餐飲", ledger.AccountTypeExpense, nil)
		breakfast := f.addAccount("早餐", ledger.AccountTypeExpense, meals)
		f.repo.txs = append(f.repo.txs, &ledger.Transaction{
			LedgerID:      f.ledgerID,
			Date:          time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Amount:        money.MustParse("120"),
			FromAccountID: cash.ID,
			ToAccountID:   breakfast.ID,
		})
	}

	t.Run("flagged duplicates still post unless skipped", func(t *testing.T) {
		f := newFixture(t, nil)
		seedDuplicate(t, f)
		res := f.preview(t, myabFile)
		require.Len(t, res.DuplicateIndexes, 1)
		assert.Equal(t, 1, res.Session.DuplicateCount)

		done, err := f.svc.Execute(context.Background(), f.userID, res.Session.ID, importer.ExecuteInput{})
		require.NoError(t, err)

		assert.Equal(t, 2, done.CreatedCount)
		assert.Equal(t, 0, done.SkippedCount)
		assert.Equal(t, 1, done.DuplicateCount)
		// The seeded transaction plus both file rows.
		assert.Len(t, f.repo.txs, 3)
	})

	t.Run("skipping the flagged duplicates leaves them out", func(t *testing.T) {
		f := newFixture(t, nil)
		seedDuplicate(t, f)
		res := f.preview(t, myabFile)

		done, err := f.svc.Execute(context.Background(), f.userID, res.Session.ID, importer.ExecuteInput{
			SkipRows: res.DuplicateIndexes,
		})
		require.NoError(t, err)

		assert.Equal(t, 1, done.CreatedCount)
		assert.Equal(t, 1, done.SkippedCount)
		assert.Len(t, f.repo.txs, 2)
		assert.Equal(t, "三月薪水", f.repo.txs[1].Description)
	})

	t.Run("expired staging fails the session", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session
		require.NoError(t, f.scratch.Delete(context.Background(), sess.ID))

		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeImportExpired))
		assert.Equal(t, importer.StatusFailed, f.repo.sessions[sess.ID].Status)
	})

	t.Run("digest mismatch fails the session", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session
		f.scratch.data[sess.ID] = []byte("tampered")

		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		assert.Error(t, err)
		assert.Equal(t, importer.StatusFailed, f.repo.sessions[sess.ID].Status)
		assert.Empty(t, f.repo.txs)
	})

	t.Run("a failed row rolls the whole batch back", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session
		f.repo.failCreateTx = true
		rolledBefore := f.uow.rolledBack

		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		assert.Error(t, err)
		assert.Greater(t, f.uow.rolledBack, rolledBefore)

		// The FAILED row must not claim work the rollback discarded.
		failed := f.repo.sessions[sess.ID]
		assert.Equal(t, importer.StatusFailed, failed.Status)
		assert.Equal(t, 0, failed.CreatedCount)
		assert.Equal(t, 0, failed.AccountsCreated)
		assert.Equal(t, 0, failed.SkippedCount)
		assert.Empty(t, f.repo.txs)
	})

	t.Run("a session won by a concurrent execute conflicts", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session
		f.repo.lockedStatus = importer.StatusCompleted

		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

		// The winner's outcome stands: nothing posted, nothing FAILED.
		assert.Empty(t, f.repo.txs)
		assert.NotEqual(t, importer.StatusFailed, f.repo.sessions[sess.ID].Status)
	})

	t.Run("only pending sessions execute", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session
		_, err := f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		require.NoError(t, err)

		_, err = f.svc.Execute(context.Background(), f.userID, sess.ID, importer.ExecuteInput{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("foreign session is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.preview(t, myabFile).Session

		_, err := f.svc.Execute(context.Background(), uuid.New(), sess.ID, importer.ExecuteInput{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestService_GetAndList(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.preview(t, myabFile).Session

	got, err := f.svc.Get(context.Background(), f.userID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = f.svc.Get(context.Background(), uuid.New(), sess.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	list, err := f.svc.List(context.Background(), f.userID, f.ledgerID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
