package mailscan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/emailauth"
	"github.com/hweilin/moneybook/internal/importer"
	"github.com/hweilin/moneybook/internal/importer/parser"
	"github.com/hweilin/moneybook/internal/importer/suggest"
	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/mailscan"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/crypto"
	"github.com/hweilin/moneybook/pkg/logger"
	"github.com/hweilin/moneybook/pkg/money"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

const tsibStatement = "卡號,消費日,商店,金額\n" +
	"1234,2025/03/05,NETFLIX.COM,-390\n" +
	"1234,2025/03/06,全聯福利中心,-358\n"

type fakeAuthRepo struct {
	auths   map[uuid.UUID]*emailauth.Authorization
	configs map[uuid.UUID]*emailauth.ScanConfig
	runs    []*emailauth.ScanRun
}

func newFakeAuthRepo() *fakeAuthRepo {
	return &fakeAuthRepo{
		auths:   make(map[uuid.UUID]*emailauth.Authorization),
		configs: make(map[uuid.UUID]*emailauth.ScanConfig),
	}
}

func (f *fakeAuthRepo) CreateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	f.auths[a.ID] = a
	return nil
}

func (f *fakeAuthRepo) GetAuthorization(ctx context.Context, id uuid.UUID) (*emailauth.Authorization, error) {
	a, ok := f.auths[id]
	if !ok {
		return nil, apperrors.NotFound("authorization")
	}
	return a, nil
}

func (f *fakeAuthRepo) GetAuthorizationByEmail(ctx context.Context, userID uuid.UUID, email string) (*emailauth.Authorization, error) {
	return nil, nil
}

func (f *fakeAuthRepo) ListAuthorizationsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.Authorization, error) {
	return nil, nil
}

func (f *fakeAuthRepo) UpdateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	f.auths[a.ID] = a
	return nil
}

func (f *fakeAuthRepo) CreateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	f.configs[c.ID] = c
	return nil
}

func (f *fakeAuthRepo) GetScanConfig(ctx context.Context, id uuid.UUID) (*emailauth.ScanConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return nil, apperrors.NotFound("scan config")
	}
	return c, nil
}

func (f *fakeAuthRepo) ListScanConfigsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.ScanConfig, error) {
	return nil, nil
}

func (f *fakeAuthRepo) ListActiveScanConfigs(ctx context.Context) ([]*emailauth.ScanConfig, error) {
	return nil, nil
}

func (f *fakeAuthRepo) UpdateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	f.configs[c.ID] = c
	return nil
}

func (f *fakeAuthRepo) DeleteScanConfig(ctx context.Context, id uuid.UUID) error {
	delete(f.configs, id)
	return nil
}

func (f *fakeAuthRepo) CreateScanRun(ctx context.Context, r *emailauth.ScanRun) error {
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeAuthRepo) ListScanRuns(ctx context.Context, scanConfigID uuid.UUID, limit int) ([]*emailauth.ScanRun, error) {
	return nil, nil
}

type fakeUnitOfWork struct{}

func (fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (fakeUnitOfWork) Commit(ctx context.Context) error                   { return nil }
func (fakeUnitOfWork) Rollback(ctx context.Context) error                 { return nil }

type fakeRecorder struct{}

func (fakeRecorder) Record(ctx context.Context, log *audit.Log) error { return nil }

type fakeImportRepo struct {
	ledgers  map[uuid.UUID]*ledger.Ledger
	accounts map[uuid.UUID]*ledger.Account
	sessions map[uuid.UUID]*importer.Session
	txs      []*ledger.Transaction
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{
		ledgers:  make(map[uuid.UUID]*ledger.Ledger),
		accounts: make(map[uuid.UUID]*ledger.Account),
		sessions: make(map[uuid.UUID]*importer.Session),
	}
}

func (f *fakeImportRepo) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	l, ok := f.ledgers[id]
	if !ok {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (f *fakeImportRepo) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account")
	}
	return a, nil
}

func (f *fakeImportRepo) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for _, a := range f.accounts {
		if a.LedgerID == ledgerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeImportRepo) CreateAccount(ctx context.Context, a *ledger.Account) error {
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeImportRepo) MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeImportRepo) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	f.txs = append(f.txs, t)
	return nil
}

func (f *fakeImportRepo) TransactionExists(ctx context.Context, ledgerID uuid.UUID, date time.Time, amount money.Amount, fromID, toID uuid.UUID) (bool, error) {
	for _, t := range f.txs {
		if t.LedgerID == ledgerID && t.Date.Equal(date) && t.Amount.String() == amount.String() &&
			t.FromAccountID == fromID && t.ToAccountID == toID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeImportRepo) CreateSession(ctx context.Context, s *importer.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeImportRepo) GetSession(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("import session")
	}
	return s, nil
}

func (f *fakeImportRepo) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	return f.GetSession(ctx, id)
}

func (f *fakeImportRepo) ListSessionsByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*importer.Session, error) {
	return nil, nil
}

func (f *fakeImportRepo) UpdateSession(ctx context.Context, s *importer.Session) error {
	f.sessions[s.ID] = s
	return nil
}

type fakeScratch struct {
	data map[uuid.UUID][]byte
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

type fakeFetcher struct {
	mails []mailscan.Mail
	err   error
	query string
}

func (f *fakeFetcher) FetchStatements(ctx context.Context, refreshToken, query string, since time.Time) ([]mailscan.Mail, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.mails, nil
}

type fixture struct {
	scanner    *mailscan.Scanner
	authRepo   *fakeAuthRepo
	importRepo *fakeImportRepo
	fetcher    *fakeFetcher

	userID uuid.UUID
	cfg    *emailauth.ScanConfig
}

func setup(t *testing.T, fetcher *fakeFetcher) *fixture {
	t.Helper()
	envelope, err := crypto.NewEnvelope(testKeyHex)
	require.NoError(t, err)

	f := &fixture{
		authRepo:   newFakeAuthRepo(),
		importRepo: newFakeImportRepo(),
		fetcher:    fetcher,
		userID:     uuid.New(),
	}

	auths := emailauth.NewService(f.authRepo, envelope)
	a, err := auths.Connect(context.Background(), f.userID, emailauth.ProviderGmail, "user@gmail.com", "refresh-tok")
	require.NoError(t, err)

	l := &ledger.Ledger{ID: uuid.New(), UserID: f.userID, Name: "主帳本"}
	f.importRepo.ledgers[l.ID] = l

	f.cfg = &emailauth.ScanConfig{
		ID:              uuid.New(),
		AuthorizationID: a.ID,
		LedgerID:        l.ID,
		BankCode:        "TSIB_CC",
		Frequency:       emailauth.ScanDaily,
		Hour:            8,
		IsActive:        true,
	}
	require.NoError(t, f.authRepo.CreateScanConfig(context.Background(), f.cfg))

	log := logger.NewDefault("test")
	imports := importer.NewService(f.importRepo, fakeUnitOfWork{}, fakeRecorder{},
		&fakeScratch{data: make(map[uuid.UUID][]byte)}, parser.DefaultRegistry(),
		suggest.NewSuggester(), nil, log, importer.Config{
			MaxFileSize: 1 << 20,
			MaxRows:     1000,
			ScratchTTL:  10 * time.Minute,
		})
	f.scanner = mailscan.NewScanner(auths, f.authRepo, imports, parser.DefaultRegistry(), fetcher, log)
	return f
}

func TestScanner_RunScan(t *testing.T) {
	t.Run("imports every matched statement", func(t *testing.T) {
		f := setup(t, &fakeFetcher{mails: []mailscan.Mail{
			{Subject: "2025/03信用卡對帳單", FileName: "bill.csv", Attachment: []byte(tsibStatement)},
		}})

		require.NoError(t, f.scanner.RunScan(context.Background(), f.cfg))

		require.Len(t, f.authRepo.runs, 1)
		run := f.authRepo.runs[0]
		assert.Equal(t, emailauth.ScanRunCompleted, run.Status)
		assert.Equal(t, 1, run.MatchedMail)
		assert.Equal(t, 2, run.ImportedRows)
		assert.Len(t, f.importRepo.txs, 2)

		// The bank's own search query drives the fetch.
		assert.Contains(t, f.fetcher.query, "taishinbank")

		// Recording the run touches the schedule cursor.
		require.NotNil(t, f.authRepo.configs[f.cfg.ID].LastScanAt)
	})

	t.Run("one bad attachment does not stop the rest", func(t *testing.T) {
		f := setup(t, &fakeFetcher{mails: []mailscan.Mail{
			{Subject: "x", FileName: "broken.csv", Attachment: []byte("not,a,statement\n")},
			{Subject: "2025/03信用卡對帳單", FileName: "bill.csv", Attachment: []byte(tsibStatement)},
		}})

		require.NoError(t, f.scanner.RunScan(context.Background(), f.cfg))

		run := f.authRepo.runs[0]
		assert.Equal(t, emailauth.ScanRunCompleted, run.Status)
		assert.Equal(t, 2, run.MatchedMail)
		assert.Equal(t, 2, run.ImportedRows)
	})

	t.Run("fetch failure flags the authorization", func(t *testing.T) {
		f := setup(t, &fakeFetcher{err: errors.New("invalid_grant")})

		err := f.scanner.RunScan(context.Background(), f.cfg)
		assert.Error(t, err)

		run := f.authRepo.runs[0]
		assert.Equal(t, emailauth.ScanRunFailed, run.Status)
		require.NotNil(t, run.ErrorMessage)

		auth := f.authRepo.auths[f.cfg.AuthorizationID]
		assert.Equal(t, emailauth.StatusError, auth.Status)
	})

	t.Run("a bank without a mail query is skipped", func(t *testing.T) {
		f := setup(t, &fakeFetcher{})
		f.cfg.BankCode = "MYAB_CSV"

		require.NoError(t, f.scanner.RunScan(context.Background(), f.cfg))

		run := f.authRepo.runs[0]
		assert.Equal(t, emailauth.ScanRunSkipped, run.Status)
		assert.Empty(t, f.importRepo.txs)
	})

	t.Run("a disconnected authorization fails the run", func(t *testing.T) {
		f := setup(t, &fakeFetcher{})
		auth := f.authRepo.auths[f.cfg.AuthorizationID]
		auth.Status = emailauth.StatusDisconnected
		auth.SealedToken = ""

		err := f.scanner.RunScan(context.Background(), f.cfg)
		assert.Error(t, err)
		assert.Equal(t, emailauth.ScanRunFailed, f.authRepo.runs[0].Status)
	})
}
