package emailauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/emailauth"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/crypto"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeRepo struct {
	auths   map[uuid.UUID]*emailauth.Authorization
	configs map[uuid.UUID]*emailauth.ScanConfig
	runs    []*emailauth.ScanRun
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		auths:   make(map[uuid.UUID]*emailauth.Authorization),
		configs: make(map[uuid.UUID]*emailauth.ScanConfig),
	}
}

func (f *fakeRepo) CreateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	f.auths[a.ID] = a
	return nil
}

func (f *fakeRepo) GetAuthorization(ctx context.Context, id uuid.UUID) (*emailauth.Authorization, error) {
	a, ok := f.auths[id]
	if !ok {
		return nil, apperrors.NotFound("authorization")
	}
	return a, nil
}

func (f *fakeRepo) GetAuthorizationByEmail(ctx context.Context, userID uuid.UUID, email string) (*emailauth.Authorization, error) {
	for _, a := range f.auths {
		if a.UserID == userID && a.EmailAddress == email {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListAuthorizationsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.Authorization, error) {
	var out []*emailauth.Authorization
	for _, a := range f.auths {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	f.auths[a.ID] = a
	return nil
}

func (f *fakeRepo) CreateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	f.configs[c.ID] = c
	return nil
}

func (f *fakeRepo) GetScanConfig(ctx context.Context, id uuid.UUID) (*emailauth.ScanConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return nil, apperrors.NotFound("scan config")
	}
	return c, nil
}

func (f *fakeRepo) ListScanConfigsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.ScanConfig, error) {
	var out []*emailauth.ScanConfig
	for _, c := range f.configs {
		a, ok := f.auths[c.AuthorizationID]
		if ok && a.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveScanConfigs(ctx context.Context) ([]*emailauth.ScanConfig, error) {
	var out []*emailauth.ScanConfig
	for _, c := range f.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	f.configs[c.ID] = c
	return nil
}

func (f *fakeRepo) DeleteScanConfig(ctx context.Context, id uuid.UUID) error {
	delete(f.configs, id)
	return nil
}

func (f *fakeRepo) CreateScanRun(ctx context.Context, r *emailauth.ScanRun) error {
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeRepo) ListScanRuns(ctx context.Context, scanConfigID uuid.UUID, limit int) ([]*emailauth.ScanRun, error) {
	var out []*emailauth.ScanRun
	for _, r := range f.runs {
		if r.ScanConfigID == scanConfigID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	svc    *emailauth.Service
	repo   *fakeRepo
	userID uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	envelope, err := crypto.NewEnvelope(testKeyHex)
	require.NoError(t, err)
	repo := newFakeRepo()
	return &fixture{
		svc:    emailauth.NewService(repo, envelope),
		repo:   repo,
		userID: uuid.New(),
	}
}

func (f *fixture) connect(t *testing.T, email, token string) *emailauth.Authorization {
	t.Helper()
	a, err := f.svc.Connect(context.Background(), f.userID, emailauth.ProviderGmail, email, token)
	require.NoError(t, err)
	return a
}

func TestService_Connect(t *testing.T) {
	t.Run("seals the refresh token", func(t *testing.T) {
		f := setup(t)
		a := f.connect(t, " User@Gmail.com ", "refresh-secret")

		assert.Equal(t, "user@gmail.com", a.EmailAddress)
		assert.Equal(t, emailauth.StatusConnected, a.Status)
		assert.NotEmpty(t, a.SealedToken)
		assert.NotContains(t, a.SealedToken, "refresh-secret")

		token, err := f.svc.RefreshToken(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, "refresh-secret", token)
	})

	t.Run("reconnecting revives the same authorization", func(t *testing.T) {
		f := setup(t)
		a := f.connect(t, "user@gmail.com", "first")
		require.NoError(t, f.svc.Disconnect(context.Background(), f.userID, a.ID))

		again := f.connect(t, "user@gmail.com", "second")
		assert.Equal(t, a.ID, again.ID)
		assert.Equal(t, emailauth.StatusConnected, again.Status)
		assert.Nil(t, again.DisconnectedAt)

		token, err := f.svc.RefreshToken(context.Background(), again.ID)
		require.NoError(t, err)
		assert.Equal(t, "second", token)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()

		_, err := f.svc.Connect(ctx, f.userID, emailauth.ProviderGmail, "", "tok")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		_, err = f.svc.Connect(ctx, f.userID, emailauth.ProviderGmail, "user@gmail.com", "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		_, err = f.svc.Connect(ctx, f.userID, emailauth.Provider("OUTLOOK"), "user@gmail.com", "tok")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestService_Disconnect(t *testing.T) {
	f := setup(t)
	a := f.connect(t, "user@gmail.com", "tok")

	require.NoError(t, f.svc.Disconnect(context.Background(), f.userID, a.ID))

	stored := f.repo.auths[a.ID]
	assert.Equal(t, emailauth.StatusDisconnected, stored.Status)
	assert.Empty(t, stored.SealedToken)
	assert.NotNil(t, stored.DisconnectedAt)

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, f.svc.Disconnect(context.Background(), f.userID, a.ID))
	})

	t.Run("disconnected token cannot be opened", func(t *testing.T) {
		_, err := f.svc.RefreshToken(context.Background(), a.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("foreign authorization is not found", func(t *testing.T) {
		g := setup(t)
		b := g.connect(t, "user@gmail.com", "tok")
		err := g.svc.Disconnect(context.Background(), uuid.New(), b.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestService_MarkError(t *testing.T) {
	f := setup(t)
	a := f.connect(t, "user@gmail.com", "tok")

	require.NoError(t, f.svc.MarkError(context.Background(), a.ID, "invalid_grant"))

	stored := f.repo.auths[a.ID]
	assert.Equal(t, emailauth.StatusError, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "invalid_grant", *stored.LastError)

	_, err := f.svc.RefreshToken(context.Background(), a.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestService_CreateScanConfig(t *testing.T) {
	valid := func(authID uuid.UUID) emailauth.ScanConfigInput {
		return emailauth.ScanConfigInput{
			AuthorizationID: authID,
			LedgerID:        uuid.New(),
			BankCode:        "CTBC_CC",
			Frequency:       emailauth.ScanWeekly,
			Hour:            6,
			DayOfWeek:       1,
		}
	}

	t.Run("schedules on a connected authorization", func(t *testing.T) {
		f := setup(t)
		a := f.connect(t, "user@gmail.com", "tok")

		c, err := f.svc.CreateScanConfig(context.Background(), f.userID, valid(a.ID))
		require.NoError(t, err)
		assert.True(t, c.IsActive)
		assert.Equal(t, "CTBC_CC", c.BankCode)
	})

	t.Run("refuses a disconnected authorization", func(t *testing.T) {
		f := setup(t)
		a := f.connect(t, "user@gmail.com", "tok")
		require.NoError(t, f.svc.Disconnect(context.Background(), f.userID, a.ID))

		_, err := f.svc.CreateScanConfig(context.Background(), f.userID, valid(a.ID))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("validates the schedule", func(t *testing.T) {
		f := setup(t)
		a := f.connect(t, "user@gmail.com", "tok")
		ctx := context.Background()

		in := valid(a.ID)
		in.BankCode = ""
		_, err := f.svc.CreateScanConfig(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		in = valid(a.ID)
		in.Frequency = "HOURLY"
		_, err = f.svc.CreateScanConfig(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		in = valid(a.ID)
		in.Hour = 24
		_, err = f.svc.CreateScanConfig(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		in = valid(a.ID)
		in.DayOfWeek = 9
		_, err = f.svc.CreateScanConfig(ctx, f.userID, in)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestService_DeactivateScanConfig(t *testing.T) {
	f := setup(t)
	a := f.connect(t, "user@gmail.com", "tok")
	c, err := f.svc.CreateScanConfig(context.Background(), f.userID, emailauth.ScanConfigInput{
		AuthorizationID: a.ID,
		LedgerID:        uuid.New(),
		BankCode:        "CTBC_CC",
		Frequency:       emailauth.ScanDaily,
		Hour:            8,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeactivateScanConfig(context.Background(), f.userID, c.ID))
	assert.False(t, f.repo.configs[c.ID].IsActive)

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, f.svc.DeactivateScanConfig(context.Background(), f.userID, c.ID))
	})

	t.Run("foreign config is not found", func(t *testing.T) {
		err := f.svc.DeactivateScanConfig(context.Background(), uuid.New(), c.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestService_ScanRuns(t *testing.T) {
	f := setup(t)
	a := f.connect(t, "user@gmail.com", "tok")
	c, err := f.svc.CreateScanConfig(context.Background(), f.userID, emailauth.ScanConfigInput{
		AuthorizationID: a.ID,
		LedgerID:        uuid.New(),
		BankCode:        "ESUN_CC",
		Frequency:       emailauth.ScanDaily,
		Hour:            8,
	})
	require.NoError(t, err)

	finished := time.Date(2025, 3, 10, 8, 1, 0, 0, time.UTC)
	run := &emailauth.ScanRun{
		ID:           uuid.New(),
		ScanConfigID: c.ID,
		Status:       emailauth.ScanRunCompleted,
		MatchedMail:  2,
		ImportedRows: 31,
		StartedAt:    finished.Add(-time.Minute),
		FinishedAt:   finished,
	}
	require.NoError(t, f.svc.RecordScanRun(context.Background(), run))

	t.Run("recording touches last scan time", func(t *testing.T) {
		stored := f.repo.configs[c.ID]
		require.NotNil(t, stored.LastScanAt)
		assert.True(t, stored.LastScanAt.Equal(finished))
	})

	t.Run("runs list for the owner", func(t *testing.T) {
		runs, err := f.svc.ListScanRuns(context.Background(), f.userID, c.ID, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, emailauth.ScanRunCompleted, runs[0].Status)
	})

	t.Run("foreign caller sees nothing", func(t *testing.T) {
		_, err := f.svc.ListScanRuns(context.Background(), uuid.New(), c.ID, 10)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}
