package user_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hweilin/moneybook/internal/user"
	"github.com/hweilin/moneybook/pkg/logger"
)

type fakeUserRepo struct {
	byID    map[uuid.UUID]*user.User
	byEmail map[string]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[uuid.UUID]*user.User),
		byEmail: make(map[string]*user.User),
	}
}

func (r *fakeUserRepo) Create(ctx context.Context, u *user.User) error {
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	u, ok := r.byEmail[email]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, u *user.User) error {
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
	return nil
}

func (r *fakeUserRepo) Exists(ctx context.Context, email string) (bool, error) {
	_, ok := r.byEmail[email]
	return ok, nil
}

func newService() (*user.Service, *fakeUserRepo) {
	repo := newFakeUserRepo()
	return user.NewService(repo, logger.NewDefault("test")), repo
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user with hashed password", func(t *testing.T) {
		svc, repo := newService()
		u, err := svc.Register(ctx, "Ada@Example.com ", "correct horse", "Ada")
		require.NoError(t, err)

		assert.Equal(t, "ada@example.com", u.Email)
		assert.NotEqual(t, "correct horse", u.PasswordHash)
		assert.Contains(t, repo.byEmail, "ada@example.com")
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Register(ctx, "ada@example.com", "correct horse", "Ada")
		require.NoError(t, err)
		_, err = svc.Register(ctx, "ADA@example.com", "other password", "Ada")
		assert.ErrorIs(t, err, user.ErrUserAlreadyExists)
	})

	t.Run("invalid email", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Register(ctx, "not-an-email", "correct horse", "")
		assert.ErrorIs(t, err, user.ErrInvalidEmail)
	})

	t.Run("short password", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Register(ctx, "ada@example.com", "short", "")
		assert.ErrorIs(t, err, user.ErrPasswordTooShort)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	registered, err := svc.Register(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		u, err := svc.Login(ctx, " ADA@example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, u.ID)
		assert.NotNil(t, u.LastLoginAt)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "ada@example.com", "wrong password")
		assert.ErrorIs(t, err, user.ErrInvalidPassword)
	})

	t.Run("unknown email answers like a wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "ghost@example.com", "correct horse")
		assert.ErrorIs(t, err, user.ErrInvalidPassword)
	})
}
