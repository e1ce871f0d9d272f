package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines persistence for API tokens
type TokenRepository interface {
	CreateToken(ctx context.Context, t *APIToken) error
	// GetTokenByHash returns nil, nil when no row matches the digest.
	GetTokenByHash(ctx context.Context, hash string) (*APIToken, error)
	GetToken(ctx context.Context, id uuid.UUID) (*APIToken, error)
	ListTokensByUser(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]*APIToken, error)
	CountActiveTokens(ctx context.Context, userID uuid.UUID) (int64, error)
	RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error
	// TouchLastUsed updates last_used_at under a row lock so two
	// concurrent validations never race on the same row.
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// BindingRepository defines persistence for channel bindings
type BindingRepository interface {
	CreateBinding(ctx context.Context, b *ChannelBinding) error
	GetBinding(ctx context.Context, id uuid.UUID) (*ChannelBinding, error)
	// GetActiveBinding returns nil, nil when no active binding exists
	// for the pair.
	GetActiveBinding(ctx context.Context, channel Channel, externalUserID string) (*ChannelBinding, error)
	ListBindingsByUser(ctx context.Context, userID uuid.UUID) ([]*ChannelBinding, error)
	UpdateBinding(ctx context.Context, b *ChannelBinding) error
}
