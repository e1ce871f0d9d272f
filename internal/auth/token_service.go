package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/crypto"
)

// DefaultMaxTokensPerUser caps non-revoked tokens per user
const DefaultMaxTokensPerUser = 10

// CreatedToken pairs a stored token with its raw secret. The secret
// exists only in this value and is never written anywhere.
type CreatedToken struct {
	Token     *APIToken `json:"token"`
	RawSecret string    `json:"raw_secret"`
}

// TokenService manages opaque API tokens
type TokenService struct {
	repo      TokenRepository
	maxActive int
}

// NewTokenService creates a new token service
func NewTokenService(repo TokenRepository, maxActive int) *TokenService {
	if maxActive <= 0 {
		maxActive = DefaultMaxTokensPerUser
	}
	return &TokenService{repo: repo, maxActive: maxActive}
}

// Create mints a new token for the user. The raw secret is returned
// exactly once; only its digest and an 8-character prefix are stored.
func (s *TokenService) Create(ctx context.Context, userID uuid.UUID, name string) (*CreatedToken, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.Validation("token name cannot be empty")
	}

	active, err := s.repo.CountActiveTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}
	if active >= int64(s.maxActive) {
		return nil, apperrors.Validationf("token limit of %d reached", s.maxActive)
	}

	raw, err := crypto.GenerateTokenSecret(TokenPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	t := &APIToken{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		Hash:      crypto.HashToken(raw),
		Prefix:    raw[:8],
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &CreatedToken{Token: t, RawSecret: raw}, nil
}

// Validate resolves a raw secret to its token. The digest lookup and
// comparison run in constant time relative to the stored value; a hit
// also touches last_used_at under a row lock.
func (s *TokenService) Validate(ctx context.Context, raw string) (*APIToken, error) {
	if raw == "" || !strings.HasPrefix(raw, TokenPrefix+"_") {
		return nil, apperrors.Unauthorized("malformed token")
	}

	digest := crypto.HashToken(raw)
	t, err := s.repo.GetTokenByHash(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if t == nil || !crypto.ConstantTimeEqual(digest, t.Hash) {
		return nil, apperrors.Unauthorized("unknown token")
	}
	if t.IsRevoked() {
		return nil, apperrors.TokenRevoked()
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLastUsed(ctx, t.ID, now); err != nil {
		// Staleness of last_used_at is acceptable; validation is not
		// blocked by a failed touch.
		return t, nil
	}
	t.LastUsedAt = &now
	return t, nil
}

// Revoke soft-deletes a token
func (s *TokenService) Revoke(ctx context.Context, userID, tokenID uuid.UUID) error {
	t, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return apperrors.NotFound("token")
	}
	if t.UserID != userID {
		return apperrors.NotFound("token")
	}
	if t.IsRevoked() {
		return nil
	}
	return s.repo.RevokeToken(ctx, t.ID, time.Now().UTC())
}

// List returns the user's tokens, excluding revoked ones by default
func (s *TokenService) List(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]*APIToken, error) {
	return s.repo.ListTokensByUser(ctx, userID, includeRevoked)
}
