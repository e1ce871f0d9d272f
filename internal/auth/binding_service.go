package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
)

// BindingService runs the OTP-based channel binding lifecycle
type BindingService struct {
	repo  BindingRepository
	codes *CodeStore
}

// NewBindingService creates a new binding service
func NewBindingService(repo BindingRepository, codes *CodeStore) *BindingService {
	return &BindingService{repo: repo, codes: codes}
}

// GenerateCode issues a one-time code an authenticated user enters into
// the chat channel to claim their platform identity.
func (s *BindingService) GenerateCode(ctx context.Context, userID uuid.UUID, channel Channel, defaultLedgerID *uuid.UUID) (string, time.Time, error) {
	if !channel.IsValid() {
		return "", time.Time{}, apperrors.Validationf("invalid channel %q", channel)
	}
	return s.codes.Generate(userID, channel, defaultLedgerID)
}

// VerifyCode consumes a code on behalf of the anonymous chat user and
// creates the active binding. A pre-existing active binding on the same
// (channel, external_user_id) is a conflict.
func (s *BindingService) VerifyCode(ctx context.Context, code, externalUserID string, displayName *string) (*ChannelBinding, error) {
	if externalUserID == "" {
		return nil, apperrors.Validation("external user id is required")
	}

	entry, ok := s.codes.Consume(code)
	if !ok {
		return nil, apperrors.Validation("invalid or expired code")
	}

	existing, err := s.repo.GetActiveBinding(ctx, entry.channel, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing binding: %w", err)
	}
	if existing != nil {
		return nil, apperrors.Conflict("this chat identity is already bound")
	}

	b := &ChannelBinding{
		ID:              uuid.New(),
		UserID:          entry.userID,
		Channel:         entry.channel,
		ExternalUserID:  externalUserID,
		DisplayName:     displayName,
		DefaultLedgerID: entry.defaultLedgerID,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateBinding(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create binding: %w", err)
	}
	return b, nil
}

// Resolve maps an inbound chat identity to its binding, touching
// last_used_at.
func (s *BindingService) Resolve(ctx context.Context, channel Channel, externalUserID string) (*ChannelBinding, error) {
	b, err := s.repo.GetActiveBinding(ctx, channel, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up binding: %w", err)
	}
	if b == nil {
		return nil, apperrors.NotFound("channel binding")
	}

	now := time.Now().UTC()
	b.LastUsedAt = &now
	if err := s.repo.UpdateBinding(ctx, b); err != nil {
		// Staleness is fine here, same as token touches.
		return b, nil
	}
	return b, nil
}

// Unbind soft-deletes a binding
func (s *BindingService) Unbind(ctx context.Context, userID, bindingID uuid.UUID) error {
	b, err := s.repo.GetBinding(ctx, bindingID)
	if err != nil {
		return apperrors.NotFound("channel binding")
	}
	if b.UserID != userID {
		return apperrors.NotFound("channel binding")
	}
	if !b.IsActive {
		return nil
	}

	now := time.Now().UTC()
	b.IsActive = false
	b.UnboundAt = &now
	return s.repo.UpdateBinding(ctx, b)
}

// List returns all bindings for a user, active and unbound
func (s *BindingService) List(ctx context.Context, userID uuid.UUID) ([]*ChannelBinding, error) {
	return s.repo.ListBindingsByUser(ctx, userID)
}
