package emailauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/crypto"
)

// Service manages email authorizations and their scan schedules.
// Refresh tokens cross this boundary in plaintext exactly once, on the
// way into the envelope.
type Service struct {
	repo     Repository
	envelope *crypto.Envelope
}

// NewService creates a new email authorization service
func NewService(repo Repository, envelope *crypto.Envelope) *Service {
	return &Service{repo: repo, envelope: envelope}
}

// Connect stores a new authorization, sealing the refresh token. An
// existing authorization for the same address is revived in place.
func (s *Service) Connect(ctx context.Context, userID uuid.UUID, provider Provider, email, refreshToken string) (*Authorization, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.Validation("email address is required")
	}
	if refreshToken == "" {
		return nil, apperrors.Validation("refresh token is required")
	}
	if provider != ProviderGmail {
		return nil, apperrors.Validationf("unsupported provider %q", provider)
	}

	sealed, err := s.envelope.Seal(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal token: %w", err)
	}

	now := time.Now().UTC()
	existing, err := s.repo.GetAuthorizationByEmail(ctx, userID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up authorization: %w", err)
	}
	if existing != nil {
		existing.Status = StatusConnected
		existing.SealedToken = sealed
		existing.LastError = nil
		existing.DisconnectedAt = nil
		existing.ConnectedAt = now
		existing.UpdatedAt = now
		if err := s.repo.UpdateAuthorization(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update authorization: %w", err)
		}
		return existing, nil
	}

	a := &Authorization{
		ID:           uuid.New(),
		UserID:       userID,
		Provider:     provider,
		EmailAddress: email,
		Status:       StatusConnected,
		SealedToken:  sealed,
		ConnectedAt:  now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateAuthorization(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create authorization: %w", err)
	}
	return a, nil
}

// Disconnect revokes an authorization and clears the stored token
func (s *Service) Disconnect(ctx context.Context, userID, authID uuid.UUID) error {
	a, err := s.owned(ctx, authID, userID)
	if err != nil {
		return err
	}
	if a.Status == StatusDisconnected {
		return nil
	}

	now := time.Now().UTC()
	a.Status = StatusDisconnected
	a.SealedToken = ""
	a.DisconnectedAt = &now
	a.UpdatedAt = now
	return s.repo.UpdateAuthorization(ctx, a)
}

// RefreshToken opens the sealed token for an outbound mail fetch. Only
// CONNECTED authorizations yield a token.
func (s *Service) RefreshToken(ctx context.Context, authID uuid.UUID) (string, error) {
	a, err := s.repo.GetAuthorization(ctx, authID)
	if err != nil {
		return "", apperrors.NotFound("authorization")
	}
	if a.Status != StatusConnected {
		return "", apperrors.Conflict("authorization is not connected")
	}
	token, err := s.envelope.Open(a.SealedToken)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", err)
	}
	return token, nil
}

// MarkError flags an authorization whose token stopped working
func (s *Service) MarkError(ctx context.Context, authID uuid.UUID, cause string) error {
	a, err := s.repo.GetAuthorization(ctx, authID)
	if err != nil {
		return apperrors.NotFound("authorization")
	}
	a.Status = StatusError
	a.LastError = &cause
	a.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateAuthorization(ctx, a)
}

// List returns the user's authorizations
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*Authorization, error) {
	return s.repo.ListAuthorizationsByUser(ctx, userID)
}

// ScanConfigInput carries the fields for a new scan schedule
type ScanConfigInput struct {
	AuthorizationID uuid.UUID
	LedgerID        uuid.UUID
	BankCode        string
	Frequency       ScanFrequency
	Hour            int
	DayOfWeek       int
}

// CreateScanConfig schedules a periodic scan on a connected
// authorization.
func (s *Service) CreateScanConfig(ctx context.Context, userID uuid.UUID, in ScanConfigInput) (*ScanConfig, error) {
	a, err := s.owned(ctx, in.AuthorizationID, userID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusConnected {
		return nil, apperrors.Conflict("authorization is not connected")
	}
	if in.BankCode == "" {
		return nil, apperrors.Validation("bank code is required")
	}
	if in.Frequency != ScanDaily && in.Frequency != ScanWeekly {
		return nil, apperrors.Validationf("invalid frequency %q", in.Frequency)
	}
	if in.Hour < 0 || in.Hour > 23 {
		return nil, apperrors.Validation("hour must be between 0 and 23")
	}
	if in.Frequency == ScanWeekly && (in.DayOfWeek < 0 || in.DayOfWeek > 6) {
		return nil, apperrors.Validation("day of week must be between 0 and 6")
	}

	now := time.Now().UTC()
	c := &ScanConfig{
		ID:              uuid.New(),
		AuthorizationID: in.AuthorizationID,
		LedgerID:        in.LedgerID,
		BankCode:        in.BankCode,
		Frequency:       in.Frequency,
		Hour:            in.Hour,
		DayOfWeek:       in.DayOfWeek,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateScanConfig(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create scan config: %w", err)
	}
	return c, nil
}

// ListScanConfigs returns the user's scan schedules
func (s *Service) ListScanConfigs(ctx context.Context, userID uuid.UUID) ([]*ScanConfig, error) {
	return s.repo.ListScanConfigsByUser(ctx, userID)
}

// DeactivateScanConfig pauses a schedule without deleting its history
func (s *Service) DeactivateScanConfig(ctx context.Context, userID, configID uuid.UUID) error {
	c, err := s.repo.GetScanConfig(ctx, configID)
	if err != nil {
		return apperrors.NotFound("scan config")
	}
	if _, err := s.owned(ctx, c.AuthorizationID, userID); err != nil {
		return apperrors.NotFound("scan config")
	}
	if !c.IsActive {
		return nil
	}
	c.IsActive = false
	c.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateScanConfig(ctx, c)
}

// RecordScanRun stores one scan outcome and touches last_scan_at
func (s *Service) RecordScanRun(ctx context.Context, r *ScanRun) error {
	if err := s.repo.CreateScanRun(ctx, r); err != nil {
		return fmt.Errorf("failed to record scan run: %w", err)
	}
	c, err := s.repo.GetScanConfig(ctx, r.ScanConfigID)
	if err != nil {
		return nil
	}
	c.LastScanAt = &r.FinishedAt
	c.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateScanConfig(ctx, c)
}

// ListScanRuns returns the most recent runs of one schedule
func (s *Service) ListScanRuns(ctx context.Context, userID, configID uuid.UUID, limit int) ([]*ScanRun, error) {
	c, err := s.repo.GetScanConfig(ctx, configID)
	if err != nil {
		return nil, apperrors.NotFound("scan config")
	}
	if _, err := s.owned(ctx, c.AuthorizationID, userID); err != nil {
		return nil, apperrors.NotFound("scan config")
	}
	return s.repo.ListScanRuns(ctx, configID, limit)
}

func (s *Service) owned(ctx context.Context, authID, userID uuid.UUID) (*Authorization, error) {
	a, err := s.repo.GetAuthorization(ctx, authID)
	if err != nil {
		return nil, apperrors.NotFound("authorization")
	}
	if a.UserID != userID {
		return nil, apperrors.NotFound("authorization")
	}
	return a, nil
}
