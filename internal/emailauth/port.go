package emailauth

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for authorizations and scan configs
type Repository interface {
	CreateAuthorization(ctx context.Context, a *Authorization) error
	GetAuthorization(ctx context.Context, id uuid.UUID) (*Authorization, error)
	// GetAuthorizationByEmail returns nil, nil when the user has no
	// authorization for the address.
	GetAuthorizationByEmail(ctx context.Context, userID uuid.UUID, email string) (*Authorization, error)
	ListAuthorizationsByUser(ctx context.Context, userID uuid.UUID) ([]*Authorization, error)
	UpdateAuthorization(ctx context.Context, a *Authorization) error

	CreateScanConfig(ctx context.Context, c *ScanConfig) error
	GetScanConfig(ctx context.Context, id uuid.UUID) (*ScanConfig, error)
	ListScanConfigsByUser(ctx context.Context, userID uuid.UUID) ([]*ScanConfig, error)
	// ListActiveScanConfigs joins active configs to CONNECTED
	// authorizations; the scheduler reloads from this on restart.
	ListActiveScanConfigs(ctx context.Context) ([]*ScanConfig, error)
	UpdateScanConfig(ctx context.Context, c *ScanConfig) error
	DeleteScanConfig(ctx context.Context, id uuid.UUID) error

	CreateScanRun(ctx context.Context, r *ScanRun) error
	ListScanRuns(ctx context.Context, scanConfigID uuid.UUID, limit int) ([]*ScanRun, error)
}
