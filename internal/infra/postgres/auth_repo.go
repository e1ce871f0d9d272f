package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/auth"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
)

const tokenColumns = `id, user_id, name, token_hash, token_prefix, last_used_at, revoked_at, created_at`

const bindingColumns = `id, user_id, channel, external_user_id, display_name,
	default_ledger_id, is_active, last_used_at, unbound_at, created_at`

// TokenRepository implements API token persistence
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new PostgreSQL token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{pool: db.Pool}
}

func (r *TokenRepository) CreateToken(ctx context.Context, t *auth.APIToken) error {
	query := `
		INSERT INTO api_tokens (id, user_id, name, token_hash, token_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, t.ID, t.UserID, t.Name, t.Hash, t.Prefix, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func scanToken(row pgx.Row) (*auth.APIToken, error) {
	var t auth.APIToken
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Hash, &t.Prefix, &t.LastUsedAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTokenByHash returns nil, nil when no row matches the digest
func (r *TokenRepository) GetTokenByHash(ctx context.Context, hash string) (*auth.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE token_hash = $1`
	q := getQueryer(ctx, r.pool)
	t, err := scanToken(q.QueryRow(ctx, query, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token by hash: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) GetToken(ctx context.Context, id uuid.UUID) (*auth.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	t, err := scanToken(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("token")
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) ListTokensByUser(ctx context.Context, userID uuid.UUID, includeRevoked bool) ([]*auth.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE user_id = $1`
	if !includeRevoked {
		query += ` AND revoked_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*auth.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return tokens, nil
}

func (r *TokenRepository) CountActiveTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM api_tokens WHERE user_id = $1 AND revoked_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return n, nil
}

func (r *TokenRepository) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE api_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// TouchLastUsed updates last_used_at under a row lock so concurrent
// validations of the same token serialize.
func (r *TokenRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE api_tokens SET last_used_at = $2
		WHERE id IN (SELECT id FROM api_tokens WHERE id = $1 FOR UPDATE)
	`
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// BindingRepository implements channel binding persistence
type BindingRepository struct {
	pool *pgxpool.Pool
}

// NewBindingRepository creates a new PostgreSQL binding repository
func NewBindingRepository(db *DB) *BindingRepository {
	return &BindingRepository{pool: db.Pool}
}

func (r *BindingRepository) CreateBinding(ctx context.Context, b *auth.ChannelBinding) error {
	query := `
		INSERT INTO channel_bindings (id, user_id, channel, external_user_id, display_name,
			default_ledger_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, b.ID, b.UserID, string(b.Channel), b.ExternalUserID,
		b.DisplayName, b.DefaultLedgerID, b.IsActive, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create binding: %w", err)
	}
	return nil
}

func scanBinding(row pgx.Row) (*auth.ChannelBinding, error) {
	var b auth.ChannelBinding
	err := row.Scan(&b.ID, &b.UserID, &b.Channel, &b.ExternalUserID, &b.DisplayName,
		&b.DefaultLedgerID, &b.IsActive, &b.LastUsedAt, &b.UnboundAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BindingRepository) GetBinding(ctx context.Context, id uuid.UUID) (*auth.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	b, err := scanBinding(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("channel binding")
		}
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}
	return b, nil
}

// GetActiveBinding returns nil, nil when no active binding exists
func (r *BindingRepository) GetActiveBinding(ctx context.Context, channel auth.Channel, externalUserID string) (*auth.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE channel = $1 AND external_user_id = $2 AND is_active`
	q := getQueryer(ctx, r.pool)
	b, err := scanBinding(q.QueryRow(ctx, query, string(channel), externalUserID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active binding: %w", err)
	}
	return b, nil
}

func (r *BindingRepository) ListBindingsByUser(ctx context.Context, userID uuid.UUID) ([]*auth.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE user_id = $1 ORDER BY created_at DESC`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*auth.ChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bindings: %w", err)
	}
	return bindings, nil
}

func (r *BindingRepository) UpdateBinding(ctx context.Context, b *auth.ChannelBinding) error {
	query := `
		UPDATE channel_bindings
		SET display_name = $2, default_ledger_id = $3, is_active = $4, last_used_at = $5, unbound_at = $6
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, b.ID, b.DisplayName, b.DefaultLedgerID, b.IsActive, b.LastUsedAt, b.UnboundAt)
	if err != nil {
		return fmt.Errorf("failed to update binding: %w", err)
	}
	return nil
}
