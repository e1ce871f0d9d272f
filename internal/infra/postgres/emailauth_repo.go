package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/emailauth"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
)

const authorizationColumns = `id, user_id, provider, email_address, status, sealed_token,
	last_error, connected_at, disconnected_at, updated_at`

const scanConfigColumns = `id, authorization_id, ledger_id, bank_code, frequency, hour,
	day_of_week, is_active, last_scan_at, created_at, updated_at`

// EmailAuthRepository implements persistence for email authorizations,
// scan configs and scan runs.
type EmailAuthRepository struct {
	pool *pgxpool.Pool
}

// NewEmailAuthRepository creates a new PostgreSQL email auth repository
func NewEmailAuthRepository(db *DB) *EmailAuthRepository {
	return &EmailAuthRepository{pool: db.Pool}
}

func (r *EmailAuthRepository) CreateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	query := `
		INSERT INTO email_authorizations (id, user_id, provider, email_address, status, sealed_token,
			last_error, connected_at, disconnected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, a.ID, a.UserID, string(a.Provider), a.EmailAddress, string(a.Status),
		a.SealedToken, a.LastError, a.ConnectedAt, a.DisconnectedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create authorization: %w", err)
	}
	return nil
}

func scanAuthorization(row pgx.Row) (*emailauth.Authorization, error) {
	var a emailauth.Authorization
	err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.EmailAddress, &a.Status, &a.SealedToken,
		&a.LastError, &a.ConnectedAt, &a.DisconnectedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *EmailAuthRepository) GetAuthorization(ctx context.Context, id uuid.UUID) (*emailauth.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM email_authorizations WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	a, err := scanAuthorization(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("authorization")
		}
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return a, nil
}

// GetAuthorizationByEmail returns nil, nil when the user has no
// authorization for the address.
func (r *EmailAuthRepository) GetAuthorizationByEmail(ctx context.Context, userID uuid.UUID, email string) (*emailauth.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM email_authorizations WHERE user_id = $1 AND email_address = $2`
	q := getQueryer(ctx, r.pool)
	a, err := scanAuthorization(q.QueryRow(ctx, query, userID, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get authorization by email: %w", err)
	}
	return a, nil
}

func (r *EmailAuthRepository) ListAuthorizationsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM email_authorizations WHERE user_id = $1 ORDER BY connected_at DESC`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorizations: %w", err)
	}
	defer rows.Close()

	var auths []*emailauth.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorization: %w", err)
		}
		auths = append(auths, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorizations: %w", err)
	}
	return auths, nil
}

func (r *EmailAuthRepository) UpdateAuthorization(ctx context.Context, a *emailauth.Authorization) error {
	query := `
		UPDATE email_authorizations
		SET status = $2, sealed_token = $3, last_error = $4, connected_at = $5,
			disconnected_at = $6, updated_at = $7
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, a.ID, string(a.Status), a.SealedToken, a.LastError,
		a.ConnectedAt, a.DisconnectedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update authorization: %w", err)
	}
	return nil
}

func (r *EmailAuthRepository) CreateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	query := `
		INSERT INTO email_scan_configs (id, authorization_id, ledger_id, bank_code, frequency, hour,
			day_of_week, is_active, last_scan_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, c.ID, c.AuthorizationID, c.LedgerID, c.BankCode, string(c.Frequency),
		c.Hour, c.DayOfWeek, c.IsActive, c.LastScanAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scan config: %w", err)
	}
	return nil
}

func scanScanConfig(row pgx.Row) (*emailauth.ScanConfig, error) {
	var c emailauth.ScanConfig
	err := row.Scan(&c.ID, &c.AuthorizationID, &c.LedgerID, &c.BankCode, &c.Frequency, &c.Hour,
		&c.DayOfWeek, &c.IsActive, &c.LastScanAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *EmailAuthRepository) GetScanConfig(ctx context.Context, id uuid.UUID) (*emailauth.ScanConfig, error) {
	query := `SELECT ` + scanConfigColumns + ` FROM email_scan_configs WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	c, err := scanScanConfig(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("scan config")
		}
		return nil, fmt.Errorf("failed to get scan config: %w", err)
	}
	return c, nil
}

func (r *EmailAuthRepository) ListScanConfigsByUser(ctx context.Context, userID uuid.UUID) ([]*emailauth.ScanConfig, error) {
	query := `
		SELECT ` + prefixScanConfigColumns("c") + `
		FROM email_scan_configs c
		JOIN email_authorizations a ON a.id = c.authorization_id
		WHERE a.user_id = $1
		ORDER BY c.created_at
	`
	return r.queryScanConfigs(ctx, query, userID)
}

// ListActiveScanConfigs returns active configs whose authorization is
// still CONNECTED; this is what the scheduler loads on restart.
func (r *EmailAuthRepository) ListActiveScanConfigs(ctx context.Context) ([]*emailauth.ScanConfig, error) {
	query := `
		SELECT ` + prefixScanConfigColumns("c") + `
		FROM email_scan_configs c
		JOIN email_authorizations a ON a.id = c.authorization_id
		WHERE c.is_active AND a.status = 'CONNECTED'
		ORDER BY c.created_at
	`
	return r.queryScanConfigs(ctx, query)
}

func (r *EmailAuthRepository) queryScanConfigs(ctx context.Context, query string, args ...any) ([]*emailauth.ScanConfig, error) {
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan configs: %w", err)
	}
	defer rows.Close()

	var configs []*emailauth.ScanConfig
	for rows.Next() {
		c, err := scanScanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan configs: %w", err)
	}
	return configs, nil
}

func (r *EmailAuthRepository) UpdateScanConfig(ctx context.Context, c *emailauth.ScanConfig) error {
	query := `
		UPDATE email_scan_configs
		SET bank_code = $2, frequency = $3, hour = $4, day_of_week = $5,
			is_active = $6, last_scan_at = $7, updated_at = $8
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, c.ID, c.BankCode, string(c.Frequency), c.Hour, c.DayOfWeek,
		c.IsActive, c.LastScanAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update scan config: %w", err)
	}
	return nil
}

func (r *EmailAuthRepository) DeleteScanConfig(ctx context.Context, id uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM email_scan_configs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete scan config: %w", err)
	}
	return nil
}

func (r *EmailAuthRepository) CreateScanRun(ctx context.Context, run *emailauth.ScanRun) error {
	query := `
		INSERT INTO email_scan_runs (id, scan_config_id, status, matched_mail, imported_rows,
			error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, run.ID, run.ScanConfigID, string(run.Status), run.MatchedMail,
		run.ImportedRows, run.ErrorMessage, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to create scan run: %w", err)
	}
	return nil
}

func (r *EmailAuthRepository) ListScanRuns(ctx context.Context, scanConfigID uuid.UUID, limit int) ([]*emailauth.ScanRun, error) {
	query := `
		SELECT id, scan_config_id, status, matched_mail, imported_rows, error_message, started_at, finished_at
		FROM email_scan_runs
		WHERE scan_config_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, scanConfigID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*emailauth.ScanRun
	for rows.Next() {
		var run emailauth.ScanRun
		err := rows.Scan(&run.ID, &run.ScanConfigID, &run.Status, &run.MatchedMail,
			&run.ImportedRows, &run.ErrorMessage, &run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan runs: %w", err)
	}
	return runs, nil
}

// prefixScanConfigColumns qualifies the scan config column list with a
// table alias for joined queries.
func prefixScanConfigColumns(alias string) string {
	return alias + `.id, ` + alias + `.authorization_id, ` + alias + `.ledger_id, ` +
		alias + `.bank_code, ` + alias + `.frequency, ` + alias + `.hour, ` +
		alias + `.day_of_week, ` + alias + `.is_active, ` + alias + `.last_scan_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
