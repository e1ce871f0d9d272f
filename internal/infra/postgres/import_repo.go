package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/importer"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

const sessionColumns = `id, user_id, ledger_id, source_type, bank_code, status,
	file_name, file_digest, file_size, row_count, mapping, overrides,
	created_count, skipped_count, duplicate_count, accounts_created,
	error_message, created_at, completed_at`

// ImportRepository implements the import pipeline's repository interface
type ImportRepository struct {
	pool *pgxpool.Pool
}

// NewImportRepository creates a new PostgreSQL import repository
func NewImportRepository(db *DB) *ImportRepository {
	return &ImportRepository{pool: db.Pool}
}

func (r *ImportRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *ImportRepository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return getAccountRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *ImportRepository) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	return listAccountRows(ctx, getQueryer(ctx, r.pool), ledgerID)
}

func (r *ImportRepository) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return insertAccountRow(ctx, getQueryer(ctx, r.pool), a)
}

func (r *ImportRepository) MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	return maxSortOrderRow(ctx, getQueryer(ctx, r.pool), ledgerID, parentID)
}

func (r *ImportRepository) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return insertTransactionRow(ctx, getQueryer(ctx, r.pool), t)
}

// TransactionExists checks the duplicate key used by imports
func (r *ImportRepository) TransactionExists(ctx context.Context, ledgerID uuid.UUID, date time.Time, amount money.Amount, fromID, toID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE ledger_id = $1 AND date = $2 AND amount = $3
				AND from_account_id = $4 AND to_account_id = $5
		)
	`
	var exists bool
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx, query, ledgerID, date, amount.String(), fromID, toID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed duplicate check: %w", err)
	}
	return exists, nil
}

func (r *ImportRepository) CreateSession(ctx context.Context, s *importer.Session) error {
	mappingJSON, err := json.Marshal(s.Mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}
	overridesJSON, err := json.Marshal(s.Overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}

	query := `
		INSERT INTO import_sessions (id, user_id, ledger_id, source_type, bank_code, status,
			file_name, file_digest, file_size, row_count, mapping, overrides,
			created_count, skipped_count, duplicate_count, accounts_created,
			error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	q := getQueryer(ctx, r.pool)
	_, err = q.Exec(ctx, query, s.ID, s.UserID, s.LedgerID, string(s.SourceType), s.BankCode,
		string(s.Status), s.FileName, s.FileDigest, s.FileSize, s.RowCount, mappingJSON, overridesJSON,
		s.CreatedCount, s.SkippedCount, s.DuplicateCount, s.AccountsCreated,
		s.ErrorMessage, s.CreatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*importer.Session, error) {
	var s importer.Session
	var mappingJSON, overridesJSON []byte
	err := row.Scan(&s.ID, &s.UserID, &s.LedgerID, &s.SourceType, &s.BankCode, &s.Status,
		&s.FileName, &s.FileDigest, &s.FileSize, &s.RowCount, &mappingJSON, &overridesJSON,
		&s.CreatedCount, &s.SkippedCount, &s.DuplicateCount, &s.AccountsCreated,
		&s.ErrorMessage, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &s.Mapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
		}
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &s.Overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	return &s, nil
}

func (r *ImportRepository) GetSession(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	s, err := scanSession(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("import session")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetSessionForUpdate locks the session row for the ambient
// transaction so concurrent executes serialize on it.
func (r *ImportRepository) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (*importer.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE id = $1 FOR UPDATE`
	q := getQueryer(ctx, r.pool)
	s, err := scanSession(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("import session")
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	return s, nil
}

func (r *ImportRepository) ListSessionsByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*importer.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE ledger_id = $1 ORDER BY created_at DESC LIMIT $2`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, ledgerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*importer.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func (r *ImportRepository) UpdateSession(ctx context.Context, s *importer.Session) error {
	query := `
		UPDATE import_sessions
		SET status = $2, created_count = $3, skipped_count = $4, duplicate_count = $5,
			accounts_created = $6, error_message = $7, completed_at = $8
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, s.ID, string(s.Status), s.CreatedCount, s.SkippedCount,
		s.DuplicateCount, s.AccountsCreated, s.ErrorMessage, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}
