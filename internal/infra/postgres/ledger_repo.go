package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/ledger"
)

// LedgerRepository implements the ledger engine's repository interface
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{pool: db.Pool}
}

// CreateLedger inserts a new ledger
func (r *LedgerRepository) CreateLedger(ctx context.Context, l *ledger.Ledger) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid ledger: %w", err)
	}
	query := `
		INSERT INTO ledgers (id, user_id, name, initial_balance, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, l.ID, l.UserID, l.Name, l.InitialBalance.String(), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// GetLedger retrieves a ledger by ID
func (r *LedgerRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

// ListLedgersByUser returns a user's ledgers, oldest first
func (r *LedgerRepository) ListLedgersByUser(ctx context.Context, userID uuid.UUID) ([]*ledger.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE user_id = $1 ORDER BY created_at`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []*ledger.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledgers: %w", err)
	}
	return ledgers, nil
}

// UpdateLedger rewrites a ledger's mutable fields
func (r *LedgerRepository) UpdateLedger(ctx context.Context, l *ledger.Ledger) error {
	query := `UPDATE ledgers SET name = $2 WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, query, l.ID, l.Name); err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	return nil
}

// DeleteLedger removes the ledger row itself; callers clear dependents
// first, inside the same unit.
func (r *LedgerRepository) DeleteLedger(ctx context.Context, id uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM ledgers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account
func (r *LedgerRepository) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return insertAccountRow(ctx, getQueryer(ctx, r.pool), a)
}

// ListAccountsByLedger returns every account in a ledger
func (r *LedgerRepository) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	return listAccountRows(ctx, getQueryer(ctx, r.pool), ledgerID)
}

// CreateTransaction inserts a new transaction
func (r *LedgerRepository) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return insertTransactionRow(ctx, getQueryer(ctx, r.pool), t)
}

// CountTransactionsByLedger counts a ledger's transactions
func (r *LedgerRepository) CountTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var n int64
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE ledger_id = $1`, ledgerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// DeleteTransactionsByLedger removes all transactions in a ledger
func (r *LedgerRepository) DeleteTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	q := getQueryer(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM transactions WHERE ledger_id = $1`, ledgerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTemplatesByLedger removes recurring templates and installment
// plans in a ledger.
func (r *LedgerRepository) DeleteTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM recurring_templates WHERE ledger_id = $1`, ledgerID); err != nil {
		return fmt.Errorf("failed to delete templates: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM installment_plans WHERE ledger_id = $1`, ledgerID); err != nil {
		return fmt.Errorf("failed to delete installment plans: %w", err)
	}
	return nil
}

// DeleteAccountsByLedger removes all accounts in a ledger
func (r *LedgerRepository) DeleteAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	q := getQueryer(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM accounts WHERE ledger_id = $1`, ledgerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete accounts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAuditLogsByLedger removes a ledger's audit trail
func (r *LedgerRepository) DeleteAuditLogsByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM audit_logs WHERE ledger_id = $1`, ledgerID); err != nil {
		return fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return nil
}

// DeleteImportSessionsByLedger removes a ledger's import sessions
func (r *LedgerRepository) DeleteImportSessionsByLedger(ctx context.Context, ledgerID uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM import_sessions WHERE ledger_id = $1`, ledgerID); err != nil {
		return fmt.Errorf("failed to delete import sessions: %w", err)
	}
	return nil
}
