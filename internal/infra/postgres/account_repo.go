package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/ledger"
)

// AccountRepository implements the account engine's repository interface
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

func (r *AccountRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *AccountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return getAccountRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *AccountRepository) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	return listAccountRows(ctx, getQueryer(ctx, r.pool), ledgerID)
}

// FindActiveAccountByName returns nil, nil when no non-archived account
// carries the name in the ledger.
func (r *AccountRepository) FindActiveAccountByName(ctx context.Context, ledgerID uuid.UUID, name string) (*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ledger_id = $1 AND name = $2 AND NOT is_archived`
	q := getQueryer(ctx, r.pool)
	a, err := scanAccount(q.QueryRow(ctx, query, ledgerID, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account by name: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	return maxSortOrderRow(ctx, getQueryer(ctx, r.pool), ledgerID, parentID)
}

func (r *AccountRepository) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return insertAccountRow(ctx, getQueryer(ctx, r.pool), a)
}

// UpdateAccount rewrites an account's mutable fields
func (r *AccountRepository) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	query := `
		UPDATE accounts
		SET name = $2, parent_id = $3, depth = $4, sort_order = $5,
			is_archived = $6, archived_at = $7, updated_at = $8
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, a.ID, a.Name, a.ParentID, a.Depth, a.SortOrder,
		a.IsArchived, a.ArchivedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func (r *AccountRepository) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (r *AccountRepository) CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return countChildrenRow(ctx, getQueryer(ctx, r.pool), accountID)
}

func (r *AccountRepository) CountTransactionsByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE from_account_id = $1 OR to_account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (r *AccountRepository) CountTransactionsBetween(ctx context.Context, a, b uuid.UUID) (int64, error) {
	var n int64
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE (from_account_id = $1 AND to_account_id = $2)
		    OR (from_account_id = $2 AND to_account_id = $1)`, a, b).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions between accounts: %w", err)
	}
	return n, nil
}

// ReassignTransactions rewrites every reference to source with target
// and reports how many rows changed.
func (r *AccountRepository) ReassignTransactions(ctx context.Context, source, target uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	query := `
		UPDATE transactions
		SET from_account_id = CASE WHEN from_account_id = $1 THEN $2 ELSE from_account_id END,
			to_account_id = CASE WHEN to_account_id = $1 THEN $2 ELSE to_account_id END,
			updated_at = $3
		WHERE from_account_id = $1 OR to_account_id = $1
	`
	q := getQueryer(ctx, r.pool)
	tag, err := q.Exec(ctx, query, source, target, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AccountRepository) ListTransactionsUpTo(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error) {
	return listTransactionsUpToRows(ctx, getQueryer(ctx, r.pool), ledgerID, asOf)
}
