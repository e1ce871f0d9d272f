package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/transaction"
)

// TransactionRepository implements the transaction engine's repository
// interface, including the keyset-paginated listing.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{pool: db.Pool}
}

func (r *TransactionRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *TransactionRepository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return getAccountRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *TransactionRepository) CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return countChildrenRow(ctx, getQueryer(ctx, r.pool), accountID)
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return getTransactionRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return insertTransactionRow(ctx, getQueryer(ctx, r.pool), t)
}

// UpdateTransaction rewrites a transaction's mutable fields
func (r *TransactionRepository) UpdateTransaction(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	query := `
		UPDATE transactions
		SET date = $2, description = $3, amount = $4, from_account_id = $5,
			to_account_id = $6, type = $7, notes = $8, tag_ids = $9, updated_at = $10
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, t.ID, t.Date, t.Description, t.Amount.String(),
		t.FromAccountID, t.ToAccountID, string(t.Type), t.Notes, t.TagIDs, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// ListTransactions returns up to Limit+1 rows ordered by
// (date desc, id desc), strictly below the cursor tuple when one is
// set. The strict tuple comparison keeps pages stable while new rows
// land at the top.
func (r *TransactionRepository) ListTransactions(ctx context.Context, lq transaction.ListQuery) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ledger_id = $1`
	args := []any{lq.LedgerID}
	argPos := 2

	f := lq.Filters
	if f.Search != "" {
		query += fmt.Sprintf(" AND (description ILIKE $%d OR notes ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+f.Search+"%")
		argPos++
	}
	if f.FromDate != nil {
		query += fmt.Sprintf(" AND date >= $%d", argPos)
		args = append(args, *f.FromDate)
		argPos++
	}
	if f.ToDate != nil {
		query += fmt.Sprintf(" AND date <= $%d", argPos)
		args = append(args, *f.ToDate)
		argPos++
	}
	if f.AccountID != nil {
		query += fmt.Sprintf(" AND (from_account_id = $%d OR to_account_id = $%d)", argPos, argPos)
		args = append(args, *f.AccountID)
		argPos++
	}
	if f.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, string(*f.Type))
		argPos++
	}

	if lq.Before != nil {
		query += fmt.Sprintf(" AND (date, id) < ($%d, $%d)", argPos, argPos+1)
		args = append(args, lq.Before.Date, lq.Before.ID)
		argPos += 2
	}

	query += fmt.Sprintf(" ORDER BY date DESC, id DESC LIMIT $%d", argPos)
	args = append(args, lq.Limit+1)

	return listTransactionRows(ctx, getQueryer(ctx, r.pool), query, args...)
}
