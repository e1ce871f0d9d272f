package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

// Monetary columns are cast to text in every select and parsed through
// pkg/money, so scale-2 values never pass through a float.

const ledgerColumns = `id, user_id, name, initial_balance::text, created_at`

const accountColumns = `id, ledger_id, name, type, balance_cache::text, is_system,
	parent_id, depth, sort_order, is_archived, archived_at, created_at, updated_at`

const transactionColumns = `id, ledger_id, date, description, amount::text,
	from_account_id, to_account_id, type, notes, amount_expression,
	recurring_template_id, installment_plan_id, installment_number,
	source_channel, channel_message_id, tag_ids, created_at, updated_at`

func scanLedger(row pgx.Row) (*ledger.Ledger, error) {
	var l ledger.Ledger
	var initialBalance string
	if err := row.Scan(&l.ID, &l.UserID, &l.Name, &initialBalance, &l.CreatedAt); err != nil {
		return nil, err
	}
	amount, err := money.Parse(initialBalance)
	if err != nil {
		return nil, fmt.Errorf("bad initial balance: %w", err)
	}
	l.InitialBalance = amount
	return &l, nil
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	var balance string
	err := row.Scan(&a.ID, &a.LedgerID, &a.Name, &a.Type, &balance, &a.IsSystem,
		&a.ParentID, &a.Depth, &a.SortOrder, &a.IsArchived, &a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	amount, err := money.Parse(balance)
	if err != nil {
		return nil, fmt.Errorf("bad balance cache: %w", err)
	}
	a.BalanceCache = amount
	return &a, nil
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var amount string
	err := row.Scan(&t.ID, &t.LedgerID, &t.Date, &t.Description, &amount,
		&t.FromAccountID, &t.ToAccountID, &t.Type, &t.Notes, &t.AmountExpression,
		&t.RecurringTemplateID, &t.InstallmentPlanID, &t.InstallmentNumber,
		&t.SourceChannel, &t.ChannelMessageID, &t.TagIDs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := money.Parse(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	t.Amount = parsed
	return &t, nil
}

func getLedgerRow(ctx context.Context, q queryer, id uuid.UUID) (*ledger.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE id = $1`
	l, err := scanLedger(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("ledger")
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return l, nil
}

func getAccountRow(ctx context.Context, q queryer, id uuid.UUID) (*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("account")
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func listAccountRows(ctx context.Context, q queryer, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ledger_id = $1 ORDER BY depth, sort_order`
	rows, err := q.Query(ctx, query, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

func insertAccountRow(ctx context.Context, q queryer, a *ledger.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	query := `
		INSERT INTO accounts (id, ledger_id, name, type, balance_cache, is_system,
			parent_id, depth, sort_order, is_archived, archived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.Exec(ctx, query,
		a.ID, a.LedgerID, a.Name, string(a.Type), a.BalanceCache.String(), a.IsSystem,
		a.ParentID, a.Depth, a.SortOrder, a.IsArchived, a.ArchivedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func maxSortOrderRow(ctx context.Context, q queryer, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(sort_order), 0) FROM accounts WHERE ledger_id = $1 AND parent_id IS NOT DISTINCT FROM $2`
	var max int
	if err := q.QueryRow(ctx, query, ledgerID, parentID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read sort order: %w", err)
	}
	return max, nil
}

func countChildrenRow(ctx context.Context, q queryer, accountID uuid.UUID) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id = $1 AND NOT is_archived`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count children: %w", err)
	}
	return n, nil
}

func getTransactionRow(ctx context.Context, q queryer, id uuid.UUID) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("transaction")
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func insertTransactionRow(ctx context.Context, q queryer, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	query := `
		INSERT INTO transactions (id, ledger_id, date, description, amount,
			from_account_id, to_account_id, type, notes, amount_expression,
			recurring_template_id, installment_plan_id, installment_number,
			source_channel, channel_message_id, tag_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := q.Exec(ctx, query,
		t.ID, t.LedgerID, t.Date, t.Description, t.Amount.String(),
		t.FromAccountID, t.ToAccountID, string(t.Type), t.Notes, t.AmountExpression,
		t.RecurringTemplateID, t.InstallmentPlanID, t.InstallmentNumber,
		t.SourceChannel, t.ChannelMessageID, t.TagIDs, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func listTransactionRows(ctx context.Context, q queryer, query string, args ...any) ([]*ledger.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func listTransactionsUpToRows(ctx context.Context, q queryer, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ledger_id = $1 AND date <= $2 ORDER BY date, id`
	return listTransactionRows(ctx, q, query, ledgerID, asOf)
}
