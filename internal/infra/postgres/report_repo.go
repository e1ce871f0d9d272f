package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/ledger"
)

// ReportRepository feeds the reporting engine's read-only views
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository creates a new PostgreSQL report repository
func NewReportRepository(db *DB) *ReportRepository {
	return &ReportRepository{pool: db.Pool}
}

func (r *ReportRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *ReportRepository) ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error) {
	return listAccountRows(ctx, getQueryer(ctx, r.pool), ledgerID)
}

func (r *ReportRepository) ListTransactionsUpTo(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error) {
	return listTransactionsUpToRows(ctx, getQueryer(ctx, r.pool), ledgerID, asOf)
}

func (r *ReportRepository) ListTransactionsBetween(ctx context.Context, ledgerID uuid.UUID, start, end time.Time) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ledger_id = $1 AND date >= $2 AND date <= $3 ORDER BY date, id`
	return listTransactionRows(ctx, getQueryer(ctx, r.pool), query, ledgerID, start, end)
}
