package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ctxKey is the context key type for the ambient transaction
type ctxKey string

const txContextKey ctxKey = "moneybook_tx"

// queryer is the subset of pgx shared by a pool and an open transaction
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txFromContext retrieves the ambient transaction, if any
func txFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer routes through the ambient transaction when one is open,
// otherwise straight to the pool. Every repository method goes through
// this so the same code works inside and outside a unit of work.
func getQueryer(ctx context.Context, pool *pgxpool.Pool) queryer {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// TxManager implements the unit of work over pgx transactions carried
// in the context. All repositories sharing the pool join the same
// transaction automatically.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a transaction manager on the pool
func NewTxManager(db *DB) *TxManager {
	return &TxManager{pool: db.Pool}
}

// Begin opens a transaction and returns a context carrying it
func (m *TxManager) Begin(ctx context.Context) (context.Context, error) {
	if txFromContext(ctx) != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txContextKey, tx), nil
}

// Commit commits the transaction in the context
func (m *TxManager) Commit(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction in the context
func (m *TxManager) Rollback(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Rollback(ctx); err != nil {
		if err == pgx.ErrTxClosed {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
