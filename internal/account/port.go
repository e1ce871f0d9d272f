package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
)

// Repository defines the persistence operations the account engine needs
type Repository interface {
	GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error)

	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error)
	// FindActiveAccountByName returns nil, nil when no non-archived
	// account with that name exists in the ledger.
	FindActiveAccountByName(ctx context.Context, ledgerID uuid.UUID, name string) (*ledger.Account, error)
	MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error)
	CreateAccount(ctx context.Context, a *ledger.Account) error
	UpdateAccount(ctx context.Context, a *ledger.Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error)
	CountTransactionsByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	// CountTransactionsBetween counts transactions with one leg on a
	// and the other leg on b, in either direction.
	CountTransactionsBetween(ctx context.Context, a, b uuid.UUID) (int64, error)
	// ReassignTransactions rewrites every from/to reference equal to
	// source with target and returns the number of rows touched.
	ReassignTransactions(ctx context.Context, source, target uuid.UUID) (int64, error)

	ListTransactionsUpTo(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]*ledger.Transaction, error)
}
