package transaction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
)

// Filters narrow a transaction listing. AccountID matches either side.
type Filters struct {
	Search    string
	FromDate  *time.Time
	ToDate    *time.Time
	AccountID *uuid.UUID
	Type      *ledger.TransactionType
}

// ListQuery is a filtered, cursor-bounded page request. The store
// returns up to Limit+1 rows ordered by (date desc, id desc) strictly
// below the Before tuple, letting the engine detect another page.
type ListQuery struct {
	LedgerID uuid.UUID
	Filters  Filters
	Before   *Cursor
	Limit    int
}

// Repository defines the persistence operations the transaction engine needs
type Repository interface {
	GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
	CreateTransaction(ctx context.Context, t *ledger.Transaction) error
	UpdateTransaction(ctx context.Context, t *ledger.Transaction) error
	DeleteTransaction(ctx context.Context, id uuid.UUID) error
	ListTransactions(ctx context.Context, q ListQuery) ([]*ledger.Transaction, error)
}
