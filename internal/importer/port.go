package importer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// Repository defines the persistence the import pipeline needs.
// Account and transaction writes join the ambient unit of work so a
// failed execute leaves nothing behind.
type Repository interface {
	GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*ledger.Account, error)
	CreateAccount(ctx context.Context, a *ledger.Account) error
	MaxSortOrder(ctx context.Context, ledgerID uuid.UUID, parentID *uuid.UUID) (int, error)

	CreateTransaction(ctx context.Context, t *ledger.Transaction) error
	// TransactionExists checks the duplicate key: same ledger, date,
	// amount and account pair.
	TransactionExists(ctx context.Context, ledgerID uuid.UUID, date time.Time, amount money.Amount, fromID, toID uuid.UUID) (bool, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	// GetSessionForUpdate reads the session under a row lock; callers
	// must already be inside a unit of work. The lock serializes
	// concurrent executes of the same session.
	GetSessionForUpdate(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessionsByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
}

// ScratchStore holds raw statement bytes between preview and execute.
// Entries expire; a miss at execute time means the preview lapsed.
type ScratchStore interface {
	Put(ctx context.Context, sessionID uuid.UUID, data []byte, ttl time.Duration) error
	// Get returns nil, nil for a missing or expired entry
	Get(ctx context.Context, sessionID uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// Enhancer refines category suggestions for descriptions the keyword
// rules could not place. Implementations may call out to a language
// model; failures degrade to the rule fallback, never to an error.
type Enhancer interface {
	Suggest(ctx context.Context, descriptions []string) (map[string]string, error)
}
