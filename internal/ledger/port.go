package ledger

import (
	"context"

	"github.com/google/uuid"
)

// UnitOfWork brackets a region of store operations that either all
// commit or all roll back. Begin returns a derived context carrying the
// open transaction; repositories joined to that context route their
// reads and writes through it.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithinTx runs fn inside one unit of work, committing on success and
// rolling back on error or panic.
func WithinTx(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context) error) error {
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback(txCtx)
		}
	}()

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := uow.Commit(txCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Repository defines the persistence operations the ledger engine needs
type Repository interface {
	CreateLedger(ctx context.Context, l *Ledger) error
	GetLedger(ctx context.Context, id uuid.UUID) (*Ledger, error)
	ListLedgersByUser(ctx context.Context, userID uuid.UUID) ([]*Ledger, error)
	UpdateLedger(ctx context.Context, l *Ledger) error
	DeleteLedger(ctx context.Context, id uuid.UUID) error

	CreateAccount(ctx context.Context, a *Account) error
	ListAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*Account, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	CountTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error)

	// Cascade deletion primitives, called leaves-first inside one unit
	DeleteTransactionsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error)
	DeleteTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) error
	DeleteAccountsByLedger(ctx context.Context, ledgerID uuid.UUID) (int64, error)
	DeleteAuditLogsByLedger(ctx context.Context, ledgerID uuid.UUID) error
	DeleteImportSessionsByLedger(ctx context.Context, ledgerID uuid.UUID) error
}
