package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/audit"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

// Service is the ledger engine: ledger lifecycle, system accounts, and
// the clear/cascade operations.
type Service struct {
	repo  Repository
	uow   UnitOfWork
	audit audit.Recorder
}

// NewService creates a new ledger service
func NewService(repo Repository, uow UnitOfWork, recorder audit.Recorder) *Service {
	return &Service{repo: repo, uow: uow, audit: recorder}
}

// Create writes the ledger, its two system accounts and, when the
// initial balance is positive, the Equity->Cash opening transfer, all
// inside one unit of work.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, name string, initialBalance money.Amount) (*Ledger, error) {
	now := time.Now().UTC()
	l := &Ledger{
		ID:             uuid.New(),
		UserID:         userID,
		Name:           name,
		InitialBalance: initialBalance,
		CreatedAt:      now,
	}
	if err := l.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid ledger")
	}

	err := WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateLedger(ctx, l); err != nil {
			return fmt.Errorf("failed to create ledger: %w", err)
		}

		cash, equity := newSystemAccounts(l.ID, now)
		if err := s.repo.CreateAccount(ctx, cash); err != nil {
			return fmt.Errorf("failed to create cash account: %w", err)
		}
		if err := s.repo.CreateAccount(ctx, equity); err != nil {
			return fmt.Errorf("failed to create equity account: %w", err)
		}

		if initialBalance.IsPositive() {
			opening := &Transaction{
				ID:            uuid.New(),
				LedgerID:      l.ID,
				Date:          now,
				Description:   "Initial balance",
				Amount:        initialBalance,
				FromAccountID: equity.ID,
				ToAccountID:   cash.ID,
				Type:          TransactionTypeTransfer,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.CreateTransaction(ctx, opening); err != nil {
				return fmt.Errorf("failed to create opening transfer: %w", err)
			}
		}

		return s.audit.Record(ctx, audit.Created(audit.EntityLedger, l.ID, l.ID, ledgerSnapshot(l)))
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Get retrieves a ledger and enforces ownership. Foreign ledgers are
// reported as not found.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*Ledger, error) {
	l, err := s.repo.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

// List retrieves all ledgers owned by a user
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*Ledger, error) {
	return s.repo.ListLedgersByUser(ctx, userID)
}

// UpdateName renames a ledger
func (s *Service) UpdateName(ctx context.Context, id, userID uuid.UUID, name string) (*Ledger, error) {
	if name == "" {
		return nil, apperrors.Validation("ledger name cannot be empty")
	}

	l, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	old := ledgerSnapshot(l)
	l.Name = name

	err = WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.UpdateLedger(ctx, l); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityLedger, l.ID, l.ID, old, ledgerSnapshot(l)))
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Delete removes a ledger and everything it owns. Deletion order is
// leaves first: transactions, templates, accounts, audit logs, import
// sessions, then the ledger row, all in one unit. The audit stream goes
// with the ledger, so no audit row outlives this call.
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	l, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	return WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if _, err := s.repo.DeleteTransactionsByLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete transactions: %w", err)
		}
		if err := s.repo.DeleteTemplatesByLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete templates: %w", err)
		}
		if _, err := s.repo.DeleteAccountsByLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete accounts: %w", err)
		}
		if err := s.repo.DeleteAuditLogsByLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete audit logs: %w", err)
		}
		if err := s.repo.DeleteImportSessionsByLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete import sessions: %w", err)
		}
		if err := s.repo.DeleteLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("failed to delete ledger: %w", err)
		}
		return nil
	})
}

// ClearTransactions deletes every transaction in the ledger but keeps
// the chart of accounts, system accounts included.
func (s *Service) ClearTransactions(ctx context.Context, id, userID uuid.UUID) error {
	l, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	return WithinTx(ctx, s.uow, func(ctx context.Context) error {
		deleted, err := s.repo.DeleteTransactionsByLedger(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("failed to clear transactions: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityLedger, l.ID, l.ID, nil, map[string]interface{}{
			"operation":            "clear_transactions",
			"deleted_transactions": deleted,
		}))
	})
}

// ClearAccounts deletes all transactions and all accounts, then
// recreates the two system accounts with zero balance. Unlike Delete,
// the ledger itself survives.
func (s *Service) ClearAccounts(ctx context.Context, id, userID uuid.UUID) error {
	l, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	return WithinTx(ctx, s.uow, func(ctx context.Context) error {
		deletedTx, err := s.repo.DeleteTransactionsByLedger(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("failed to clear transactions: %w", err)
		}
		deletedAccounts, err := s.repo.DeleteAccountsByLedger(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("failed to clear accounts: %w", err)
		}

		now := time.Now().UTC()
		cash, equity := newSystemAccounts(l.ID, now)
		if err := s.repo.CreateAccount(ctx, cash); err != nil {
			return fmt.Errorf("failed to recreate cash account: %w", err)
		}
		if err := s.repo.CreateAccount(ctx, equity); err != nil {
			return fmt.Errorf("failed to recreate equity account: %w", err)
		}

		return s.audit.Record(ctx, audit.Updated(audit.EntityLedger, l.ID, l.ID, nil, map[string]interface{}{
			"operation":            "clear_accounts",
			"deleted_transactions": deletedTx,
			"deleted_accounts":     deletedAccounts,
		}))
	})
}

// newSystemAccounts builds the Cash and Equity accounts every ledger
// carries for its whole life.
func newSystemAccounts(ledgerID uuid.UUID, now time.Time) (*Account, *Account) {
	cash := &Account{
		ID:        uuid.New(),
		LedgerID:  ledgerID,
		Name:      SystemAccountCash,
		Type:      AccountTypeAsset,
		IsSystem:  true,
		Depth:     1,
		SortOrder: SortOrderGap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	equity := &Account{
		ID:        uuid.New(),
		LedgerID:  ledgerID,
		Name:      SystemAccountEquity,
		Type:      AccountTypeAsset,
		IsSystem:  true,
		Depth:     1,
		SortOrder: 2 * SortOrderGap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return cash, equity
}

func ledgerSnapshot(l *Ledger) map[string]interface{} {
	return map[string]interface{}{
		"name":            l.Name,
		"initial_balance": l.InitialBalance.String(),
		"user_id":         l.UserID.String(),
	}
}
