package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

// Service is the account engine: tree edits, deletion with
// reassignment, and authoritative balance computation.
type Service struct {
	repo  Repository
	uow   ledger.UnitOfWork
	audit audit.Recorder
}

// NewService creates a new account service
func NewService(repo Repository, uow ledger.UnitOfWork, recorder audit.Recorder) *Service {
	return &Service{repo: repo, uow: uow, audit: recorder}
}

// CreateInput carries the fields for a new account
type CreateInput struct {
	LedgerID uuid.UUID
	Name     string
	Type     ledger.AccountType
	ParentID *uuid.UUID
}

// Create adds an account to the chart, enforcing the depth ceiling, the
// parent type and ledger checks, and name uniqueness among non-archived
// accounts.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*ledger.Account, error) {
	if _, err := s.ownedLedger(ctx, in.LedgerID, userID); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, apperrors.Validation("account name cannot be empty")
	}
	if !in.Type.IsValid() {
		return nil, apperrors.Validationf("invalid account type %q", in.Type)
	}

	existing, err := s.repo.FindActiveAccountByName(ctx, in.LedgerID, in.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check account name: %w", err)
	}
	if existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("account %q already exists", in.Name))
	}

	depth := 1
	if in.ParentID != nil {
		parent, err := s.repo.GetAccount(ctx, *in.ParentID)
		if err != nil {
			return nil, apperrors.NotFound("parent account")
		}
		if parent.LedgerID != in.LedgerID {
			return nil, apperrors.Validation("parent account belongs to a different ledger")
		}
		if parent.Type != in.Type {
			return nil, apperrors.Validationf("child type %s does not match parent type %s", in.Type, parent.Type)
		}
		depth = parent.Depth + 1
		if depth > ledger.MaxAccountDepth {
			return nil, apperrors.Validationf("account depth cannot exceed %d", ledger.MaxAccountDepth)
		}
	}

	maxSort, err := s.repo.MaxSortOrder(ctx, in.LedgerID, in.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sort order: %w", err)
	}

	now := time.Now().UTC()
	a := &ledger.Account{
		ID:        uuid.New(),
		LedgerID:  in.LedgerID,
		Name:      in.Name,
		Type:      in.Type,
		ParentID:  in.ParentID,
		Depth:     depth,
		SortOrder: maxSort + ledger.SortOrderGap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid account")
	}

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityAccount, a.ID, a.LedgerID, accountSnapshot(a)))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateInput carries a rename and/or a re-parent request. MoveToRoot
// and NewParentID are mutually exclusive.
type UpdateInput struct {
	Name        *string
	NewParentID *uuid.UUID
	MoveToRoot  bool
}

// Update renames or re-parents an account. Re-parenting revalidates the
// depth of the entire moved subtree: a subtree of height h attached
// under a node of depth d requires d + h <= 3.
func (s *Service) Update(ctx context.Context, userID, accountID uuid.UUID, in UpdateInput) (*ledger.Account, error) {
	a, err := s.ownedAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	if a.IsSystem {
		return nil, apperrors.ForbiddenSystem("system accounts cannot be modified")
	}
	old := accountSnapshot(a)

	if in.Name != nil {
		if *in.Name == "" {
			return nil, apperrors.Validation("account name cannot be empty")
		}
		if *in.Name != a.Name {
			existing, err := s.repo.FindActiveAccountByName(ctx, a.LedgerID, *in.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to check account name: %w", err)
			}
			if existing != nil && existing.ID != a.ID {
				return nil, apperrors.Conflict(fmt.Sprintf("account %q already exists", *in.Name))
			}
			a.Name = *in.Name
		}
	}

	var moved []*ledger.Account
	if in.MoveToRoot || in.NewParentID != nil {
		all, err := s.repo.ListAccountsByLedger(ctx, a.LedgerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		children := ledger.ChildIndex(all)
		height := ledger.SubtreeHeight(a.ID, children)

		newDepth := 1
		if in.MoveToRoot {
			a.ParentID = nil
		} else {
			parent, err := s.repo.GetAccount(ctx, *in.NewParentID)
			if err != nil {
				return nil, apperrors.NotFound("parent account")
			}
			if parent.LedgerID != a.LedgerID {
				return nil, apperrors.Validation("parent account belongs to a different ledger")
			}
			if parent.Type != a.Type {
				return nil, apperrors.Validationf("cannot move %s account under %s parent", a.Type, parent.Type)
			}
			if parent.ID == a.ID || isDescendant(parent.ID, a.ID, children) {
				return nil, apperrors.Validation("cannot move an account under its own subtree")
			}
			newDepth = parent.Depth + 1
			a.ParentID = &parent.ID
		}
		if newDepth+height-1 > ledger.MaxAccountDepth {
			return nil, apperrors.Validationf("move would exceed depth %d", ledger.MaxAccountDepth)
		}

		a.Depth = newDepth
		moved = redepthSubtree(a, children)
	}

	a.UpdatedAt = time.Now().UTC()
	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.UpdateAccount(ctx, a); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		for _, descendant := range moved {
			if err := s.repo.UpdateAccount(ctx, descendant); err != nil {
				return fmt.Errorf("failed to update subtree depth: %w", err)
			}
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityAccount, a.ID, a.LedgerID, old, accountSnapshot(a)))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Archive soft-hides an account. Archived names leave the uniqueness
// set, so the name can be reused.
func (s *Service) Archive(ctx context.Context, userID, accountID uuid.UUID) (*ledger.Account, error) {
	a, err := s.ownedAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	if a.IsSystem {
		return nil, apperrors.ForbiddenSystem("system accounts cannot be archived")
	}
	if a.IsArchived {
		return a, nil
	}

	old := accountSnapshot(a)
	now := time.Now().UTC()
	a.IsArchived = true
	a.ArchivedAt = &now
	a.UpdatedAt = now

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.UpdateAccount(ctx, a); err != nil {
			return fmt.Errorf("failed to archive account: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityAccount, a.ID, a.LedgerID, old, accountSnapshot(a)))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeletePreview reports what blocks a deletion before it is attempted
type DeletePreview struct {
	CanDelete        bool  `json:"can_delete"`
	HasChildren      bool  `json:"has_children"`
	HasTransactions  bool  `json:"has_transactions"`
	TransactionCount int64 `json:"transaction_count"`
	ChildCount       int64 `json:"child_count"`
}

// PreviewDelete reports whether an account can be deleted and why not
func (s *Service) PreviewDelete(ctx context.Context, userID, accountID uuid.UUID) (*DeletePreview, error) {
	a, err := s.ownedAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	childCount, err := s.repo.CountChildren(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count children: %w", err)
	}
	txCount, err := s.repo.CountTransactionsByAccount(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	return &DeletePreview{
		CanDelete:        !a.IsSystem && childCount == 0 && txCount == 0,
		HasChildren:      childCount > 0,
		HasTransactions:  txCount > 0,
		TransactionCount: txCount,
		ChildCount:       childCount,
	}, nil
}

// Delete removes an account. When the account has transactions and no
// children, the caller may pass a replacement leaf of the same type and
// ledger; every referencing transaction is rewritten to the replacement
// and a REASSIGN audit entry records the count, all inside one unit.
func (s *Service) Delete(ctx context.Context, userID, accountID uuid.UUID, replacementID *uuid.UUID) error {
	a, err := s.ownedAccount(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if a.IsSystem {
		return apperrors.ForbiddenSystem("system accounts cannot be deleted")
	}

	childCount, err := s.repo.CountChildren(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to count children: %w", err)
	}
	if childCount > 0 {
		return apperrors.Conflict("account has child accounts")
	}

	txCount, err := s.repo.CountTransactionsByAccount(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to count transactions: %w", err)
	}

	if txCount == 0 {
		return ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
			if err := s.repo.DeleteAccount(ctx, a.ID); err != nil {
				return fmt.Errorf("failed to delete account: %w", err)
			}
			return s.audit.Record(ctx, audit.Deleted(audit.EntityAccount, a.ID, a.LedgerID, accountSnapshot(a)))
		})
	}

	if replacementID == nil {
		return apperrors.Conflict("account has transactions; a replacement account is required")
	}
	replacement, err := s.repo.GetAccount(ctx, *replacementID)
	if err != nil {
		return apperrors.NotFound("replacement account")
	}
	if replacement.ID == a.ID {
		return apperrors.Validation("replacement must differ from the deleted account")
	}
	if replacement.LedgerID != a.LedgerID {
		return apperrors.Validation("replacement account belongs to a different ledger")
	}
	if replacement.Type != a.Type {
		return apperrors.Validationf("replacement must be of type %s", a.Type)
	}
	replacementChildren, err := s.repo.CountChildren(ctx, replacement.ID)
	if err != nil {
		return fmt.Errorf("failed to check replacement: %w", err)
	}
	if replacementChildren > 0 {
		return apperrors.Validation("replacement must be a leaf account")
	}
	// Rewriting a transaction whose other leg is the replacement would
	// collapse it into a same-account transfer.
	between, err := s.repo.CountTransactionsBetween(ctx, a.ID, replacement.ID)
	if err != nil {
		return fmt.Errorf("failed to check replacement: %w", err)
	}
	if between > 0 {
		return apperrors.Conflict("transactions between the account and the replacement would become self-transfers")
	}

	return ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		reassigned, err := s.repo.ReassignTransactions(ctx, a.ID, replacement.ID)
		if err != nil {
			return fmt.Errorf("failed to reassign transactions: %w", err)
		}
		if err := s.audit.Record(ctx, audit.Reassigned(a.ID, a.LedgerID, map[string]interface{}{
			"source":            a.ID.String(),
			"target":            replacement.ID.String(),
			"transaction_count": reassigned,
		})); err != nil {
			return err
		}
		if err := s.repo.DeleteAccount(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		return nil
	})
}

// List returns the ledger's accounts, optionally including archived ones
func (s *Service) List(ctx context.Context, userID, ledgerID uuid.UUID, includeArchived bool) ([]*ledger.Account, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccountsByLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if includeArchived {
		return accounts, nil
	}
	active := accounts[:0:0]
	for _, a := range accounts {
		if !a.IsArchived {
			active = append(active, a)
		}
	}
	return active, nil
}

// Balance computes the authoritative aggregated balance of one account
// at a reference date by walking the ledger's transaction log.
func (s *Service) Balance(ctx context.Context, userID, accountID uuid.UUID, asOf time.Time) (money.Amount, error) {
	a, err := s.ownedAccount(ctx, accountID, userID)
	if err != nil {
		return money.Zero, err
	}
	balances, err := s.LedgerBalances(ctx, userID, a.LedgerID, asOf)
	if err != nil {
		return money.Zero, err
	}
	return balances[a.ID], nil
}

// LedgerBalances computes aggregated balances for every account in the
// ledger at a reference date. balance_cache never feeds this result.
func (s *Service) LedgerBalances(ctx context.Context, userID, ledgerID uuid.UUID, asOf time.Time) (map[uuid.UUID]money.Amount, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccountsByLedger(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	transactions, err := s.repo.ListTransactionsUpTo(ctx, ledgerID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	direct := ledger.DirectBalances(transactions, accounts)
	return ledger.RollupBalances(accounts, direct), nil
}

func (s *Service) ownedLedger(ctx context.Context, ledgerID, userID uuid.UUID) (*ledger.Ledger, error) {
	l, err := s.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (s *Service) ownedAccount(ctx context.Context, accountID, userID uuid.UUID) (*ledger.Account, error) {
	a, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedLedger(ctx, a.LedgerID, userID); err != nil {
		return nil, apperrors.NotFound("account")
	}
	return a, nil
}

// isDescendant reports whether candidate sits in the subtree under root
func isDescendant(candidate, root uuid.UUID, children map[uuid.UUID][]*ledger.Account) bool {
	for _, child := range children[root] {
		if child.ID == candidate || isDescendant(candidate, child.ID, children) {
			return true
		}
	}
	return false
}

// redepthSubtree rewrites descendant depths after a move and returns
// the touched accounts.
func redepthSubtree(root *ledger.Account, children map[uuid.UUID][]*ledger.Account) []*ledger.Account {
	var touched []*ledger.Account
	var walk func(parent *ledger.Account)
	walk = func(parent *ledger.Account) {
		for _, child := range children[parent.ID] {
			child.Depth = parent.Depth + 1
			touched = append(touched, child)
			walk(child)
		}
	}
	walk(root)
	return touched
}

func accountSnapshot(a *ledger.Account) map[string]interface{} {
	snap := map[string]interface{}{
		"name":        a.Name,
		"type":        string(a.Type),
		"depth":       a.Depth,
		"sort_order":  a.SortOrder,
		"is_system":   a.IsSystem,
		"is_archived": a.IsArchived,
	}
	if a.ParentID != nil {
		snap["parent_id"] = a.ParentID.String()
	}
	return snap
}
