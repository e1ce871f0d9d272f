package transaction

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

const (
	// DefaultPageSize applies when a caller omits the limit
	DefaultPageSize = 50
	// MaxPageSize is the largest page a caller may request
	MaxPageSize = 100
)

// Service is the transaction engine: validated double-entry writes and
// filtered, cursor-paginated reads.
type Service struct {
	repo  Repository
	uow   ledger.UnitOfWork
	audit audit.Recorder
}

// NewService creates a new transaction service
func NewService(repo Repository, uow ledger.UnitOfWork, recorder audit.Recorder) *Service {
	return &Service{repo: repo, uow: uow, audit: recorder}
}

// CreateInput carries the fields for a new transaction
type CreateInput struct {
	LedgerID            uuid.UUID
	Date                time.Time
	Description         string
	Amount              money.Amount
	FromAccountID       uuid.UUID
	ToAccountID         uuid.UUID
	Type                ledger.TransactionType
	Notes               *string
	AmountExpression    *string
	RecurringTemplateID *uuid.UUID
	InstallmentPlanID   *uuid.UUID
	InstallmentNumber   *int
	SourceChannel       *string
	ChannelMessageID    *string
	TagIDs              []uuid.UUID
}

// Create validates and posts a transaction, writing the CREATE audit
// row in the same unit.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*ledger.Transaction, error) {
	if _, err := s.ownedLedger(ctx, in.LedgerID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &ledger.Transaction{
		ID:                  uuid.New(),
		LedgerID:            in.LedgerID,
		Date:                in.Date,
		Description:         in.Description,
		Amount:              in.Amount,
		FromAccountID:       in.FromAccountID,
		ToAccountID:         in.ToAccountID,
		Type:                in.Type,
		Notes:               in.Notes,
		AmountExpression:    in.AmountExpression,
		RecurringTemplateID: in.RecurringTemplateID,
		InstallmentPlanID:   in.InstallmentPlanID,
		InstallmentNumber:   in.InstallmentNumber,
		SourceChannel:       in.SourceChannel,
		ChannelMessageID:    in.ChannelMessageID,
		TagIDs:              in.TagIDs,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.validate(ctx, t); err != nil {
		return nil, err
	}

	err := ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityTransaction, t.ID, t.LedgerID, transactionSnapshot(t)))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateInput carries the mutable transaction fields; nil means keep
type UpdateInput struct {
	Date          *time.Time
	Description   *string
	Amount        *money.Amount
	FromAccountID *uuid.UUID
	ToAccountID   *uuid.UUID
	Type          *ledger.TransactionType
	Notes         *string
	TagIDs        []uuid.UUID
}

// Update revalidates and rewrites a transaction with an UPDATE audit
// row in the same unit.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, in UpdateInput) (*ledger.Transaction, error) {
	t, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	old := transactionSnapshot(t)

	if in.Date != nil {
		t.Date = *in.Date
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Amount != nil {
		t.Amount = *in.Amount
	}
	if in.FromAccountID != nil {
		t.FromAccountID = *in.FromAccountID
	}
	if in.ToAccountID != nil {
		t.ToAccountID = *in.ToAccountID
	}
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Notes != nil {
		t.Notes = in.Notes
	}
	if in.TagIDs != nil {
		t.TagIDs = in.TagIDs
	}
	t.UpdatedAt = time.Now().UTC()

	if err := s.validate(ctx, t); err != nil {
		return nil, err
	}

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.UpdateTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityTransaction, t.ID, t.LedgerID, old, transactionSnapshot(t)))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a transaction and writes the DELETE audit row in one unit
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	t, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}

	return ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.DeleteTransaction(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to delete transaction: %w", err)
		}
		return s.audit.Record(ctx, audit.Deleted(audit.EntityTransaction, t.ID, t.LedgerID, transactionSnapshot(t)))
	})
}

// Get retrieves a transaction with the ownership check applied
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*ledger.Transaction, error) {
	return s.owned(ctx, id, userID)
}

// Page is one page of a cursor-paginated listing
type Page struct {
	Transactions []*ledger.Transaction `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
	HasMore      bool                  `json:"has_more"`
}

// List returns transactions ordered by (date desc, id desc) with at
// most limit rows. An invalid cursor token means first page, not an
// error.
func (s *Service) List(ctx context.Context, userID, ledgerID uuid.UUID, filters Filters, cursorToken string, limit int) (*Page, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := s.repo.ListTransactions(ctx, ListQuery{
		LedgerID: ledgerID,
		Filters:  filters,
		Before:   DecodeCursor(cursorToken),
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	page := &Page{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		page.HasMore = true
		last := page.Transactions[limit-1]
		page.NextCursor = Cursor{Date: last.Date, ID: last.ID}.Encode()
	}
	return page, nil
}

// validate enforces the full double-entry invariant set: positive
// amount, distinct leaf accounts in the transaction's ledger, and the
// (type, from.type, to.type) matrix.
func (s *Service) validate(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid transaction")
	}

	from, err := s.repo.GetAccount(ctx, t.FromAccountID)
	if err != nil {
		return apperrors.NotFound("from account")
	}
	to, err := s.repo.GetAccount(ctx, t.ToAccountID)
	if err != nil {
		return apperrors.NotFound("to account")
	}

	if from.LedgerID != t.LedgerID || to.LedgerID != t.LedgerID {
		return apperrors.Validation("accounts must belong to the transaction's ledger")
	}

	for _, a := range []*ledger.Account{from, to} {
		children, err := s.repo.CountChildren(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("failed to check account %s: %w", a.ID, err)
		}
		if children > 0 {
			return apperrors.Validationf("account %q is not a leaf", a.Name)
		}
	}

	if !ledger.ValidTypePair(t.Type, from.Type, to.Type) {
		return apperrors.Wrap(ledger.ErrTypePairMismatch, apperrors.ErrCodeValidation,
			fmt.Sprintf("%s from %s to %s", t.Type, from.Type, to.Type))
	}
	return nil
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

func (s *Service) owned(ctx context.Context, id, userID uuid.UUID) (*ledger.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedLedger(ctx, t.LedgerID, userID); err != nil {
		return nil, apperrors.NotFound("transaction")
	}
	return t, nil
}

func transactionSnapshot(t *ledger.Transaction) map[string]interface{} {
	snap := map[string]interface{}{
		"date":            t.Date.UTC().Format("2006-01-02"),
		"description":     t.Description,
		"amount":          t.Amount.String(),
		"from_account_id": t.FromAccountID.String(),
		"to_account_id":   t.ToAccountID.String(),
		"type":            string(t.Type),
	}
	if t.Notes != nil {
		snap["notes"] = *t.Notes
	}
	return snap
}
