package recurring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

// Service manages recurring templates and installment plans
type Service struct {
	repo  Repository
	uow   ledger.UnitOfWork
	audit audit.Recorder
}

// NewService creates a new recurring service
func NewService(repo Repository, uow ledger.UnitOfWork, recorder audit.Recorder) *Service {
	return &Service{repo: repo, uow: uow, audit: recorder}
}

// TemplateInput carries the fields for a new recurring template
type TemplateInput struct {
	LedgerID      uuid.UUID
	Description   string
	Amount        money.Amount
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Type          ledger.TransactionType
	Frequency     Frequency
	StartDate     time.Time
	EndDate       *time.Time
}

// CreateTemplate validates and stores a recurring template
func (s *Service) CreateTemplate(ctx context.Context, userID uuid.UUID, in TemplateInput) (*Template, error) {
	if _, err := s.ownedLedger(ctx, in.LedgerID, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperrors.Validation("description cannot be empty")
	}
	if !in.Frequency.IsValid() {
		return nil, apperrors.Validationf("invalid frequency %q", in.Frequency)
	}
	if in.StartDate.IsZero() {
		return nil, apperrors.Validation("start date is required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, apperrors.Validation("end date cannot precede start date")
	}
	if err := s.checkLegs(ctx, in.LedgerID, in.FromAccountID, in.ToAccountID, in.Type, in.Amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Template{
		ID:            uuid.New(),
		LedgerID:      in.LedgerID,
		Description:   in.Description,
		Amount:        in.Amount,
		FromAccountID: in.FromAccountID,
		ToAccountID:   in.ToAccountID,
		Type:          in.Type,
		Frequency:     in.Frequency,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateTemplate(ctx, t); err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityTemplate, t.ID, t.LedgerID, templateSnapshot(t)))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns all templates in a ledger
func (s *Service) ListTemplates(ctx context.Context, userID, ledgerID uuid.UUID) ([]*Template, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListTemplatesByLedger(ctx, ledgerID)
}

// ListDue returns the templates with a pending occurrence at or before
// asOf. Nothing here mutates state; approval is a separate call.
func (s *Service) ListDue(ctx context.Context, userID, ledgerID uuid.UUID, asOf time.Time) ([]*Template, error) {
	all, err := s.ListTemplates(ctx, userID, ledgerID)
	if err != nil {
		return nil, err
	}
	due := make([]*Template, 0, len(all))
	for _, t := range all {
		if t.IsDue(asOf) {
			due = append(due, t)
		}
	}
	return due, nil
}

// Approve posts the template's next occurrence as a real transaction
// and advances last_generated_date, both in one unit. The posted
// transaction is dated next-due, not today.
func (s *Service) Approve(ctx context.Context, userID, templateID uuid.UUID, asOf time.Time) (*ledger.Transaction, error) {
	t, err := s.ownedTemplate(ctx, templateID, userID)
	if err != nil {
		return nil, err
	}
	if !t.IsDue(asOf) {
		return nil, apperrors.Conflict("template has no pending occurrence")
	}

	dueDate := t.NextDue()
	now := time.Now().UTC()
	tx := &ledger.Transaction{
		ID:                  uuid.New(),
		LedgerID:            t.LedgerID,
		Date:                dueDate,
		Description:         t.Description,
		Amount:              t.Amount,
		FromAccountID:       t.FromAccountID,
		ToAccountID:         t.ToAccountID,
		Type:                t.Type,
		RecurringTemplateID: &t.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.checkLegs(ctx, t.LedgerID, t.FromAccountID, t.ToAccountID, t.Type, t.Amount); err != nil {
		return nil, err
	}

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to post occurrence: %w", err)
		}
		t.LastGeneratedDate = &dueDate
		t.UpdatedAt = now
		if err := s.repo.UpdateTemplate(ctx, t); err != nil {
			return fmt.Errorf("failed to advance template: %w", err)
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityTransaction, tx.ID, tx.LedgerID, map[string]interface{}{
			"date":                  dueDate.Format("2006-01-02"),
			"description":           tx.Description,
			"amount":                tx.Amount.String(),
			"recurring_template_id": t.ID.String(),
		}))
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Skip advances the cursor past the next occurrence without posting
func (s *Service) Skip(ctx context.Context, userID, templateID uuid.UUID, asOf time.Time) (*Template, error) {
	t, err := s.ownedTemplate(ctx, templateID, userID)
	if err != nil {
		return nil, err
	}
	if !t.IsDue(asOf) {
		return nil, apperrors.Conflict("template has no pending occurrence")
	}

	dueDate := t.NextDue()
	old := templateSnapshot(t)
	t.LastGeneratedDate = &dueDate
	t.UpdatedAt = time.Now().UTC()

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.UpdateTemplate(ctx, t); err != nil {
			return fmt.Errorf("failed to skip occurrence: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityTemplate, t.ID, t.LedgerID, old, templateSnapshot(t)))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate removes a template; already-posted transactions keep
// their back-reference.
func (s *Service) DeleteTemplate(ctx context.Context, userID, templateID uuid.UUID) error {
	t, err := s.ownedTemplate(ctx, templateID, userID)
	if err != nil {
		return err
	}

	return ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.DeleteTemplate(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		return s.audit.Record(ctx, audit.Deleted(audit.EntityTemplate, t.ID, t.LedgerID, templateSnapshot(t)))
	})
}

// PlanInput carries the fields for a new installment plan
type PlanInput struct {
	LedgerID      uuid.UUID
	Description   string
	TotalAmount   money.Amount
	Count         int
	StartDate     time.Time
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Type          ledger.TransactionType
}

// CreatePlan stores the plan and expands it into its monthly
// transactions in one unit. Installment k is dated start + k months;
// amounts come from the split so they sum exactly to the total.
func (s *Service) CreatePlan(ctx context.Context, userID uuid.UUID, in PlanInput) (*InstallmentPlan, error) {
	if _, err := s.ownedLedger(ctx, in.LedgerID, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperrors.Validation("description cannot be empty")
	}
	if in.Count <= 1 {
		return nil, apperrors.Validation("installment count must be greater than 1")
	}
	if in.StartDate.IsZero() {
		return nil, apperrors.Validation("start date is required")
	}
	if err := s.checkLegs(ctx, in.LedgerID, in.FromAccountID, in.ToAccountID, in.Type, in.TotalAmount); err != nil {
		return nil, err
	}

	amounts, err := money.SplitInstallments(in.TotalAmount, in.Count)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "cannot split amount")
	}

	now := time.Now().UTC()
	p := &InstallmentPlan{
		ID:               uuid.New(),
		LedgerID:         in.LedgerID,
		Description:      in.Description,
		TotalAmount:      in.TotalAmount,
		InstallmentCount: in.Count,
		StartDate:        in.StartDate,
		FromAccountID:    in.FromAccountID,
		ToAccountID:      in.ToAccountID,
		Type:             in.Type,
		CreatedAt:        now,
	}

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreatePlan(ctx, p); err != nil {
			return fmt.Errorf("failed to create plan: %w", err)
		}
		for i, amount := range amounts {
			n := i + 1
			tx := &ledger.Transaction{
				ID:                uuid.New(),
				LedgerID:          p.LedgerID,
				Date:              p.StartDate.AddDate(0, i, 0),
				Description:       fmt.Sprintf("%s (%d/%d)", p.Description, n, p.InstallmentCount),
				Amount:            amount,
				FromAccountID:     p.FromAccountID,
				ToAccountID:       p.ToAccountID,
				Type:              p.Type,
				InstallmentPlanID: &p.ID,
				InstallmentNumber: &n,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := s.repo.CreateTransaction(ctx, tx); err != nil {
				return fmt.Errorf("failed to create installment %d: %w", n, err)
			}
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityPlan, p.ID, p.LedgerID, map[string]interface{}{
			"description":       p.Description,
			"total_amount":      p.TotalAmount.String(),
			"installment_count": p.InstallmentCount,
			"start_date":        p.StartDate.Format("2006-01-02"),
		}))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPlans returns all installment plans in a ledger
func (s *Service) ListPlans(ctx context.Context, userID, ledgerID uuid.UUID) ([]*InstallmentPlan, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListPlansByLedger(ctx, ledgerID)
}

// checkLegs applies the same leg rules real transactions get: distinct
// leaf accounts in the ledger, positive amount, valid type pair.
func (s *Service) checkLegs(ctx context.Context, ledgerID, fromID, toID uuid.UUID, txType ledger.TransactionType, amount money.Amount) error {
	if !amount.IsPositive() {
		return apperrors.Wrap(ledger.ErrNonPositiveAmount, apperrors.ErrCodeValidation, "amount must be positive")
	}
	if fromID == toID {
		return apperrors.Wrap(ledger.ErrSameAccount, apperrors.ErrCodeValidation, "accounts must differ")
	}

	from, err := s.repo.GetAccount(ctx, fromID)
	if err != nil {
		return apperrors.NotFound("from account")
	}
	to, err := s.repo.GetAccount(ctx, toID)
	if err != nil {
		return apperrors.NotFound("to account")
	}
	if from.LedgerID != ledgerID || to.LedgerID != ledgerID {
		return apperrors.Validation("accounts must belong to the ledger")
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

	if !ledger.ValidTypePair(txType, from.Type, to.Type) {
		return apperrors.Wrap(ledger.ErrTypePairMismatch, apperrors.ErrCodeValidation,
			fmt.Sprintf("%s from %s to %s", txType, from.Type, to.Type))
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

func (s *Service) ownedTemplate(ctx context.Context, id, userID uuid.UUID) (*Template, error) {
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedLedger(ctx, t.LedgerID, userID); err != nil {
		return nil, apperrors.NotFound("recurring template")
	}
	return t, nil
}

func templateSnapshot(t *Template) map[string]interface{} {
	snap := map[string]interface{}{
		"description": t.Description,
		"amount":      t.Amount.String(),
		"frequency":   string(t.Frequency),
		"start_date":  t.StartDate.Format("2006-01-02"),
	}
	if t.LastGeneratedDate != nil {
		snap["last_generated_date"] = t.LastGeneratedDate.Format("2006-01-02")
	}
	return snap
}
