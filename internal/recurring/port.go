package recurring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
)

// Repository defines persistence for recurring templates and
// installment plans. Accounts and transactions are read and written
// through the same interface so expansions and approvals stay in one
// unit of work.
type Repository interface {
	GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error)

	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*Template, error)
	// ListOpenTemplates returns every template, across all ledgers,
	// that has not ended before asOf. The due check itself stays in Go.
	ListOpenTemplates(ctx context.Context, asOf time.Time) ([]*Template, error)
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	CreatePlan(ctx context.Context, p *InstallmentPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*InstallmentPlan, error)
	ListPlansByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*InstallmentPlan, error)

	CreateTransaction(ctx context.Context, t *ledger.Transaction) error
}
