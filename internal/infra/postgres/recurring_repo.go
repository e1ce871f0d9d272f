package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/recurring"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/money"
)

const templateColumns = `id, ledger_id, description, amount::text, from_account_id, to_account_id,
	type, frequency, start_date, end_date, last_generated_date, created_at, updated_at`

const planColumns = `id, ledger_id, description, total_amount::text, installment_count,
	start_date, from_account_id, to_account_id, type, created_at`

// RecurringRepository implements persistence for recurring templates
// and installment plans.
type RecurringRepository struct {
	pool *pgxpool.Pool
}

// NewRecurringRepository creates a new PostgreSQL recurring repository
func NewRecurringRepository(db *DB) *RecurringRepository {
	return &RecurringRepository{pool: db.Pool}
}

func (r *RecurringRepository) GetLedger(ctx context.Context, id uuid.UUID) (*ledger.Ledger, error) {
	return getLedgerRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *RecurringRepository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return getAccountRow(ctx, getQueryer(ctx, r.pool), id)
}

func (r *RecurringRepository) CountChildren(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return countChildrenRow(ctx, getQueryer(ctx, r.pool), accountID)
}

func (r *RecurringRepository) CreateTemplate(ctx context.Context, t *recurring.Template) error {
	query := `
		INSERT INTO recurring_templates (id, ledger_id, description, amount, from_account_id, to_account_id,
			type, frequency, start_date, end_date, last_generated_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, t.ID, t.LedgerID, t.Description, t.Amount.String(),
		t.FromAccountID, t.ToAccountID, string(t.Type), string(t.Frequency),
		t.StartDate, t.EndDate, t.LastGeneratedDate, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func scanTemplate(row pgx.Row) (*recurring.Template, error) {
	var t recurring.Template
	var amount string
	err := row.Scan(&t.ID, &t.LedgerID, &t.Description, &amount, &t.FromAccountID, &t.ToAccountID,
		&t.Type, &t.Frequency, &t.StartDate, &t.EndDate, &t.LastGeneratedDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := money.Parse(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	t.Amount = parsed
	return &t, nil
}

func (r *RecurringRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*recurring.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	t, err := scanTemplate(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("recurring template")
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (r *RecurringRepository) ListTemplatesByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*recurring.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates WHERE ledger_id = $1 ORDER BY created_at`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*recurring.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// ListOpenTemplates returns templates across every ledger whose end
// date has not passed; the daily due check walks them.
func (r *RecurringRepository) ListOpenTemplates(ctx context.Context, asOf time.Time) ([]*recurring.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates
		WHERE end_date IS NULL OR end_date >= $1 ORDER BY created_at`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*recurring.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

func (r *RecurringRepository) UpdateTemplate(ctx context.Context, t *recurring.Template) error {
	query := `
		UPDATE recurring_templates
		SET description = $2, amount = $3, from_account_id = $4, to_account_id = $5,
			type = $6, frequency = $7, start_date = $8, end_date = $9,
			last_generated_date = $10, updated_at = $11
		WHERE id = $1
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, t.ID, t.Description, t.Amount.String(), t.FromAccountID, t.ToAccountID,
		string(t.Type), string(t.Frequency), t.StartDate, t.EndDate, t.LastGeneratedDate, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

func (r *RecurringRepository) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	q := getQueryer(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM recurring_templates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func (r *RecurringRepository) CreatePlan(ctx context.Context, p *recurring.InstallmentPlan) error {
	query := `
		INSERT INTO installment_plans (id, ledger_id, description, total_amount, installment_count,
			start_date, from_account_id, to_account_id, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	q := getQueryer(ctx, r.pool)
	_, err := q.Exec(ctx, query, p.ID, p.LedgerID, p.Description, p.TotalAmount.String(),
		p.InstallmentCount, p.StartDate, p.FromAccountID, p.ToAccountID, string(p.Type), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func scanPlan(row pgx.Row) (*recurring.InstallmentPlan, error) {
	var p recurring.InstallmentPlan
	var total string
	err := row.Scan(&p.ID, &p.LedgerID, &p.Description, &total, &p.InstallmentCount,
		&p.StartDate, &p.FromAccountID, &p.ToAccountID, &p.Type, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := money.Parse(total)
	if err != nil {
		return nil, fmt.Errorf("bad total amount: %w", err)
	}
	p.TotalAmount = parsed
	return &p, nil
}

func (r *RecurringRepository) GetPlan(ctx context.Context, id uuid.UUID) (*recurring.InstallmentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM installment_plans WHERE id = $1`
	q := getQueryer(ctx, r.pool)
	p, err := scanPlan(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("installment plan")
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (r *RecurringRepository) ListPlansByLedger(ctx context.Context, ledgerID uuid.UUID) ([]*recurring.InstallmentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM installment_plans WHERE ledger_id = $1 ORDER BY created_at`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []*recurring.InstallmentPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

func (r *RecurringRepository) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return insertTransactionRow(ctx, getQueryer(ctx, r.pool), t)
}
