package recurring

import (
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// Frequency is how often a recurring template fires
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// IsValid reports whether the frequency is a known value
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Advance moves a date forward by one period
func (f Frequency) Advance(d time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return d.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return d.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return d.AddDate(0, 1, 0)
	case FrequencyYearly:
		return d.AddDate(1, 0, 0)
	}
	return d
}

// Template describes a transaction posted on a recurring schedule.
// Nothing is posted automatically without an approval.
type Template struct {
	ID                uuid.UUID              `json:"id"`
	LedgerID          uuid.UUID              `json:"ledger_id"`
	Description       string                 `json:"description"`
	Amount            money.Amount           `json:"amount"`
	FromAccountID     uuid.UUID              `json:"from_account_id"`
	ToAccountID       uuid.UUID              `json:"to_account_id"`
	Type              ledger.TransactionType `json:"type"`
	Frequency         Frequency              `json:"frequency"`
	StartDate         time.Time              `json:"start_date"`
	EndDate           *time.Time             `json:"end_date,omitempty"`
	LastGeneratedDate *time.Time             `json:"last_generated_date,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// NextDue is last_generated_date advanced by one period, or start_date
// when nothing has been generated yet.
func (t *Template) NextDue() time.Time {
	if t.LastGeneratedDate == nil {
		return t.StartDate
	}
	return t.Frequency.Advance(*t.LastGeneratedDate)
}

// IsDue reports whether the template should fire at or before asOf
func (t *Template) IsDue(asOf time.Time) bool {
	next := t.NextDue()
	if next.After(asOf) {
		return false
	}
	if t.EndDate != nil && next.After(*t.EndDate) {
		return false
	}
	return true
}

// InstallmentPlan splits one purchase into monthly transactions.
// Expansion happens at creation: installment k is dated
// start_date + k months, the first n-1 amounts are round(total/n, 2)
// and the remainder lands on the last so the sum is exact.
type InstallmentPlan struct {
	ID               uuid.UUID              `json:"id"`
	LedgerID         uuid.UUID              `json:"ledger_id"`
	Description      string                 `json:"description"`
	TotalAmount      money.Amount           `json:"total_amount"`
	InstallmentCount int                    `json:"installment_count"`
	StartDate        time.Time              `json:"start_date"`
	FromAccountID    uuid.UUID              `json:"from_account_id"`
	ToAccountID      uuid.UUID              `json:"to_account_id"`
	Type             ledger.TransactionType `json:"type"`
	CreatedAt        time.Time              `json:"created_at"`
}
