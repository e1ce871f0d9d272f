package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/pkg/money"
)

// AccountType categorizes an account on the chart of accounts.
// The values are persisted verbatim.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// IsValid reports whether the account type is a known value
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// AllAccountTypes returns every valid account type
func AllAccountTypes() []AccountType {
	return []AccountType{AccountTypeAsset, AccountTypeLiability, AccountTypeIncome, AccountTypeExpense}
}

// NormalSide indicates whether an account type naturally increases on
// the debit or the credit side.
type NormalSide string

const (
	DebitNormal  NormalSide = "DEBIT"
	CreditNormal NormalSide = "CREDIT"
)

// Normal returns the normal side for an account type.
func (t AccountType) Normal() NormalSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return DebitNormal
	default:
		return CreditNormal
	}
}

// TransactionType is the declared kind of a transaction. The direction
// is encoded in from/to, never in the sign of the amount.
type TransactionType string

const (
	TransactionTypeExpense  TransactionType = "EXPENSE"
	TransactionTypeIncome   TransactionType = "INCOME"
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

// IsValid reports whether the transaction type is a known value
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeExpense, TransactionTypeIncome, TransactionTypeTransfer:
		return true
	}
	return false
}

// ValidTypePair reports whether (from.type, to.type) is allowed for the
// declared transaction type:
//
//	EXPENSE:  ASSET|LIABILITY -> EXPENSE
//	INCOME:   INCOME          -> ASSET|LIABILITY
//	TRANSFER: ASSET|LIABILITY -> ASSET|LIABILITY
func ValidTypePair(txType TransactionType, from, to AccountType) bool {
	balanceSide := func(t AccountType) bool {
		return t == AccountTypeAsset || t == AccountTypeLiability
	}
	switch txType {
	case TransactionTypeExpense:
		return balanceSide(from) && to == AccountTypeExpense
	case TransactionTypeIncome:
		return from == AccountTypeIncome && balanceSide(to)
	case TransactionTypeTransfer:
		return balanceSide(from) && balanceSide(to)
	}
	return false
}

// Contribution returns the signed effect of one transaction leg on an
// account's balance. The to side is the debit leg, the from side the
// credit leg; debit-normal accounts grow on debits, credit-normal on
// credits.
func Contribution(accountType AccountType, isDebit bool, amount money.Amount) money.Amount {
	if (accountType.Normal() == DebitNormal) == isDebit {
		return amount
	}
	return amount.Neg()
}

// MaxAccountDepth is the hard ceiling of the account tree.
const MaxAccountDepth = 3

// SortOrderGap spaces sibling sort orders so rows can be inserted
// between neighbours without renumbering.
const SortOrderGap = 1000

// System account names materialized on ledger creation.
const (
	SystemAccountCash   = "Cash"
	SystemAccountEquity = "Equity"
)

// Ledger is an isolated book of accounts belonging to one user
type Ledger struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	Name           string       `json:"name"`
	InitialBalance money.Amount `json:"initial_balance"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Validate checks ledger fields before persistence
func (l *Ledger) Validate() error {
	if l.Name == "" {
		return ErrEmptyLedgerName
	}
	if l.InitialBalance.IsNegative() {
		return ErrNegativeInitialBalance
	}
	if l.UserID == uuid.Nil {
		return ErrMissingOwner
	}
	return nil
}

// Account is a named bucket in a ledger with a place in a tree of
// depth <= 3. Only leaves appear on transactions.
type Account struct {
	ID           uuid.UUID    `json:"id"`
	LedgerID     uuid.UUID    `json:"ledger_id"`
	Name         string       `json:"name"`
	Type         AccountType  `json:"type"`
	BalanceCache money.Amount `json:"balance_cache"`
	IsSystem     bool         `json:"is_system"`
	ParentID     *uuid.UUID   `json:"parent_id,omitempty"`
	Depth        int          `json:"depth"`
	SortOrder    int          `json:"sort_order"`
	IsArchived   bool         `json:"is_archived"`
	ArchivedAt   *time.Time   `json:"archived_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks structural account invariants
func (a *Account) Validate() error {
	if a.Name == "" {
		return ErrEmptyAccountName
	}
	if !a.Type.IsValid() {
		return ErrInvalidAccountType
	}
	if a.Depth < 1 || a.Depth > MaxAccountDepth {
		return ErrDepthExceeded
	}
	if (a.Depth == 1) != (a.ParentID == nil) {
		return ErrRootParentMismatch
	}
	return nil
}

// IsRoot reports whether the account sits at the top of the tree
func (a *Account) IsRoot() bool {
	return a.ParentID == nil
}

// Transaction is a single double-entry posting between two leaf
// accounts of the same ledger.
type Transaction struct {
	ID                  uuid.UUID       `json:"id"`
	LedgerID            uuid.UUID       `json:"ledger_id"`
	Date                time.Time       `json:"date"`
	Description         string          `json:"description"`
	Amount              money.Amount    `json:"amount"`
	FromAccountID       uuid.UUID       `json:"from_account_id"`
	ToAccountID         uuid.UUID       `json:"to_account_id"`
	Type                TransactionType `json:"type"`
	Notes               *string         `json:"notes,omitempty"`
	AmountExpression    *string         `json:"amount_expression,omitempty"`
	RecurringTemplateID *uuid.UUID      `json:"recurring_template_id,omitempty"`
	InstallmentPlanID   *uuid.UUID      `json:"installment_plan_id,omitempty"`
	InstallmentNumber   *int            `json:"installment_number,omitempty"`
	SourceChannel       *string         `json:"source_channel,omitempty"`
	ChannelMessageID    *string         `json:"channel_message_id,omitempty"`
	TagIDs              []uuid.UUID     `json:"tag_ids,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Validate checks the transaction's self-contained invariants. The
// account-level checks (same ledger, leaves, type pair) require the
// accounts and live in the transaction engine.
func (t *Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccount
	}
	if t.FromAccountID == uuid.Nil || t.ToAccountID == uuid.Nil {
		return ErrMissingAccount
	}
	if !t.Type.IsValid() {
		return ErrInvalidTransactionType
	}
	if t.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}

// Tag labels transactions within a ledger
type Tag struct {
	ID        uuid.UUID `json:"id"`
	LedgerID  uuid.UUID `json:"ledger_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
