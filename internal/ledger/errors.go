package ledger

import "errors"

// Ledger errors
var (
	ErrEmptyLedgerName        = errors.New("ledger name cannot be empty")
	ErrNegativeInitialBalance = errors.New("initial balance cannot be negative")
	ErrMissingOwner           = errors.New("ledger must belong to a user")
)

// Account errors
var (
	ErrEmptyAccountName   = errors.New("account name cannot be empty")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrDepthExceeded      = errors.New("account depth cannot exceed 3")
	ErrRootParentMismatch = errors.New("depth 1 requires no parent and deeper levels require one")
)

// Transaction errors
var (
	ErrNonPositiveAmount      = errors.New("amount must be positive")
	ErrSameAccount            = errors.New("from and to accounts must differ")
	ErrMissingAccount         = errors.New("both accounts are required")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrMissingDate            = errors.New("transaction date is required")
	ErrTypePairMismatch       = errors.New("account types do not match the transaction type")
)
