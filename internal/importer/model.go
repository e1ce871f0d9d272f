package importer

import (
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/importer/suggest"
)

// SourceType is where an import's bytes came from
type SourceType string

const (
	// SourceMYABCSV is a hand-uploaded MYAB bookkeeping export
	SourceMYABCSV SourceType = "MYAB_CSV"
	// SourceCreditCardCSV is a hand-uploaded card statement; BankCode
	// selects the layout.
	SourceCreditCardCSV SourceType = "CREDIT_CARD_CSV"
	// SourceGmailCC is a card statement fetched by the mailbox
	// scanner; parsed with the same per-bank layouts.
	SourceGmailCC SourceType = "GMAIL_CC"
	// SourceBankRecord is a bank account activity export
	SourceBankRecord SourceType = "BANK_RECORD"
)

// IsValid reports whether the source type is known
func (s SourceType) IsValid() bool {
	switch s {
	case SourceMYABCSV, SourceCreditCardCSV, SourceGmailCC, SourceBankRecord:
		return true
	}
	return false
}

// Status is the import session lifecycle
type Status string

const (
	// StatusPending means previewed and waiting for execute
	StatusPending Status = "PENDING"
	// StatusCompleted means every row was applied or skipped
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means execute rolled back; nothing was applied
	StatusFailed Status = "FAILED"
)

// Session is one preview-then-execute import. The raw bytes live in
// the scratch store under the session id; only their digest is kept
// here so execute can prove it re-parsed the same file.
type Session struct {
	ID              uuid.UUID                 `json:"id"`
	UserID          uuid.UUID                 `json:"user_id"`
	LedgerID        uuid.UUID                 `json:"ledger_id"`
	SourceType      SourceType                `json:"source_type"`
	BankCode        string                    `json:"bank_code,omitempty"`
	Status          Status                    `json:"status"`
	FileName        string                    `json:"file_name"`
	FileDigest      string                    `json:"file_digest"`
	FileSize        int                       `json:"file_size"`
	RowCount        int                       `json:"row_count"`
	Mapping         map[string]suggest.Target `json:"mapping,omitempty"`
	// Overrides pins the category chosen for each uncategorized
	// description at preview time, so execute re-derives the same
	// rows without consulting the enhancer again.
	Overrides       map[string]string         `json:"overrides,omitempty"`
	CreatedCount    int                       `json:"created_count"`
	SkippedCount    int                       `json:"skipped_count"`
	DuplicateCount  int                       `json:"duplicate_count"`
	AccountsCreated int                       `json:"accounts_created"`
	ErrorMessage    *string                   `json:"error_message,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}
