package emailauth

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an email authorization
type Status string

const (
	// StatusConnected means the refresh token is live and scans may run
	StatusConnected Status = "CONNECTED"
	// StatusDisconnected means the user revoked access; the stored
	// token is cleared.
	StatusDisconnected Status = "DISCONNECTED"
	// StatusError means the last refresh failed; scans pause until the
	// user re-authorizes.
	StatusError Status = "ERROR"
)

// Provider names the mail provider the authorization covers
type Provider string

const (
	ProviderGmail Provider = "GMAIL"
)

// Authorization is one user's grant to read statement mail. The
// refresh token is envelope-encrypted before it reaches this struct
// and never serialized outward.
type Authorization struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Provider       Provider   `json:"provider"`
	EmailAddress   string     `json:"email_address"`
	Status         Status     `json:"status"`
	SealedToken    string     `json:"-"`
	LastError      *string    `json:"last_error,omitempty"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ScanFrequency is how often a scan config fires
type ScanFrequency string

const (
	ScanDaily  ScanFrequency = "DAILY"
	ScanWeekly ScanFrequency = "WEEKLY"
)

// ScanConfig schedules a periodic mailbox scan for one bank's
// statements, targeting one ledger. DayOfWeek is 0 (Sunday) to 6 and
// only read for weekly scans.
type ScanConfig struct {
	ID              uuid.UUID     `json:"id"`
	AuthorizationID uuid.UUID     `json:"authorization_id"`
	LedgerID        uuid.UUID     `json:"ledger_id"`
	BankCode        string        `json:"bank_code"`
	Frequency       ScanFrequency `json:"frequency"`
	Hour            int           `json:"hour"`
	DayOfWeek       int           `json:"day_of_week"`
	IsActive        bool          `json:"is_active"`
	LastScanAt      *time.Time    `json:"last_scan_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ScanRunStatus is the outcome of one scan execution
type ScanRunStatus string

const (
	ScanRunCompleted ScanRunStatus = "COMPLETED"
	ScanRunFailed    ScanRunStatus = "FAILED"
	ScanRunSkipped   ScanRunStatus = "SKIPPED"
)

// ScanRun records one execution of a scan config
type ScanRun struct {
	ID           uuid.UUID     `json:"id"`
	ScanConfigID uuid.UUID     `json:"scan_config_id"`
	Status       ScanRunStatus `json:"status"`
	MatchedMail  int           `json:"matched_mail"`
	ImportedRows int           `json:"imported_rows"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}
