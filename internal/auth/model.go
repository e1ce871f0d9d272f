package auth

import (
	"time"

	"github.com/google/uuid"
)

// TokenPrefix starts every raw API token secret
const TokenPrefix = "mbk"

// APIToken is an opaque long-lived credential. Only the digest of the
// raw secret is stored; the secret itself is returned exactly once.
type APIToken struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	Hash       string     `json:"-"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the token has been soft-deleted
func (t *APIToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// Channel identifies a chat platform
type Channel string

const (
	ChannelTelegram Channel = "TELEGRAM"
	ChannelLine     Channel = "LINE"
	ChannelSlack    Channel = "SLACK"
)

// IsValid reports whether the channel is a known value
func (c Channel) IsValid() bool {
	switch c {
	case ChannelTelegram, ChannelLine, ChannelSlack:
		return true
	}
	return false
}

// ChannelBinding maps a chat-platform identity to a user. At most one
// active binding exists per (channel, external_user_id).
type ChannelBinding struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Channel         Channel    `json:"channel"`
	ExternalUserID  string     `json:"external_user_id"`
	DisplayName     *string    `json:"display_name,omitempty"`
	DefaultLedgerID *uuid.UUID `json:"default_ledger_id,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	UnboundAt       *time.Time `json:"unbound_at,omitempty"`
}
