package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntityType names the kinds of entities the trail tracks
type EntityType string

const (
	EntityLedger      EntityType = "ledger"
	EntityAccount     EntityType = "account"
	EntityTransaction EntityType = "transaction"
	EntityTemplate    EntityType = "recurring_template"
	EntityPlan        EntityType = "installment_plan"
	EntityImport      EntityType = "import_session"
)

// Action is what happened to the entity
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionReassign Action = "REASSIGN"
)

// Log is one append-only audit row. Rows are written inside the same
// unit of work as the mutation they describe and are never updated.
type Log struct {
	ID         uuid.UUID              `json:"id"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	Action     Action                 `json:"action"`
	OldValue   map[string]interface{} `json:"old_value,omitempty"`
	NewValue   map[string]interface{} `json:"new_value,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
	LedgerID   uuid.UUID              `json:"ledger_id"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder appends audit rows. Implementations must join the ambient
// unit of work carried in ctx so a rolled-back mutation leaves no row.
type Recorder interface {
	Record(ctx context.Context, log *Log) error
}

// Created builds a CREATE log (new value only)
func Created(entityType EntityType, entityID, ledgerID uuid.UUID, newValue map[string]interface{}) *Log {
	return &Log{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     ActionCreate,
		NewValue:   newValue,
		LedgerID:   ledgerID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Updated builds an UPDATE log (old and new values)
func Updated(entityType EntityType, entityID, ledgerID uuid.UUID, oldValue, newValue map[string]interface{}) *Log {
	return &Log{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     ActionUpdate,
		OldValue:   oldValue,
		NewValue:   newValue,
		LedgerID:   ledgerID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Deleted builds a DELETE log (old value only)
func Deleted(entityType EntityType, entityID, ledgerID uuid.UUID, oldValue map[string]interface{}) *Log {
	return &Log{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     ActionDelete,
		OldValue:   oldValue,
		LedgerID:   ledgerID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Reassigned builds a REASSIGN log; extra carries source, target and
// the rewritten transaction count.
func Reassigned(entityID, ledgerID uuid.UUID, extra map[string]interface{}) *Log {
	return &Log{
		ID:         uuid.New(),
		EntityType: EntityAccount,
		EntityID:   entityID,
		Action:     ActionReassign,
		Extra:      extra,
		LedgerID:   ledgerID,
		CreatedAt:  time.Now().UTC(),
	}
}
