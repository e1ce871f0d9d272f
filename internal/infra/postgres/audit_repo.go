package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hweilin/moneybook/internal/audit"
)

// AuditRepository appends and reads the audit trail. Record goes
// through the ambient transaction, so a rolled-back mutation takes its
// audit row with it.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{pool: db.Pool}
}

// Record appends one audit row
func (r *AuditRepository) Record(ctx context.Context, log *audit.Log) error {
	oldJSON, err := marshalNullable(log.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newJSON, err := marshalNullable(log.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}
	extraJSON, err := marshalNullable(log.Extra)
	if err != nil {
		return fmt.Errorf("failed to marshal extra: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, old_value, new_value, extra, ledger_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	q := getQueryer(ctx, r.pool)
	_, err = q.Exec(ctx, query, log.ID, string(log.EntityType), log.EntityID,
		string(log.Action), oldJSON, newJSON, extraJSON, log.LedgerID, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

// ListByLedger returns a ledger's trail, newest first
func (r *AuditRepository) ListByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*audit.Log, error) {
	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, extra, ledger_id, created_at
		FROM audit_logs
		WHERE ledger_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	q := getQueryer(ctx, r.pool)
	rows, err := q.Query(ctx, query, ledgerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*audit.Log
	for rows.Next() {
		var l audit.Log
		var oldJSON, newJSON, extraJSON []byte
		err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.Action,
			&oldJSON, &newJSON, &extraJSON, &l.LedgerID, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if err := unmarshalNullable(oldJSON, &l.OldValue); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(newJSON, &l.NewValue); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(extraJSON, &l.Extra); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

// CountByEntity counts trail rows for one entity
func (r *AuditRepository) CountByEntity(ctx context.Context, entityType audit.EntityType, entityID uuid.UUID) (int64, error) {
	var n int64
	q := getQueryer(ctx, r.pool)
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE entity_type = $1 AND entity_id = $2`,
		string(entityType), entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

func marshalNullable(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalNullable(data []byte, dst *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal audit payload: %w", err)
	}
	return nil
}
