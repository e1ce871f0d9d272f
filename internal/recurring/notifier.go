package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/pkg/logger"
)

// Notifier surfaces templates with a pending occurrence. The daily
// scheduler tick drives it; nothing is posted without an approval.
type Notifier struct {
	repo Repository
	log  *logger.Logger

	now func() time.Time
}

// NewNotifier creates a due-occurrence notifier
func NewNotifier(repo Repository, log *logger.Logger) *Notifier {
	return &Notifier{repo: repo, log: log, now: time.Now}
}

// DueByLedger counts pending occurrences per ledger as of now
func (n *Notifier) DueByLedger(ctx context.Context) (map[uuid.UUID]int, error) {
	asOf := n.now().UTC()
	templates, err := n.repo.ListOpenTemplates(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	due := make(map[uuid.UUID]int)
	for _, t := range templates {
		if t.IsDue(asOf) {
			due[t.LedgerID]++
		}
	}
	return due, nil
}

// NotifyDue reports, per ledger, how many recurring occurrences are
// waiting for approval.
func (n *Notifier) NotifyDue(ctx context.Context) error {
	due, err := n.DueByLedger(ctx)
	if err != nil {
		return err
	}
	for ledgerID, count := range due {
		n.log.WithContext(ctx).Info("recurring occurrences pending approval",
			"ledger_id", ledgerID,
			"count", count,
		)
	}
	return nil
}
