package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/ledger"
)

// AuditReader lists audit rows newest first
type AuditReader interface {
	ListByLedger(ctx context.Context, ledgerID uuid.UUID, limit int) ([]*audit.Log, error)
}

// AuditHandler serves the append-only audit trail
type AuditHandler struct {
	ledgers *ledger.Service
	reader  AuditReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(ledgers *ledger.Service, reader AuditReader) *AuditHandler {
	return &AuditHandler{ledgers: ledgers, reader: reader}
}

// ListByLedger handles GET /ledgers/{id}/audit
func (h *AuditHandler) ListByLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	// Ownership check rides on the ledger engine.
	if _, err := h.ledgers.Get(r.Context(), ledgerID, userID); err != nil {
		respondAppError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logs, err := h.reader.ListByLedger(r.Context(), ledgerID, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"logs": logs}, http.StatusOK)
}
