package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// LedgerHandler handles ledger lifecycle requests
type LedgerHandler struct {
	service *ledger.Service
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(service *ledger.Service) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// CreateLedgerRequest represents the create ledger request body
type CreateLedgerRequest struct {
	Name           string       `json:"name"`
	InitialBalance money.Amount `json:"initial_balance"`
}

// CreateLedger handles POST /ledgers
func (h *LedgerHandler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	l, err := h.service.Create(r.Context(), userID, req.Name, req.InitialBalance)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, l, http.StatusCreated)
}

// GetLedger handles GET /ledgers/{id}
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	l, err := h.service.Get(r.Context(), id, userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, l, http.StatusOK)
}

// ListLedgers handles GET /ledgers
func (h *LedgerHandler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	ledgers, err := h.service.List(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"ledgers": ledgers}, http.StatusOK)
}

// UpdateLedgerRequest represents the rename request body
type UpdateLedgerRequest struct {
	Name string `json:"name"`
}

// UpdateLedger handles PUT /ledgers/{id}
func (h *LedgerHandler) UpdateLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	l, err := h.service.UpdateName(r.Context(), id, userID, req.Name)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, l, http.StatusOK)
}

// DeleteLedger handles DELETE /ledgers/{id}
func (h *LedgerHandler) DeleteLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id, userID); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearTransactions handles POST /ledgers/{id}/clear-transactions
func (h *LedgerHandler) ClearTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.ClearTransactions(r.Context(), id, userID); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAccounts handles POST /ledgers/{id}/clear-accounts
func (h *LedgerHandler) ClearAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.ClearAccounts(r.Context(), id, userID); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
