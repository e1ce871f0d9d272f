package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/account"
	"github.com/hweilin/moneybook/internal/ledger"
)

// AccountHandler handles chart-of-accounts requests
type AccountHandler struct {
	service *account.Service
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(service *account.Service) *AccountHandler {
	return &AccountHandler{service: service}
}

// CreateAccountRequest represents the create account request body
type CreateAccountRequest struct {
	LedgerID uuid.UUID  `json:"ledger_id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

// CreateAccount handles POST /accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.service.Create(r.Context(), userID, account.CreateInput{
		LedgerID: req.LedgerID,
		Name:     req.Name,
		Type:     ledger.AccountType(req.Type),
		ParentID: req.ParentID,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, a, http.StatusCreated)
}

// UpdateAccountRequest represents a rename and/or re-parent request
type UpdateAccountRequest struct {
	Name        *string    `json:"name,omitempty"`
	NewParentID *uuid.UUID `json:"new_parent_id,omitempty"`
	MoveToRoot  bool       `json:"move_to_root,omitempty"`
}

// UpdateAccount handles PUT /accounts/{id}
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MoveToRoot && req.NewParentID != nil {
		respondError(w, "move_to_root and new_parent_id are mutually exclusive", http.StatusBadRequest)
		return
	}

	a, err := h.service.Update(r.Context(), userID, id, account.UpdateInput{
		Name:        req.Name,
		NewParentID: req.NewParentID,
		MoveToRoot:  req.MoveToRoot,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, a, http.StatusOK)
}

// ArchiveAccount handles POST /accounts/{id}/archive
func (h *AccountHandler) ArchiveAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	a, err := h.service.Archive(r.Context(), userID, id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, a, http.StatusOK)
}

// PreviewDelete handles GET /accounts/{id}/delete-preview
func (h *AccountHandler) PreviewDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	preview, err := h.service.PreviewDelete(r.Context(), userID, id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, preview, http.StatusOK)
}

// DeleteAccountRequest carries an optional replacement account for
// transaction reassignment.
type DeleteAccountRequest struct {
	ReplacementID *uuid.UUID `json:"replacement_id,omitempty"`
}

// DeleteAccount handles DELETE /accounts/{id}
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req DeleteAccountRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := h.service.Delete(r.Context(), userID, id, req.ReplacementID); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAccounts handles GET /ledgers/{id}/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"
	accounts, err := h.service.List(r.Context(), userID, ledgerID, includeArchived)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"accounts": accounts}, http.StatusOK)
}

// BalanceLine pairs an account with its aggregated balance
type BalanceLine struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   string    `json:"balance"`
}

// LedgerBalances handles GET /ledgers/{id}/balances
func (h *AccountHandler) LedgerBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of", time.Now().UTC())
	if err != nil {
		respondError(w, "invalid as_of date", http.StatusBadRequest)
		return
	}

	balances, err := h.service.LedgerBalances(r.Context(), userID, ledgerID, asOf)
	if err != nil {
		respondAppError(w, err)
		return
	}

	lines := make([]BalanceLine, 0, len(balances))
	for id, amount := range balances {
		lines = append(lines, BalanceLine{AccountID: id, Balance: amount.String()})
	}
	respondJSON(w, map[string]interface{}{
		"as_of":    asOf.Format(dateLayout),
		"balances": lines,
	}, http.StatusOK)
}
