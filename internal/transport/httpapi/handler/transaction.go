package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/transaction"
	"github.com/hweilin/moneybook/pkg/money"
)

// TransactionHandler handles double-entry transaction requests
type TransactionHandler struct {
	service *transaction.Service
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(service *transaction.Service) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// CreateTransactionRequest represents the create transaction request body
type CreateTransactionRequest struct {
	LedgerID         uuid.UUID    `json:"ledger_id"`
	Date             string       `json:"date"`
	Description      string       `json:"description"`
	Amount           money.Amount `json:"amount"`
	FromAccountID    uuid.UUID    `json:"from_account_id"`
	ToAccountID      uuid.UUID    `json:"to_account_id"`
	Type             string       `json:"type"`
	Notes            *string      `json:"notes,omitempty"`
	AmountExpression *string      `json:"amount_expression,omitempty"`
	TagIDs           []uuid.UUID  `json:"tag_ids,omitempty"`
}

// CreateTransaction handles POST /transactions
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		respondError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	t, err := h.service.Create(r.Context(), userID, transaction.CreateInput{
		LedgerID:         req.LedgerID,
		Date:             date,
		Description:      req.Description,
		Amount:           req.Amount,
		FromAccountID:    req.FromAccountID,
		ToAccountID:      req.ToAccountID,
		Type:             ledger.TransactionType(req.Type),
		Notes:            req.Notes,
		AmountExpression: req.AmountExpression,
		TagIDs:           req.TagIDs,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusCreated)
}

// UpdateTransactionRequest represents the partial update request body
type UpdateTransactionRequest struct {
	Date          *string       `json:"date,omitempty"`
	Description   *string       `json:"description,omitempty"`
	Amount        *money.Amount `json:"amount,omitempty"`
	FromAccountID *uuid.UUID    `json:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID    `json:"to_account_id,omitempty"`
	Type          *string       `json:"type,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
	TagIDs        []uuid.UUID   `json:"tag_ids,omitempty"`
}

// UpdateTransaction handles PUT /transactions/{id}
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in := transaction.UpdateInput{
		Description:   req.Description,
		Amount:        req.Amount,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Notes:         req.Notes,
		TagIDs:        req.TagIDs,
	}
	if req.Date != nil {
		date, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			respondError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		in.Date = &date
	}
	if req.Type != nil {
		txType := ledger.TransactionType(*req.Type)
		in.Type = &txType
	}

	t, err := h.service.Update(r.Context(), userID, id, in)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusOK)
}

// DeleteTransaction handles DELETE /transactions/{id}
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTransaction handles GET /transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusOK)
}

// ListTransactions handles GET /ledgers/{id}/transactions
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	query := r.URL.Query()
	filters := transaction.Filters{Search: query.Get("search")}

	if raw := query.Get("from_date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(w, "invalid from_date", http.StatusBadRequest)
			return
		}
		filters.FromDate = &d
	}
	if raw := query.Get("to_date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(w, "invalid to_date", http.StatusBadRequest)
			return
		}
		filters.ToDate = &d
	}
	if raw := query.Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, "invalid account_id", http.StatusBadRequest)
			return
		}
		filters.AccountID = &id
	}
	if raw := query.Get("type"); raw != "" {
		txType := ledger.TransactionType(raw)
		filters.Type = &txType
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	page, err := h.service.List(r.Context(), userID, ledgerID, filters, query.Get("cursor"), limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, page, http.StatusOK)
}
