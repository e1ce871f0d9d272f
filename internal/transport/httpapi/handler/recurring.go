package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/recurring"
	"github.com/hweilin/moneybook/pkg/money"
)

// RecurringHandler handles recurring templates and installment plans
type RecurringHandler struct {
	service *recurring.Service
}

// NewRecurringHandler creates a new recurring handler
func NewRecurringHandler(service *recurring.Service) *RecurringHandler {
	return &RecurringHandler{service: service}
}

// CreateTemplateRequest represents the create template request body
type CreateTemplateRequest struct {
	LedgerID      uuid.UUID    `json:"ledger_id"`
	Description   string       `json:"description"`
	Amount        money.Amount `json:"amount"`
	FromAccountID uuid.UUID    `json:"from_account_id"`
	ToAccountID   uuid.UUID    `json:"to_account_id"`
	Type          string       `json:"type"`
	Frequency     string       `json:"frequency"`
	StartDate     string       `json:"start_date"`
	EndDate       *string      `json:"end_date,omitempty"`
}

// CreateTemplate handles POST /recurring/templates
func (h *RecurringHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		respondError(w, "invalid start_date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	var end *time.Time
	if req.EndDate != nil {
		parsed, err := time.Parse(dateLayout, *req.EndDate)
		if err != nil {
			respondError(w, "invalid end_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end = &parsed
	}

	t, err := h.service.CreateTemplate(r.Context(), userID, recurring.TemplateInput{
		LedgerID:      req.LedgerID,
		Description:   req.Description,
		Amount:        req.Amount,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Type:          ledger.TransactionType(req.Type),
		Frequency:     recurring.Frequency(req.Frequency),
		StartDate:     start,
		EndDate:       end,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusCreated)
}

// ListTemplates handles GET /ledgers/{id}/recurring/templates
func (h *RecurringHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	templates, err := h.service.ListTemplates(r.Context(), userID, ledgerID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"templates": templates}, http.StatusOK)
}

// ListDue handles GET /ledgers/{id}/recurring/due
func (h *RecurringHandler) ListDue(w http.ResponseWriter, r *http.Request) {
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

	due, err := h.service.ListDue(r.Context(), userID, ledgerID, asOf)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"templates": due}, http.StatusOK)
}

// ApproveTemplate handles POST /recurring/templates/{id}/approve
func (h *RecurringHandler) ApproveTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of", time.Now().UTC())
	if err != nil {
		respondError(w, "invalid as_of date", http.StatusBadRequest)
		return
	}

	t, err := h.service.Approve(r.Context(), userID, id, asOf)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusCreated)
}

// SkipTemplate handles POST /recurring/templates/{id}/skip
func (h *RecurringHandler) SkipTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of", time.Now().UTC())
	if err != nil {
		respondError(w, "invalid as_of date", http.StatusBadRequest)
		return
	}

	t, err := h.service.Skip(r.Context(), userID, id, asOf)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, t, http.StatusOK)
}

// DeleteTemplate handles DELETE /recurring/templates/{id}
func (h *RecurringHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteTemplate(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePlanRequest represents the create installment plan request body
type CreatePlanRequest struct {
	LedgerID      uuid.UUID    `json:"ledger_id"`
	Description   string       `json:"description"`
	TotalAmount   money.Amount `json:"total_amount"`
	Count         int          `json:"count"`
	StartDate     string       `json:"start_date"`
	FromAccountID uuid.UUID    `json:"from_account_id"`
	ToAccountID   uuid.UUID    `json:"to_account_id"`
	Type          string       `json:"type"`
}

// CreatePlan handles POST /recurring/plans
func (h *RecurringHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		respondError(w, "invalid start_date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	p, err := h.service.CreatePlan(r.Context(), userID, recurring.PlanInput{
		LedgerID:      req.LedgerID,
		Description:   req.Description,
		TotalAmount:   req.TotalAmount,
		Count:         req.Count,
		StartDate:     start,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Type:          ledger.TransactionType(req.Type),
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, p, http.StatusCreated)
}

// ListPlans handles GET /ledgers/{id}/recurring/plans
func (h *RecurringHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	plans, err := h.service.ListPlans(r.Context(), userID, ledgerID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"plans": plans}, http.StatusOK)
}
