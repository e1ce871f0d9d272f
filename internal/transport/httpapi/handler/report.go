package handler

import (
	"net/http"
	"time"

	"github.com/hweilin/moneybook/internal/report"
)

// ReportHandler handles financial statement requests
type ReportHandler struct {
	service *report.Service
}

// NewReportHandler creates a new report handler
func NewReportHandler(service *report.Service) *ReportHandler {
	return &ReportHandler{service: service}
}

// BalanceSheet handles GET /ledgers/{id}/reports/balance-sheet
func (h *ReportHandler) BalanceSheet(w http.ResponseWriter, r *http.Request) {
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

	sheet, err := h.service.BalanceSheet(r.Context(), userID, ledgerID, asOf)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, sheet, http.StatusOK)
}

// IncomeStatement handles GET /ledgers/{id}/reports/income-statement.
// Without explicit dates it covers the current calendar month.
func (h *ReportHandler) IncomeStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	start, err := queryDate(r, "start_date", monthStart)
	if err != nil {
		respondError(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	end, err := queryDate(r, "end_date", monthStart.AddDate(0, 1, -1))
	if err != nil {
		respondError(w, "invalid end_date", http.StatusBadRequest)
		return
	}

	statement, err := h.service.IncomeStatement(r.Context(), userID, ledgerID, start, end)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, statement, http.StatusOK)
}
