package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/emailauth"
)

// SchedulerReloader re-registers cron entries after schedule changes
type SchedulerReloader interface {
	Reload(ctx context.Context) error
}

// EmailAuthHandler handles mailbox authorizations and scan schedules
type EmailAuthHandler struct {
	service   *emailauth.Service
	scheduler SchedulerReloader
}

// NewEmailAuthHandler creates a new email auth handler. scheduler may
// be nil when the scan scheduler is disabled.
func NewEmailAuthHandler(service *emailauth.Service, scheduler SchedulerReloader) *EmailAuthHandler {
	return &EmailAuthHandler{service: service, scheduler: scheduler}
}

// ConnectRequest represents the connect request body. The refresh token
// comes from the provider's OAuth consent flow.
type ConnectRequest struct {
	Provider     string `json:"provider"`
	EmailAddress string `json:"email_address"`
	RefreshToken string `json:"refresh_token"`
}

// Connect handles POST /email/authorizations
func (h *EmailAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.service.Connect(r.Context(), userID, emailauth.Provider(req.Provider), req.EmailAddress, req.RefreshToken)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, a, http.StatusCreated)
}

// Disconnect handles DELETE /email/authorizations/{id}
func (h *EmailAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAuthorizations handles GET /email/authorizations
func (h *EmailAuthHandler) ListAuthorizations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	auths, err := h.service.List(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"authorizations": auths}, http.StatusOK)
}

// CreateScanConfigRequest represents the scan schedule request body
type CreateScanConfigRequest struct {
	AuthorizationID uuid.UUID `json:"authorization_id"`
	LedgerID        uuid.UUID `json:"ledger_id"`
	BankCode        string    `json:"bank_code"`
	Frequency       string    `json:"frequency"`
	Hour            int       `json:"hour"`
	DayOfWeek       int       `json:"day_of_week"`
}

// CreateScanConfig handles POST /email/scan-configs
func (h *EmailAuthHandler) CreateScanConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateScanConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateScanConfig(r.Context(), userID, emailauth.ScanConfigInput{
		AuthorizationID: req.AuthorizationID,
		LedgerID:        req.LedgerID,
		BankCode:        req.BankCode,
		Frequency:       emailauth.ScanFrequency(req.Frequency),
		Hour:            req.Hour,
		DayOfWeek:       req.DayOfWeek,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	h.reload(r.Context())
	respondJSON(w, c, http.StatusCreated)
}

// ListScanConfigs handles GET /email/scan-configs
func (h *EmailAuthHandler) ListScanConfigs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	configs, err := h.service.ListScanConfigs(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"scan_configs": configs}, http.StatusOK)
}

// DeactivateScanConfig handles DELETE /email/scan-configs/{id}
func (h *EmailAuthHandler) DeactivateScanConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeactivateScanConfig(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	h.reload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ListScanRuns handles GET /email/scan-configs/{id}/runs
func (h *EmailAuthHandler) ListScanRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.service.ListScanRuns(r.Context(), userID, id, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"runs": runs}, http.StatusOK)
}

func (h *EmailAuthHandler) reload(ctx context.Context) {
	if h.scheduler != nil {
		// Schedule changes take effect without a restart; a reload
		// failure surfaces in the scheduler's own logs.
		_ = h.scheduler.Reload(ctx)
	}
}
