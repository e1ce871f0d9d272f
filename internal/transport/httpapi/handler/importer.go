package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/importer"
)

// maxUploadBytes bounds the multipart form, slightly above the
// pipeline's own file size limit so oversize files get a clear error
// from the service instead of a truncated read.
const maxUploadBytes = 16 << 20

// ImportHandler handles the preview-then-execute statement import flow
type ImportHandler struct {
	service *importer.Service
}

// NewImportHandler creates a new import handler
func NewImportHandler(service *importer.Service) *ImportHandler {
	return &ImportHandler{service: service}
}

// Preview handles POST /imports/preview. The statement arrives as a
// multipart upload under the "file" field.
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	ledgerID, err := uuid.Parse(r.FormValue("ledger_id"))
	if err != nil {
		respondError(w, "invalid ledger_id", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "failed to read file", http.StatusBadRequest)
		return
	}

	result, err := h.service.Preview(r.Context(), userID, importer.PreviewInput{
		LedgerID:   ledgerID,
		SourceType: importer.SourceType(r.FormValue("source_type")),
		BankCode:   r.FormValue("bank_code"),
		FileName:   header.Filename,
		Subject:    r.FormValue("subject"),
		Data:       data,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, result, http.StatusCreated)
}

// ExecuteRequest represents the execute request body
type ExecuteRequest struct {
	SkipRows      []int             `json:"skip_rows,omitempty"`
	PathOverrides map[string]string `json:"path_overrides,omitempty"`
}

// Execute handles POST /imports/{id}/execute
func (h *ImportHandler) Execute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ExecuteRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := h.service.Execute(r.Context(), userID, id, importer.ExecuteInput{
		SkipRows:      req.SkipRows,
		PathOverrides: req.PathOverrides,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, sess, http.StatusOK)
}

// GetSession handles GET /imports/{id}
func (h *ImportHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	sess, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, sess, http.StatusOK)
}

// ListSessions handles GET /ledgers/{id}/imports
func (h *ImportHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	sessions, err := h.service.List(r.Context(), userID, ledgerID, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"sessions": sessions}, http.StatusOK)
}
