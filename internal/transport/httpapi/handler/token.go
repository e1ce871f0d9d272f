package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/auth"
)

// TokenHandler handles API token and channel binding requests
type TokenHandler struct {
	tokens   *auth.TokenService
	bindings *auth.BindingService
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(tokens *auth.TokenService, bindings *auth.BindingService) *TokenHandler {
	return &TokenHandler{tokens: tokens, bindings: bindings}
}

// CreateTokenRequest represents the create token request body
type CreateTokenRequest struct {
	Name string `json:"name"`
}

// CreateToken handles POST /tokens. The response carries the raw
// secret; it is never retrievable again.
func (h *TokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.tokens.Create(r.Context(), userID, req.Name)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, created, http.StatusCreated)
}

// ListTokens handles GET /tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	includeRevoked := r.URL.Query().Get("include_revoked") == "true"
	tokens, err := h.tokens.List(r.Context(), userID, includeRevoked)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"tokens": tokens}, http.StatusOK)
}

// RevokeToken handles DELETE /tokens/{id}
func (h *TokenHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.tokens.Revoke(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateCodeRequest represents the binding code request body
type GenerateCodeRequest struct {
	Channel         string     `json:"channel"`
	DefaultLedgerID *uuid.UUID `json:"default_ledger_id,omitempty"`
}

// GenerateCode handles POST /bindings/code
func (h *TokenHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req GenerateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	code, expiresAt, err := h.bindings.GenerateCode(r.Context(), userID, auth.Channel(req.Channel), req.DefaultLedgerID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"code":       code,
		"expires_at": expiresAt,
	}, http.StatusCreated)
}

// VerifyCodeRequest represents the binding verification request body,
// submitted on behalf of the chat-side identity.
type VerifyCodeRequest struct {
	Code           string  `json:"code"`
	ExternalUserID string  `json:"external_user_id"`
	DisplayName    *string `json:"display_name,omitempty"`
}

// VerifyCode handles POST /bindings/verify
func (h *TokenHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	b, err := h.bindings.VerifyCode(r.Context(), req.Code, req.ExternalUserID, req.DisplayName)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, b, http.StatusCreated)
}

// ListBindings handles GET /bindings
func (h *TokenHandler) ListBindings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	bindings, err := h.bindings.List(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"bindings": bindings}, http.StatusOK)
}

// Unbind handles DELETE /bindings/{id}
func (h *TokenHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.bindings.Unbind(r.Context(), userID, id); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
