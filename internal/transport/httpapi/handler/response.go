package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ErrorResponse{Error: message}, statusCode)
}

// respondAppError maps an application error to its HTTP status. Errors
// that carry no code answer as 500 without leaking internals.
func respondAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		respondError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeForbiddenSystem:
		status = http.StatusForbidden
	case apperrors.ErrCodeUnauthorized, apperrors.ErrCodeTokenRevoked:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeImportExpired:
		status = http.StatusGone
	case apperrors.ErrCodeTransient:
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, ErrorResponse{Error: appErr.Message, Code: appErr.Code}, status)
}
