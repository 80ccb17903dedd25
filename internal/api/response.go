package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/service"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a failed Result carrying only a message.
func WriteError(w http.ResponseWriter, status int, message string) {
	res := service.Result{Success: false, Message: message}
	if status == http.StatusBadRequest {
		res.ErrorType = string(appErrors.ErrorTypeValidation)
	}
	WriteJSON(w, status, res)
}

// WriteResult writes res with the status derived from its error type.
func WriteResult(w http.ResponseWriter, res service.Result) {
	WriteJSON(w, StatusFor(res), res)
}

// StatusFor maps a Result onto an HTTP status.
func StatusFor(res service.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch appErrors.ErrorType(res.ErrorType) {
	case appErrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case appErrors.ErrorTypeBackupNotFound, appErrors.ErrorTypeMigrationNotFound:
		return http.StatusNotFound
	case appErrors.ErrorTypeChecksumMismatch, appErrors.ErrorTypeMalformedSnapshot, appErrors.ErrorTypeMigrationState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
