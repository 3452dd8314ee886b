package httpapi

import (
	"encoding/json"
	"net/http"
)

// APIError is the JSON error envelope shared by every API endpoint. Code is a
// stable machine-readable identifier; Meta carries reconciliation details such
// as the correlation id or, for version conflicts, both version values.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func WriteError(w http.ResponseWriter, status int, requestID, code, message string, meta map[string]string) {
	if meta == nil {
		meta = map[string]string{}
	}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	WriteJSON(w, status, &APIError{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// NotFound is the router-level fallback for unmatched paths.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "", "NOT_FOUND", "resource not found", nil)
	})
}

// MethodNotAllowed is the router-level fallback for unsupported methods.
func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "", "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
}
