package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors the handler error envelope so middleware rejections
// look the same as handler errors to clients.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{StatusCode: status, Message: message, ErrorCode: code})
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message, "UNAUTHORIZED")
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message, "FORBIDDEN")
}

func tooManyRequests(w http.ResponseWriter, message string) {
	writeError(w, http.StatusTooManyRequests, message, "RATE_LIMITED")
}
