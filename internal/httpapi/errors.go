package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorBody is the {error, message, code, retryAfter?} error shape: Error
// carries the error kind (SchemaInvalid, Unauthorized, ...) so callers can
// branch on it without parsing free-text messages, Code repeats the HTTP
// status, and RetryAfter (seconds) is set on rate-limited responses.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
