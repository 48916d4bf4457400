// Package server defines small helpers shared by the session, hub and HTTP
// handler code.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// errorBody is the JSON error shape returned by the HTTP endpoints.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Error writing JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, detail string) {
	writeJSON(w, log, status, errorBody{Detail: detail})
}
