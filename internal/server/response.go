package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse is the error envelope every failing endpoint returns,
// so CLI and browser clients parse one shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError sends message wrapped in ErrorResponse with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		log.Printf("[BridgeServer] failed to write error response: %v", err)
	}
}

// writeJSON writes a JSON response body with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[BridgeServer] failed to write response: %v", err)
	}
}
