package server

import (
	"encoding/json"
	"net/http"

	"github.com/dvcrn/codex-oauth-proxy/internal/openai"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error":{...}} envelope. A nil code is omitted.
func writeError(w http.ResponseWriter, status int, message, errType string, code interface{}) {
	writeJSON(w, status, openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
}
