package server

import (
	"net/http"
	"strings"

	"github.com/dvcrn/codex-oauth-proxy/internal/openai"
)

// supportedModels is the static list served on any path ending in /models.
var supportedModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"o4-mini",
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
}

// dispatch routes every request that has no dedicated route. Clients send
// chat requests to many different paths, so any POST is treated as one.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/models") || strings.HasSuffix(path, "/models/"):
		s.modelsHandler(w, r)
	case r.Method == http.MethodPost && path != "/auth" && path != "/status":
		s.chatCompletionsHandler(w, r)
	default:
		s.fallbackHandler(w, r)
	}
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	list := openai.ModelList{Object: "list", Data: make([]openai.Model, 0, len(supportedModels))}
	for _, id := range supportedModels {
		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: "openai",
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) fallbackHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": "Codex OAuth proxy is running. POST to any path for chat completions.",
		"endpoints": map[string]string{
			"chat":   "POST /v1/chat/completions",
			"models": "GET /v1/models",
			"status": "GET /status",
			"auth":   "GET /auth",
		},
	})
}
