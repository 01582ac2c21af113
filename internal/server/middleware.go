package server

import (
	"net/http"
	"strings"

	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

// corsMiddleware allows any origin and answers preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware requires 'Authorization: Bearer <key>' on every path but
// /auth when an API key is configured.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" || r.URL.Path == "/auth" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != s.opts.APIKey {
			logger.Get().Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rejected request with invalid API key")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "auth_error", "invalid_api_key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
