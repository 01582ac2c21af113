package server

import (
	"html/template"
	"net/http"

	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

var authPage = template.Must(template.New("auth").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Codex OAuth Proxy</title></head>
<body style="font-family: system-ui; max-width: 40em; margin: 4em auto;">
<h1>Codex OAuth Proxy</h1>
{{if .Authenticated}}
<p style="color: #16a34a;">Token status: authenticated{{if .AccountID}} (account {{.AccountID}}){{end}}</p>
{{else}}
<p style="color: #dc2626;">Token status: not authenticated</p>
{{end}}
<p>Run <code>codex-oauth-proxy --auth-only</code> in a terminal to sign in (add <code>--device</code> on a headless machine).</p>
<h2>Client settings</h2>
<ul>
<li>Base URL: <code>http://localhost:{{.Port}}/v1</code></li>
<li>API key: {{if .KeyRequired}}the configured proxy key{{else}}any value{{end}}</li>
<li>Model: <code>gpt-4o</code></li>
</ul>
</body>
</html>
`))

type authPageData struct {
	Authenticated bool
	AccountID     string
	Port          int
	KeyRequired   bool
}

// authPageHandler renders the token status and client setup instructions.
func (s *Server) authPageHandler(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.tokens.Current()
	data := authPageData{
		Authenticated: ok,
		Port:          s.opts.Port,
		KeyRequired:   s.opts.APIKey != "",
	}
	if ok {
		data.AccountID = cred.AccountID
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := authPage.Execute(w, data); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to render auth page")
	}
}

// isoMillis is RFC 3339 with fixed millisecond precision.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type statusResponse struct {
	Authenticated bool    `json:"authenticated"`
	AccountID     *string `json:"account_id,omitempty"`
	TokenExpires  *string `json:"token_expires"`
}

// statusHandler reports whether a credential is stored and when it expires.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.tokens.Current()
	resp := statusResponse{Authenticated: ok}
	if ok {
		if cred.AccountID != "" {
			resp.AccountID = &cred.AccountID
		}
		if cred.ExpiresAt > 0 {
			expires := cred.Expiry().UTC().Format(isoMillis)
			resp.TokenExpires = &expires
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
