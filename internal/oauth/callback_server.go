package oauth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

const (
	// CallbackPath is the only path the callback listener answers on.
	CallbackPath = "/auth/callback"

	shutdownTimeout = 5 * time.Second
)

// callbackResult is what the listener reports back to the waiting flow.
type callbackResult struct {
	cred *credentials.Credential
	err  error
}

// exchangeFunc redeems the authorization code and persists the credential.
type exchangeFunc func(ctx context.Context, code string) (*credentials.Credential, error)

// CallbackServer is the loopback listener for one authorization attempt. It
// handles at most one callback; Stop releases the port and is safe to call
// more than once.
type CallbackServer struct {
	addr     string
	state    string
	exchange exchangeFunc

	listener net.Listener
	server   *http.Server
	results  chan callbackResult
	handled  atomic.Bool
	stopOnce sync.Once
}

func newCallbackServer(addr, state string, exchange exchangeFunc) *CallbackServer {
	return &CallbackServer{
		addr:     addr,
		state:    state,
		exchange: exchange,
		results:  make(chan callbackResult, 1),
	}
}

// Start binds the listener and begins serving in the background.
func (s *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc("/", http.NotFound)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Error().Err(err).Str("addr", ln.Addr().String()).Msg("OAuth callback server failed")
		}
	}()

	logger.Get().Debug().Str("addr", ln.Addr().String()).Msg("OAuth callback server listening")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *CallbackServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// done delivers exactly one outcome per attempt.
func (s *CallbackServer) done() <-chan callbackResult {
	return s.results
}

// Stop shuts the listener down.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Get().Warn().Err(err).Msg("OAuth callback server did not shut down cleanly")
			_ = s.server.Close()
		}
		logger.Get().Debug().Msg("OAuth callback server stopped")
	})
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.handled.CompareAndSwap(false, true) {
		writeCallbackPage(w, http.StatusConflict, "Already handled", "This authorization attempt has already completed. You can close this window.")
		return
	}

	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		writeCallbackPage(w, http.StatusBadRequest, "Authentication failed", msg)
		s.finish(nil, &AuthError{Message: msg})
		return
	}

	if !stateMatches(s.state, q.Get("state")) {
		writeCallbackPage(w, http.StatusBadRequest, "Authentication failed", "State mismatch. Please start the login again.")
		s.finish(nil, ErrStateMismatch)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeCallbackPage(w, http.StatusBadRequest, "Authentication failed", "The callback did not include an authorization code.")
		s.finish(nil, &AuthError{Message: "missing authorization code"})
		return
	}

	cred, err := s.exchange(r.Context(), code)
	if err != nil {
		writeCallbackPage(w, http.StatusInternalServerError, "Authentication failed", err.Error())
		s.finish(nil, err)
		return
	}

	account := cred.AccountID
	if account == "" {
		account = "unknown"
	}
	writeCallbackPage(w, http.StatusOK, "Authentication successful", "Signed in with account "+account+". You can close this window and return to the terminal.")
	s.finish(cred, nil)
}

func (s *CallbackServer) finish(cred *credentials.Credential, err error) {
	select {
	case s.results <- callbackResult{cred: cred, err: err}:
	default:
	}
}

func writeCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%[1]s</title></head>
<body style="font-family: sans-serif; max-width: 40em; margin: 4em auto;">
<h1>%[1]s</h1>
<p>%[2]s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
}
