package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/metrics"
)

// TokenSource supplies the credential used for upstream calls.
type TokenSource interface {
	// ValidCredential returns a credential that is valid for at least the
	// refresh skew, refreshing it if needed.
	ValidCredential(ctx context.Context) (*credentials.Credential, error)
	// Current returns the stored credential as is.
	Current() (*credentials.Credential, bool)
}

// Upstream opens a Responses event stream.
type Upstream interface {
	StreamResponses(ctx context.Context, cred *credentials.Credential, req *codex.ResponsesRequest) (io.ReadCloser, error)
}

// Options configures optional server behavior.
type Options struct {
	// APIKey enables the bearer token gate when non-empty.
	APIKey string
	// Metrics receives request metrics and is served on /metrics. Nil
	// disables both.
	Metrics *metrics.Collector
	// Port is shown on the auth page.
	Port int
}

// Server represents the proxy server with its dependencies
type Server struct {
	tokens   TokenSource
	upstream Upstream
	opts     Options
	router   chi.Router
	now      func() time.Time
}

// NewServer creates a new server instance.
func NewServer(tokens TokenSource, upstream Upstream, opts Options) *Server {
	s := &Server{
		tokens:   tokens,
		upstream: upstream,
		opts:     opts,
		router:   chi.NewRouter(),
		now:      time.Now,
	}
	s.setupRoutes()

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)
	s.router.Use(loggingMiddleware)
	s.router.Use(s.apiKeyMiddleware)

	s.router.HandleFunc("/auth", s.authPageHandler)
	s.router.HandleFunc("/status", s.statusHandler)
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	s.router.HandleFunc("/*", s.dispatch)
	s.router.NotFound(s.dispatch)
	s.router.MethodNotAllowed(s.dispatch)
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info().Str("addr", addr).Msg("Starting proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Get().Info().Msg("Shutting down proxy server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
