package oauth

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

const (
	DefaultCallbackAddr = "localhost:1455"
	DefaultLoginTimeout = 5 * time.Minute
)

// Option configures an Authenticator or DeviceAuthenticator.
type Option func(*flowOptions)

type flowOptions struct {
	callbackAddr string
	redirectURI  string
	timeout      time.Duration
	openBrowser  func(string) error
	out          io.Writer
	now          func() time.Time
}

func defaultFlowOptions() flowOptions {
	return flowOptions{
		callbackAddr: DefaultCallbackAddr,
		redirectURI:  DefaultRedirectURI,
		timeout:      DefaultLoginTimeout,
		openBrowser:  OpenBrowser,
		out:          os.Stdout,
		now:          time.Now,
	}
}

// WithCallbackAddr sets the loopback address of the callback listener and
// derives the matching redirect URI.
func WithCallbackAddr(addr string) Option {
	return func(o *flowOptions) {
		o.callbackAddr = addr
		o.redirectURI = "http://" + addr + CallbackPath
	}
}

// WithTimeout bounds how long the browser flow waits for its callback.
func WithTimeout(d time.Duration) Option {
	return func(o *flowOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBrowser replaces the browser launcher. A nil launcher disables it.
func WithBrowser(fn func(string) error) Option {
	return func(o *flowOptions) {
		o.openBrowser = fn
	}
}

// WithOutput sets where user-facing instructions are printed.
func WithOutput(w io.Writer) Option {
	return func(o *flowOptions) {
		o.out = w
	}
}

// WithClock overrides the time source used to compute expires_at.
func WithClock(now func() time.Time) Option {
	return func(o *flowOptions) {
		o.now = now
	}
}

// Authenticator runs the interactive authorization-code flow with PKCE.
type Authenticator struct {
	client *Client
	store  credentials.Store
	opts   flowOptions

	// inFlight is held for the lifetime of one attempt since the callback
	// port can only be bound once.
	inFlight sync.Mutex
}

// NewAuthenticator creates a browser-based authenticator.
func NewAuthenticator(client *Client, store credentials.Store, opts ...Option) *Authenticator {
	o := defaultFlowOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Authenticator{client: client, store: store, opts: o}
}

// Login performs one authorization attempt and persists the resulting
// credential. The callback listener is released before Login returns.
func (a *Authenticator) Login(ctx context.Context) (*credentials.Credential, error) {
	if !a.inFlight.TryLock() {
		return nil, ErrLoginInProgress
	}
	defer a.inFlight.Unlock()

	pkce, err := GeneratePKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	redirectURI := a.opts.redirectURI
	srv := newCallbackServer(a.opts.callbackAddr, state, func(ctx context.Context, code string) (*credentials.Credential, error) {
		tok, err := a.client.ExchangeCode(ctx, code, pkce.CodeVerifier, redirectURI)
		if err != nil {
			return nil, err
		}
		return persist(a.store, tok, a.opts.now(), "")
	})
	if err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Stop()

	authURL := a.client.AuthCodeURL(redirectURI, state, pkce)
	_, _ = fmt.Fprintf(a.opts.out, "\nOpen this URL in your browser to sign in:\n\n  %s\n\nWaiting for the callback on %s ...\n\n", authURL, redirectURI)
	launchBrowser(a.opts.openBrowser, authURL)

	timer := time.NewTimer(a.opts.timeout)
	defer timer.Stop()

	select {
	case res := <-srv.done():
		if res.err != nil {
			logger.Get().Error().Err(res.err).Msg("Authorization failed")
			return nil, res.err
		}
		logger.Get().Info().Str("account_id", res.cred.AccountID).Msg("Authorization successful")
		return res.cred, nil
	case <-timer.C:
		return nil, ErrCallbackTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// persist converts a token response into a credential and saves it. A save
// failure fails the flow.
func persist(store credentials.Store, tok *TokenResponse, now time.Time, fallbackAccountID string) (*credentials.Credential, error) {
	cred := tok.Credential(now, fallbackAccountID)
	if err := store.Save(cred); err != nil {
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}
	return cred, nil
}

func launchBrowser(open func(string) error, url string) {
	if open == nil {
		return
	}
	if err := open(url); err != nil {
		logger.Get().Warn().Err(err).Msg("Could not open browser, open the URL manually")
	}
}
