package oauth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

// RefreshSkew is how long before expires_at a token is already refreshed.
const RefreshSkew = 60 * time.Second

// Refresher performs a refresh_token grant. *Client implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// ManagerOption configures a TokenManager.
type ManagerOption func(*TokenManager)

// WithManagerClock overrides the time source used for expiry checks.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithRefreshObserver registers a callback invoked after every refresh
// attempt with its outcome.
func WithRefreshObserver(fn func(err error)) ManagerOption {
	return func(m *TokenManager) {
		m.observe = fn
	}
}

// TokenManager hands out a valid credential, refreshing it when it is about to
// expire. Concurrent callers that all see an expiring token share a single
// refresh.
type TokenManager struct {
	store     credentials.Store
	refresher Refresher
	now       func() time.Time
	observe   func(err error)
	group     singleflight.Group
}

// NewTokenManager creates a token manager backed by store.
func NewTokenManager(store credentials.Store, refresher Refresher, opts ...ManagerOption) *TokenManager {
	m := &TokenManager{
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the stored credential without refreshing it.
func (m *TokenManager) Current() (*credentials.Credential, bool) {
	return m.store.Load()
}

// ValidCredential returns a credential whose access token is valid for at
// least RefreshSkew. It returns credentials.ErrNotAuthenticated when nothing
// is stored and a *TokenRefreshError when the refresh fails; the stored
// credential is left untouched in that case.
func (m *TokenManager) ValidCredential(ctx context.Context) (*credentials.Credential, error) {
	cred, ok := m.store.Load()
	if !ok {
		return nil, credentials.ErrNotAuthenticated
	}
	if !m.needsRefresh(cred) {
		return cred, nil
	}

	v, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have refreshed while this one was waiting.
		latest, ok := m.store.Load()
		if !ok {
			return nil, credentials.ErrNotAuthenticated
		}
		if !m.needsRefresh(latest) {
			return latest, nil
		}
		// Joined callers must not lose the refresh when the first one goes away.
		return m.refresh(context.WithoutCancel(ctx), latest)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Get().Debug().Msg("Joined in-flight token refresh")
	}
	return v.(*credentials.Credential), nil
}

func (m *TokenManager) needsRefresh(cred *credentials.Credential) bool {
	return !cred.Usable() || cred.ExpiresAt < m.now().Add(RefreshSkew).UnixMilli()
}

func (m *TokenManager) refresh(ctx context.Context, old *credentials.Credential) (*credentials.Credential, error) {
	logger.Get().Info().Msg("Access token expired or expiring soon, refreshing")

	if old.RefreshToken == "" {
		err := &TokenRefreshError{Err: errors.New("no refresh token stored")}
		m.report(err)
		return nil, err
	}

	tok, err := m.refresher.Refresh(ctx, old.RefreshToken)
	if err != nil {
		refreshErr := &TokenRefreshError{Err: err}
		m.report(refreshErr)
		logger.Get().Error().Err(err).Msg("Failed to refresh access token")
		return nil, refreshErr
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}

	cred := tok.Credential(m.now(), old.AccountID)
	if err := m.store.Save(cred); err != nil {
		// The new token is still usable for this request.
		logger.Get().Error().Err(err).Msg("Failed to persist refreshed credentials")
	}
	m.report(nil)

	logger.Get().Info().
		Dur("valid_for", cred.Expiry().Sub(m.now()).Round(time.Second)).
		Msg("Access token refreshed")
	return cred, nil
}

func (m *TokenManager) report(err error) {
	if m.observe != nil {
		m.observe(err)
	}
}
