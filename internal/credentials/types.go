package credentials

import (
	"errors"
	"time"
)

// ErrNotAuthenticated is returned when no credential has been stored yet. The
// operator has to run an explicit login before requests can be proxied.
var ErrNotAuthenticated = errors.New("not authenticated: run with --auth-only or visit /auth")

// Credential is the persisted OAuth credential set.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is the absolute expiry of AccessToken in unix milliseconds.
	ExpiresAt int64  `json:"expires_at"`
	AccountID string `json:"account_id,omitempty"`
}

// Usable reports whether the credential carries an access token at all.
func (c *Credential) Usable() bool {
	return c != nil && c.AccessToken != ""
}

// Expiry returns ExpiresAt as a time.Time.
func (c *Credential) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}
