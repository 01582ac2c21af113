package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrStateMismatch is returned when the callback's state differs from the
	// one generated for the attempt.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrCallbackTimeout is returned when no callback arrives in time.
	ErrCallbackTimeout = errors.New("timed out waiting for oauth callback")

	// ErrLoginInProgress is returned when a second browser login is started
	// while the callback listener is still owned by another attempt.
	ErrLoginInProgress = errors.New("an authorization attempt is already in progress")

	// errAuthorizationPending signals a device poll that should be retried.
	errAuthorizationPending = errors.New("device authorization pending")
)

// AuthError reports that the issuer rejected an authorization step. Status is
// the HTTP status returned by the issuer, or 0 when the rejection arrived as an
// error parameter on the callback.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authorization failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("authorization failed: %s", e.Message)
}

// TokenRefreshError wraps a failed refresh_token grant.
type TokenRefreshError struct {
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error {
	return e.Err
}
