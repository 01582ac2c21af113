package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/version"
)

// OAuth configuration shared by both login flows.
const (
	DefaultIssuer      = "https://auth.openai.com"
	ClientID           = "app_EMoamEEZ73f0CkXaXp7hrann"
	DefaultRedirectURI = "http://localhost:1455/auth/callback"

	// defaultExpiresIn applies when the issuer omits expires_in.
	defaultExpiresIn = 3600 * time.Second
)

// Scopes requested during authorization.
var Scopes = []string{"openid", "profile", "email", "offline_access"}

// TokenResponse is the subset of an issuer token response the proxy keeps.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// ExpiresIn is zero when the issuer did not send expires_in.
	ExpiresIn time.Duration
}

// Credential converts the response into a persisted credential. The account
// id is taken from the id token, then the access token, then fallbackAccountID.
func (t *TokenResponse) Credential(now time.Time, fallbackAccountID string) *credentials.Credential {
	expiresIn := t.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	accountID := credentials.ExtractAccountID(t.IDToken, t.AccessToken)
	if accountID == "" {
		accountID = fallbackAccountID
	}
	return &credentials.Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    now.Add(expiresIn).UnixMilli(),
		AccountID:    accountID,
	}
}

// DeviceCode is the issuer's answer to a device authorization request.
type DeviceCode struct {
	DeviceAuthID string
	UserCode     string
	// Interval is the poll interval requested by the issuer, 0 if absent.
	Interval time.Duration
}

// DeviceAuthorization is returned once the user approved a device code.
type DeviceAuthorization struct {
	AuthorizationCode string
	CodeVerifier      string
}

// Client talks to the issuer's OAuth and device-auth endpoints.
type Client struct {
	issuer     string
	httpClient *http.Client
}

// NewClient creates an issuer client. An empty issuer selects DefaultIssuer.
func NewClient(issuer string, httpClient *http.Client) *Client {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		issuer:     strings.TrimRight(issuer, "/"),
		httpClient: httpClient,
	}
}

// Issuer returns the issuer base URL.
func (c *Client) Issuer() string {
	return c.issuer
}

// DeviceVerificationURL is where the user enters a device code.
func (c *Client) DeviceVerificationURL() string {
	return c.issuer + "/codex/device"
}

// deviceRedirectURI is the redirect registered for device-code exchanges.
func (c *Client) deviceRedirectURI() string {
	return c.issuer + "/deviceauth/callback"
}

func (c *Client) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.issuer + "/oauth/authorize",
			TokenURL:  c.issuer + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      Scopes,
	}
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the authorization URL for one PKCE attempt.
func (c *Client) AuthCodeURL(redirectURI, state string, pkce *PKCECodes) string {
	return c.config(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
		oauth2.SetAuthURLParam("codex_cli_simplified_flow", "true"),
		oauth2.SetAuthURLParam("originator", version.Originator),
	)
}

// ExchangeCode redeems an authorization code and its verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenResponse, error) {
	tok, err := c.config(redirectURI).Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, issuerError("token exchange", err)
	}
	return tokenResponse(tok), nil
}

// Refresh performs a refresh_token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	src := c.config("").TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, issuerError("token refresh", err)
	}
	return tokenResponse(tok), nil
}

// RequestDeviceCode starts a device authorization.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	body, status, err := c.postJSON(ctx, "/api/accounts/deviceauth/usercode", map[string]string{
		"client_id": ClientID,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &AuthError{Status: status, Message: "device authorization request rejected: " + strings.TrimSpace(string(body))}
	}

	parsed := gjson.ParseBytes(body)
	dc := &DeviceCode{
		DeviceAuthID: parsed.Get("device_auth_id").String(),
		UserCode:     parsed.Get("user_code").String(),
	}
	if dc.UserCode == "" {
		dc.UserCode = parsed.Get("usercode").String()
	}
	if dc.DeviceAuthID == "" || dc.UserCode == "" {
		return nil, &AuthError{Status: status, Message: "device authorization response is missing device_auth_id or user_code"}
	}
	// The interval arrives as a number or a numeric string.
	if secs := parsed.Get("interval").Int(); secs > 0 {
		dc.Interval = time.Duration(secs) * time.Second
	}
	return dc, nil
}

// PollDeviceToken asks once whether the user approved the device code. It
// returns errAuthorizationPending for 403 and 404, and an AuthError for any
// other non-2xx status.
func (c *Client) PollDeviceToken(ctx context.Context, dc *DeviceCode) (*DeviceAuthorization, error) {
	body, status, err := c.postJSON(ctx, "/api/accounts/deviceauth/token", map[string]string{
		"device_auth_id": dc.DeviceAuthID,
		"user_code":      dc.UserCode,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusForbidden || status == http.StatusNotFound:
		return nil, errAuthorizationPending
	case status < 200 || status > 299:
		return nil, &AuthError{Status: status, Message: "device authorization failed: " + strings.TrimSpace(string(body))}
	}

	parsed := gjson.ParseBytes(body)
	auth := &DeviceAuthorization{
		AuthorizationCode: parsed.Get("authorization_code").String(),
		CodeVerifier:      parsed.Get("code_verifier").String(),
	}
	if auth.AuthorizationCode == "" {
		return nil, &AuthError{Status: status, Message: "device authorization response is missing authorization_code"}
	}
	return auth, nil
}

// ExchangeDeviceAuthorization redeems an approved device authorization.
func (c *Client) ExchangeDeviceAuthorization(ctx context.Context, auth *DeviceAuthorization) (*TokenResponse, error) {
	return c.ExchangeCode(ctx, auth.AuthorizationCode, auth.CodeVerifier, c.deviceRedirectURI())
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuer+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request execution error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("could not read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func tokenResponse(tok *oauth2.Token) *TokenResponse {
	out := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		out.ExpiresIn = time.Duration(v) * time.Second
	case string:
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.ExpiresIn = time.Duration(secs) * time.Second
		}
	}
	if out.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		out.ExpiresIn = time.Until(tok.Expiry)
	}
	return out
}

// issuerError turns oauth2 retrieve errors into AuthError so callers can read
// the issuer's status code.
func issuerError(step string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := strings.TrimSpace(string(re.Body))
		if re.ErrorDescription != "" {
			msg = re.ErrorDescription
		} else if re.ErrorCode != "" {
			msg = re.ErrorCode
		}
		return &AuthError{Status: status, Message: fmt.Sprintf("%s: %s", step, msg)}
	}
	return fmt.Errorf("%s: %w", step, err)
}
