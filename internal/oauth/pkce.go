// Package oauth implements the issuer side of the proxy's credential
// lifecycle: the browser based PKCE authorization-code flow, the headless
// device-code flow, and refreshing the stored access token before it expires.
package oauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// verifierAlphabet is the RFC 7636 unreserved character set.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// VerifierLength is the length of generated code verifiers.
const VerifierLength = 43

// PKCECodes holds the verifier and S256 challenge for one authorization attempt.
type PKCECodes struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// GeneratePKCECodes creates a fresh verifier and its challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	verifier, err := randomString(VerifierLength, verifierAlphabet)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: CodeChallenge(verifier),
	}, nil
}

// CodeChallenge returns base64url(sha256(verifier)) without padding.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns 32 random bytes, base64url encoded, used as the CSRF
// token of an authorization attempt.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// stateMatches compares the returned state with the expected one byte for byte.
func stateMatches(expected, returned string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(returned)) == 1
}

// randomString draws n characters uniformly from alphabet, rejecting bytes
// that would bias the modulo.
func randomString(n int, alphabet string) (string, error) {
	limit := 256 - (256 % len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
