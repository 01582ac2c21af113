package credentials

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"
)

// Claim paths consulted for the account id, in priority order. The auth
// namespace claim contains dots, hence the escapes.
var accountIDClaimPaths = []string{
	"chatgpt_account_id",
	`https://api\.openai\.com/auth.chatgpt_account_id`,
	"organizations.0.id",
}

// ExtractAccountID returns the account id carried by the first token (in
// argument order) whose claims name one, or "" when none does. Callers pass
// the id token before the access token. Tokens that are not decodable JWTs are
// skipped.
func ExtractAccountID(tokens ...string) string {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		claims, ok := decodeClaims(token)
		if !ok {
			continue
		}
		for _, path := range accountIDClaimPaths {
			if v := gjson.GetBytes(claims, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	return ""
}

// decodeClaims decodes the payload segment of a JWT without verifying it.
func decodeClaims(token string) ([]byte, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, false
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return nil, false
	}
	return payload, true
}
