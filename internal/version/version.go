package version

import (
	"fmt"
	"runtime"
)

// Version is the proxy release reported to the issuer and the upstream.
const Version = "1.0.0"

// Originator identifies this client to the issuer and the upstream.
const Originator = "opencode"

// Product is the user-agent product token.
const Product = "codex-oauth-proxy"

// UserAgent returns "codex-oauth-proxy/<version>".
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Product, Version)
}

// PlatformUserAgent returns the user agent including GOOS and GOARCH, as sent
// to the upstream.
func PlatformUserAgent() string {
	return fmt.Sprintf("%s (%s %s)", UserAgent(), runtime.GOOS, runtime.GOARCH)
}
