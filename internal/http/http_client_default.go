package http

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient creates the HTTP client used for the upstream and the issuer.
// No overall timeout is set because upstream responses stream for as long as
// the model keeps generating.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 2 * time.Minute,
			DisableCompression:    true, // Important for SSE
			ForceAttemptHTTP2:     true,
		},
	}
}
