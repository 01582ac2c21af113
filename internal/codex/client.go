package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	serverhttp "github.com/dvcrn/codex-oauth-proxy/internal/http"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/version"
)

// Client is a client for the Codex Responses endpoint.
type Client struct {
	httpClient serverhttp.HTTPClient
	endpoint   string
}

// NewClient creates a new Responses client. An empty endpoint selects
// DefaultEndpoint.
func NewClient(httpClient serverhttp.HTTPClient, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = serverhttp.NewHTTPClient()
	}
	return &Client{httpClient: httpClient, endpoint: endpoint}
}

// Endpoint returns the upstream URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// StreamResponses posts the request and returns the event-stream body. The
// caller must close it. A non-2xx answer is returned as *UpstreamError.
func (c *Client) StreamResponses(ctx context.Context, cred *credentials.Credential, req *ResponsesRequest) (io.ReadCloser, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("User-Agent", version.PlatformUserAgent())
	httpReq.Header.Set("originator", version.Originator)
	if cred.AccountID != "" {
		httpReq.Header.Set("ChatGPT-Account-Id", cred.AccountID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request execution error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		logger.Get().Error().
			Int("status_code", resp.StatusCode).
			Str("body", string(respBody)).
			Msg("Codex API returned an error")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp.Body, nil
}
