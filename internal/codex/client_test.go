package codex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/version"
)

func TestClient_StreamResponses(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	assert.Equal(t, srv.URL, c.Endpoint())
	cred := &credentials.Credential{AccessToken: "tok", AccountID: "acct_1"}
	req := &ResponsesRequest{
		Model:        "gpt-4o",
		Instructions: "Be terse",
		Input:        []InputMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Stream:       true,
	}

	body, err := c.StreamResponses(context.Background(), cred, req)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(data))

	assert.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, version.Originator, gotHeaders.Get("originator"))
	assert.Equal(t, "acct_1", gotHeaders.Get("ChatGPT-Account-Id"))
	assert.Contains(t, gotHeaders.Get("User-Agent"), "codex-oauth-proxy/")

	assert.Equal(t, true, gotBody["stream"])
	assert.Equal(t, false, gotBody["store"])
	assert.Equal(t, "Be terse", gotBody["instructions"])
}

func TestClient_StreamResponsesOmitsAccountHeader(t *testing.T) {
	var present bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["Chatgpt-Account-Id"]
	}))
	defer srv.Close()

	body, err := NewClient(srv.Client(), srv.URL).StreamResponses(context.Background(), &credentials.Credential{AccessToken: "tok"}, &ResponsesRequest{})
	require.NoError(t, err)
	_ = body.Close()
	assert.False(t, present)
}

func TestClient_StreamResponsesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"detail":"rate limited"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL).StreamResponses(context.Background(), &credentials.Credential{AccessToken: "tok"}, &ResponsesRequest{})
	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr), "expected UpstreamError, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
	assert.Equal(t, `{"detail":"rate limited"}`, upstreamErr.Body)
}
