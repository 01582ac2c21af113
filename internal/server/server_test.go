package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/metrics"
	"github.com/dvcrn/codex-oauth-proxy/internal/oauth"
)

type fakeTokens struct {
	cred *credentials.Credential
	err  error
}

func (f *fakeTokens) ValidCredential(context.Context) (*credentials.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.cred == nil {
		return nil, credentials.ErrNotAuthenticated
	}
	return f.cred, nil
}

func (f *fakeTokens) Current() (*credentials.Credential, bool) {
	return f.cred, f.cred != nil
}

type fakeUpstream struct {
	mu    sync.Mutex
	body  string
	err   error
	calls []*codex.ResponsesRequest
	creds []*credentials.Credential
}

func (f *fakeUpstream) StreamResponses(_ context.Context, cred *credentials.Credential, req *codex.ResponsesRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.creds = append(f.creds, cred)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

const helloStream = "event: response.created\n" +
	`data: {"type":"response.created","id":"resp_1"}` + "\n\n" +
	`data: {"type":"response.output_text.delta","delta":"He"}` + "\n\n" +
	`data: {"type":"response.output_text.delta","delta":"llo"}` + "\n\n" +
	`data: {"type":"response.completed"}` + "\n\n"

func validCred() *credentials.Credential {
	return &credentials.Credential{AccessToken: "tok", RefreshToken: "r", ExpiresAt: 1_700_000_000_000, AccountID: "acct_1"}
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env struct {
		Error map[string]interface{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	up := &fakeUpstream{body: helloStream}
	s := NewServer(&fakeTokens{cred: validCred()}, up, Options{})

	rec := do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4.1","messages":[{"role":"system","content":"Be terse"},{"role":"user","content":"hi"}],"temperature":0.2}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "resp_1", result["id"])
	assert.Equal(t, "gpt-4.1", result["model"])
	msg := result["choices"].([]interface{})[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "Hello", msg["content"])

	require.Len(t, up.calls, 1)
	assert.Equal(t, "Be terse", up.calls[0].Instructions)
	assert.True(t, up.calls[0].Stream)
	assert.False(t, up.calls[0].Store)
	assert.Equal(t, "acct_1", up.creds[0].AccountID)
}

func TestChatCompletions_Streaming(t *testing.T) {
	s := NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{body: helloStream}, Options{})

	rec := do(t, s, http.MethodPost, "/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	out := rec.Body.String()
	assert.Equal(t, 1, strings.Count(out, "data: [DONE]\n\n"))
	assert.Contains(t, out, `"content":"He"`)
	assert.Contains(t, out, `"content":"llo"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.Contains(t, out, `"model":"gpt-4o"`)
}

func TestChatCompletions_SamplingParamsOfAnyShapeAreIgnored(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{"float max_tokens", `"max_tokens":1024.0`},
		{"exponent seed", `"seed":1e3`},
		{"string temperature", `"temperature":"0.7"`},
		{"null top_p", `"top_p":null`},
		{"array logit_bias", `"logit_bias":[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{body: helloStream}
			s := NewServer(&fakeTokens{cred: validCred()}, up, Options{})

			rec := do(t, s, http.MethodPost, "/v1/chat/completions",
				`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],`+tt.params+`}`, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, up.calls, 1)
			b, err := json.Marshal(up.calls[0])
			require.NoError(t, err)
			assert.NotContains(t, string(b), "max_tokens")
			assert.NotContains(t, string(b), "seed")
			assert.NotContains(t, string(b), "temperature")
		})
	}
}

func TestChatCompletions_TruthyStreamValues(t *testing.T) {
	tests := []struct {
		stream    string
		streaming bool
	}{
		{`true`, true},
		{`1`, true},
		{`"yes"`, true},
		{`{}`, true},
		{`false`, false},
		{`0`, false},
		{`""`, false},
		{`null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.stream, func(t *testing.T) {
			s := NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{body: helloStream}, Options{})

			rec := do(t, s, http.MethodPost, "/v1/chat/completions",
				`{"stream":`+tt.stream+`,"messages":[{"role":"user","content":"hi"}]}`, nil)

			require.Equal(t, http.StatusOK, rec.Code)
			if tt.streaming {
				assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestChatCompletions_AnyPostPathIsChat(t *testing.T) {
	up := &fakeUpstream{body: helloStream}
	s := NewServer(&fakeTokens{cred: validCred()}, up, Options{})

	rec := do(t, s, http.MethodPost, "/", `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, up.calls, 1)
}

func TestChatCompletions_Errors(t *testing.T) {
	tests := []struct {
		name       string
		tokens     *fakeTokens
		upstream   *fakeUpstream
		body       string
		status     int
		errType    string
		code       interface{}
		upstreamOK bool
	}{
		{
			name:     "not authenticated",
			tokens:   &fakeTokens{},
			upstream: &fakeUpstream{},
			body:     `{}`,
			status:   http.StatusUnauthorized,
			errType:  "auth_error",
			code:     "not_authenticated",
		},
		{
			name:     "refresh failure",
			tokens:   &fakeTokens{err: &oauth.TokenRefreshError{Err: errors.New("invalid_grant")}},
			upstream: &fakeUpstream{},
			body:     `{}`,
			status:   http.StatusInternalServerError,
			errType:  "proxy_error",
		},
		{
			name:     "malformed json",
			tokens:   &fakeTokens{cred: validCred()},
			upstream: &fakeUpstream{},
			body:     `{"messages":`,
			status:   http.StatusBadRequest,
			errType:  "invalid_request_error",
		},
		{
			name:     "upstream rejects",
			tokens:   &fakeTokens{cred: validCred()},
			upstream: &fakeUpstream{err: &codex.UpstreamError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}},
			body:     `{"messages":[]}`,
			status:   http.StatusTooManyRequests,
			errType:  "proxy_error",
			code:     float64(http.StatusTooManyRequests),
		},
		{
			name:     "upstream unreachable",
			tokens:   &fakeTokens{cred: validCred()},
			upstream: &fakeUpstream{err: errors.New("dial tcp: connection refused")},
			body:     `{"messages":[]}`,
			status:   http.StatusBadGateway,
			errType:  "proxy_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.tokens, tt.upstream, Options{Metrics: metrics.New()})
			rec := do(t, s, http.MethodPost, "/v1/chat/completions", tt.body, nil)

			assert.Equal(t, tt.status, rec.Code)
			errBody := decodeError(t, rec)
			assert.Equal(t, tt.errType, errBody["type"])
			assert.NotEmpty(t, errBody["message"])
			if tt.code != nil {
				assert.Equal(t, tt.code, errBody["code"])
			}
		})
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	s := NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{err: &codex.UpstreamError{StatusCode: 400, Body: `{"detail":"bad model"}`}}, Options{})
	rec := do(t, s, http.MethodPost, "/v1/chat/completions", `{}`, nil)
	assert.Equal(t, `Codex API error: {"detail":"bad model"}`, decodeError(t, rec)["message"])
}

func TestAPIKeyGate(t *testing.T) {
	s := NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{body: helloStream}, Options{APIKey: "secret"})

	tests := []struct {
		name   string
		method string
		path   string
		header string
		status int
	}{
		{"missing key", http.MethodGet, "/v1/models", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/v1/models", "Bearer nope", http.StatusUnauthorized},
		{"key without bearer prefix", http.MethodGet, "/v1/models", "secret", http.StatusUnauthorized},
		{"correct key", http.MethodGet, "/v1/models", "Bearer secret", http.StatusOK},
		{"status requires key", http.MethodGet, "/status", "", http.StatusUnauthorized},
		{"auth page is open", http.MethodGet, "/auth", "", http.StatusOK},
		{"preflight is open", http.MethodOptions, "/v1/chat/completions", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := do(t, s, tt.method, tt.path, "", headers)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				errBody := decodeError(t, rec)
				assert.Equal(t, "Unauthorized", errBody["message"])
				assert.Equal(t, "auth_error", errBody["type"])
				assert.Equal(t, "invalid_api_key", errBody["code"])
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(&fakeTokens{}, &fakeUpstream{}, Options{})
	rec := do(t, s, http.MethodOptions, "/anything", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Body.String())
}

func TestModels(t *testing.T) {
	s := NewServer(&fakeTokens{}, &fakeUpstream{}, Options{})

	for _, path := range []string{"/v1/models", "/models", "/api/v1/models/"} {
		rec := do(t, s, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var list struct {
			Object string `json:"object"`
			Data   []struct {
				ID      string `json:"id"`
				Object  string `json:"object"`
				OwnedBy string `json:"owned_by"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Equal(t, "list", list.Object)
		require.Len(t, list.Data, 6)
		assert.Equal(t, "gpt-4o", list.Data[0].ID)
		assert.Equal(t, "openai", list.Data[0].OwnedBy)
	}
}

func TestStatus(t *testing.T) {
	rec := do(t, NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{}, Options{}), http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":true,"account_id":"acct_1","token_expires":"2023-11-14T22:13:20.000Z"}`, rec.Body.String())

	rec = do(t, NewServer(&fakeTokens{}, &fakeUpstream{}, Options{}), http.MethodGet, "/status", "", nil)
	assert.JSONEq(t, `{"authenticated":false,"token_expires":null}`, rec.Body.String())
}

func TestAuthPage(t *testing.T) {
	rec := do(t, NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{}, Options{Port: 7860}), http.MethodGet, "/auth", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "authenticated")
	assert.Contains(t, rec.Body.String(), "http://localhost:7860/v1")

	rec = do(t, NewServer(&fakeTokens{}, &fakeUpstream{}, Options{}), http.MethodGet, "/auth", "", nil)
	assert.Contains(t, rec.Body.String(), "not authenticated")
}

func TestFallback(t *testing.T) {
	rec := do(t, NewServer(&fakeTokens{}, &fakeUpstream{}, Options{}), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "endpoints")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	s := NewServer(&fakeTokens{cred: validCred()}, &fakeUpstream{body: helloStream}, Options{Metrics: m})

	do(t, s, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, nil)
	rec := do(t, s, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `codex_proxy_requests_total{mode="json",status="200"} 1`)
}
