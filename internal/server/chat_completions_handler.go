package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/oauth"
	"github.com/dvcrn/codex-oauth-proxy/internal/openai"
	"github.com/dvcrn/codex-oauth-proxy/internal/transform"
)

const maxRequestBody = 32 << 20

// chatCompletionsHandler proxies a Chat Completions request to the Responses
// endpoint and transcodes the event stream back.
func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	cred, err := s.tokens.ValidCredential(r.Context())
	if err != nil {
		s.writeTokenError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		logger.Get().Error().Err(err).Msg("Error reading request body")
		s.fail(w, false, http.StatusBadRequest, "Error reading request body", "invalid_request_error", nil)
		return
	}
	defer r.Body.Close()

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Get().Error().Err(err).Msg("Error parsing request body")
		s.fail(w, false, http.StatusBadRequest, "Invalid JSON in request body: "+err.Error(), "invalid_request_error", nil)
		return
	}

	upstreamReq := transform.ToResponsesRequest(&req)
	streaming := bool(req.Stream)

	evt := logger.Get().Info().
		Str("path", r.URL.Path).
		Str("model", upstreamReq.Model).
		Bool("stream", streaming).
		Int("messages", len(req.Messages)).
		Int("input", len(upstreamReq.Input)).
		Int("instructions_len", len(upstreamReq.Instructions))
	if ignored := req.UnsupportedParams(); len(ignored) > 0 {
		evt = evt.Strs("ignored_params", ignored)
	}
	evt.Msg("Proxying chat completion")

	upstreamStart := time.Now()
	stream, err := s.upstream.StreamResponses(r.Context(), cred, upstreamReq)
	if err != nil {
		s.writeUpstreamError(w, streaming, err)
		return
	}
	defer stream.Close()

	if streaming {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}

	tr := transform.NewStreamTranscoder(w, upstreamReq.Model, streaming)
	res, err := tr.Transcode(stream)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("Client write failed, abandoning stream")
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveUpstream(streaming, time.Since(upstreamStart), res.Chunks, res.StreamErr)
		s.opts.Metrics.ObserveRequest(streaming, http.StatusOK)
	}

	logger.Get().Info().
		Int("chunks", res.Chunks).
		Int("content_length", res.ContentLength).
		Bool("truncated", res.StreamErr != nil).
		Dur("duration", time.Since(startTime)).
		Msg("Chat completion finished")
}

func (s *Server) writeTokenError(w http.ResponseWriter, err error) {
	var refreshErr *oauth.TokenRefreshError
	switch {
	case errors.Is(err, credentials.ErrNotAuthenticated):
		logger.Get().Warn().Msg("Request rejected, no credentials stored")
		s.fail(w, false, http.StatusUnauthorized, err.Error(), "auth_error", "not_authenticated")
	case errors.As(err, &refreshErr):
		s.fail(w, false, http.StatusInternalServerError, err.Error(), "proxy_error", nil)
	default:
		logger.Get().Error().Err(err).Msg("Failed to obtain access token")
		s.fail(w, false, http.StatusInternalServerError, err.Error(), "proxy_error", nil)
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, stream bool, err error) {
	var upstreamErr *codex.UpstreamError
	if errors.As(err, &upstreamErr) {
		s.fail(w, stream, upstreamErr.StatusCode, upstreamErr.Error(), "proxy_error", upstreamErr.StatusCode)
		return
	}
	logger.Get().Error().Err(err).Msg("Upstream request failed")
	s.fail(w, stream, http.StatusBadGateway, err.Error(), "proxy_error", nil)
}

func (s *Server) fail(w http.ResponseWriter, stream bool, status int, message, errType string, code interface{}) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRequest(stream, status)
	}
	writeError(w, status, message, errType, code)
}
