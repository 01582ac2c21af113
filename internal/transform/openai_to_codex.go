// Package transform converts between the Chat Completions dialect spoken by
// clients and the Responses dialect spoken by the Codex upstream.
package transform

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/openai"
)

const (
	DefaultModel        = "gpt-4o"
	DefaultInstructions = "You are a helpful assistant."
)

// ToResponsesRequest builds the upstream request. System messages become the
// instructions, every other message is forwarded verbatim as input, and
// sampling parameters are dropped.
func ToResponsesRequest(req *openai.ChatCompletionRequest) *codex.ResponsesRequest {
	var system []string
	input := make([]codex.InputMessage, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, contentString(msg.Content))
			continue
		}
		input = append(input, codex.InputMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	instructions := strings.Join(system, "\n\n")
	if instructions == "" {
		instructions = DefaultInstructions
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	return &codex.ResponsesRequest{
		Model:        model,
		Instructions: instructions,
		Input:        input,
		Stream:       true,
		Store:        false,
	}
}

// contentString returns string content as is and any other JSON value,
// null included, in its compact encoding.
func contentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
