// Package codex talks to the ChatGPT Codex Responses endpoint and decodes the
// events it streams back.
package codex

import "encoding/json"

// DefaultEndpoint is the Responses endpoint used with ChatGPT OAuth tokens.
const DefaultEndpoint = "https://chatgpt.com/backend-api/codex/responses"

// ResponsesRequest is the body sent to the Responses endpoint. Stream and
// Store are fixed by the endpoint.
type ResponsesRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions"`
	Input        []InputMessage `json:"input"`
	Stream       bool           `json:"stream"`
	Store        bool           `json:"store"`
}

// InputMessage is one conversation item. Content is forwarded untouched.
type InputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}
