package openai

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
)

// ChatCompletionRequest represents a request payload for OpenAI-compatible chat completion endpoints.
// Sampling parameters are kept raw so that any JSON value is accepted; they
// are only reported, never forwarded upstream.
type ChatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   Flag      `json:"stream"`

	Temperature         json.RawMessage `json:"temperature,omitempty"`
	MaxTokens           json.RawMessage `json:"max_tokens,omitempty"`
	MaxOutputTokens     json.RawMessage `json:"max_output_tokens,omitempty"`
	MaxCompletionTokens json.RawMessage `json:"max_completion_tokens,omitempty"`
	TopP                json.RawMessage `json:"top_p,omitempty"`
	FrequencyPenalty    json.RawMessage `json:"frequency_penalty,omitempty"`
	PresencePenalty     json.RawMessage `json:"presence_penalty,omitempty"`
	LogitBias           json.RawMessage `json:"logit_bias,omitempty"`
	Seed                json.RawMessage `json:"seed,omitempty"`
}

// Flag is a boolean that accepts any JSON value. true, non-zero numbers,
// non-empty strings, objects and arrays are set; everything else is unset.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	v := gjson.ParseBytes(data)
	switch v.Type {
	case gjson.True:
		*f = true
	case gjson.Number:
		*f = v.Num != 0
	case gjson.String:
		*f = v.Str != ""
	case gjson.JSON:
		*f = true
	default:
		*f = false
	}
	return nil
}

// Message represents a message in the chat history. Content is kept raw: it
// is either a JSON string or a structured (multimodal) value.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// UnsupportedParams lists the sampling parameters present on the request.
func (r *ChatCompletionRequest) UnsupportedParams() []string {
	present := map[string]json.RawMessage{
		"temperature":           r.Temperature,
		"max_tokens":            r.MaxTokens,
		"max_output_tokens":     r.MaxOutputTokens,
		"max_completion_tokens": r.MaxCompletionTokens,
		"top_p":                 r.TopP,
		"frequency_penalty":     r.FrequencyPenalty,
		"presence_penalty":      r.PresencePenalty,
		"logit_bias":            r.LogitBias,
		"seed":                  r.Seed,
	}

	var params []string
	for name, raw := range present {
		if len(raw) > 0 {
			params = append(params, name)
		}
	}
	sort.Strings(params)
	return params
}

// ChatCompletionChunk is one streamed chat.completion.chunk event.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is a choice inside a streamed chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries incremental content. A terminal chunk has an empty delta.
type Delta struct {
	Content *string `json:"content,omitempty"`
}

// ChatCompletionResponse represents a response payload for OpenAI-compatible chat completion endpoints.
// This is used for non-streaming responses.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a single choice in a chat completion response.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a non-streaming response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents the token usage for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model is an entry of the models list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response of the models endpoint.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorResponse is the error envelope returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code,omitempty"`
}

// FinishReasonStop is the finish reason of completed responses.
const FinishReasonStop = "stop"
