package codex

import "fmt"

// UpstreamError is a non-2xx answer from the Responses endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Codex API error: %s", e.Body)
}
