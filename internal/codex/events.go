package codex

import (
	"github.com/tidwall/gjson"
)

// EventKind classifies a decoded upstream event.
type EventKind int

const (
	// EventIgnored is a well-formed event that produces no output, such as
	// response.created or response.in_progress.
	EventIgnored EventKind = iota
	// EventDelta carries a fragment of assistant text.
	EventDelta
	// EventTerminal marks the end of the assistant message.
	EventTerminal
	// EventPassthrough is already a Chat Completions chunk and is forwarded as is.
	EventPassthrough
	// EventInvalid is a data payload that is not JSON, or is JSON null. It is
	// forwarded raw to streaming callers.
	EventInvalid
)

func (k EventKind) String() string {
	switch k {
	case EventIgnored:
		return "ignored"
	case EventDelta:
		return "delta"
	case EventTerminal:
		return "terminal"
	case EventPassthrough:
		return "passthrough"
	case EventInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Upstream event types the proxy maps.
const (
	TypeOutputTextDelta  = "response.output_text.delta"
	TypeOutputTextDone   = "response.output_text.done"
	TypeContentPartDelta = "response.content_part.delta"
	TypeCompleted        = "response.completed"
	TypeDone             = "response.done"
)

// Event is one decoded `data:` payload of the upstream stream.
type Event struct {
	Kind EventKind
	Type string
	// ID is the event's id field; when set it becomes the running response id.
	ID string
	// ResponseID is used as the chunk id when present.
	ResponseID string
	// Text is the assistant text of a delta event, or the
	// choices[0].delta.content of a passthrough event.
	Text string
	// Raw is the payload as received.
	Raw []byte
}

// ParseEvent decodes a data payload into the closed set of event kinds.
func ParseEvent(data []byte) Event {
	if !gjson.ValidBytes(data) {
		return Event{Kind: EventInvalid, Raw: data}
	}
	parsed := gjson.ParseBytes(data)
	if parsed.Type == gjson.Null {
		return Event{Kind: EventInvalid, Raw: data}
	}
	if !parsed.IsObject() {
		return Event{Kind: EventIgnored, Raw: data}
	}

	ev := Event{
		Type:       parsed.Get("type").String(),
		ID:         parsed.Get("id").String(),
		ResponseID: parsed.Get("response_id").String(),
		Raw:        data,
	}

	if parsed.Get("choices").Exists() {
		ev.Kind = EventPassthrough
		ev.Text = parsed.Get("choices.0.delta.content").String()
		return ev
	}

	switch ev.Type {
	case TypeOutputTextDelta:
		ev.Kind = EventDelta
		if delta := parsed.Get("delta"); delta.Type == gjson.String {
			ev.Text = delta.Str
		}
	case TypeOutputTextDone, TypeCompleted, TypeDone:
		ev.Kind = EventTerminal
	case TypeContentPartDelta:
		if text := parsed.Get("delta.text"); text.Type == gjson.String && text.Str != "" {
			ev.Kind = EventDelta
			ev.Text = text.Str
		}
	}
	return ev
}
