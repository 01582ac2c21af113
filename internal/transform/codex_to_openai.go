package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/openai"
)

const (
	doneMarker = "[DONE]"
	readSize   = 32 * 1024
)

// TranscodeResult summarizes one transcoded upstream stream.
type TranscodeResult struct {
	// Chunks is the number of Chat Completions chunks produced.
	Chunks int
	// ContentLength is the number of accumulated content bytes.
	ContentLength int
	// StreamErr is the read error that ended the upstream stream early.
	StreamErr error
}

// StreamTranscoder turns the upstream event stream into Chat Completions
// output. Streaming callers get each chunk as soon as it is decoded;
// non-streaming callers get a single chat.completion object once the upstream
// stream ends. A transcoder serves exactly one request.
type StreamTranscoder struct {
	w       io.Writer
	flusher http.Flusher
	model   string
	stream  bool
	now     func() time.Time

	buf         []byte
	responseID  string
	content     strings.Builder
	doneWritten bool
	chunks      int
}

// NewStreamTranscoder creates a transcoder writing to w. model is reported in
// every chunk; stream selects event-stream or single JSON output.
func NewStreamTranscoder(w io.Writer, model string, stream bool) *StreamTranscoder {
	t := &StreamTranscoder{
		w:          w,
		model:      model,
		stream:     stream,
		now:        time.Now,
		responseID: "chatcmpl-" + uuid.NewString(),
	}
	if f, ok := w.(http.Flusher); ok {
		t.flusher = f
	}
	return t
}

// Transcode reads the upstream body until EOF or a read error, then finishes
// the output. A read error ends the stream early without an error frame; it is
// reported in the result, not returned. The returned error is a failure to
// write to the client.
func (t *StreamTranscoder) Transcode(r io.Reader) (TranscodeResult, error) {
	var streamErr error
	chunk := make([]byte, readSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if werr := t.Feed(chunk[:n]); werr != nil {
				return t.result(nil), werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			logger.Get().Error().Err(err).Msg("Upstream stream error")
			break
		}
	}

	if err := t.Finish(streamErr); err != nil {
		return t.result(streamErr), err
	}
	return t.result(streamErr), nil
}

// Feed consumes one chunk of upstream bytes. Complete lines are processed
// immediately; a trailing partial line is kept for the next call.
func (t *StreamTranscoder) Feed(chunk []byte) error {
	t.buf = append(t.buf, chunk...)
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(t.buf[:i], []byte("\r")))
		t.buf = t.buf[i+1:]
		if err := t.processLine(line); err != nil {
			return err
		}
	}
	if len(t.buf) == 0 {
		t.buf = nil
	}
	return nil
}

// Finish completes the output. streamErr is the error that ended the upstream
// stream, or nil on a clean end. Streaming callers receive the terminal marker
// only on a clean end; non-streaming callers always receive the accumulated
// completion.
func (t *StreamTranscoder) Finish(streamErr error) error {
	if streamErr == nil && len(t.buf) > 0 {
		line := strings.TrimSuffix(string(t.buf), "\r")
		t.buf = nil
		if err := t.processLine(line); err != nil {
			return err
		}
	}
	t.buf = nil

	if t.stream {
		if streamErr != nil || t.doneWritten {
			return nil
		}
		return t.writeDone()
	}

	logger.Get().Debug().Int("content_length", t.content.Len()).Msg("Collected non-streaming response")
	result := openai.ChatCompletionResponse{
		ID:      t.responseID,
		Object:  "chat.completion",
		Created: t.now().Unix(),
		Model:   t.model,
		Choices: []openai.Choice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:    "assistant",
				Content: t.content.String(),
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{},
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("could not marshal completion: %w", err)
	}
	return t.write(b)
}

func (t *StreamTranscoder) processLine(line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	data, ok := dataPayload(line)
	if !ok {
		// event:, id:, retry: and comment lines carry nothing the output needs.
		return nil
	}

	if data == doneMarker {
		if !t.stream || t.doneWritten {
			return nil
		}
		return t.writeDone()
	}

	ev := codex.ParseEvent([]byte(data))
	if ev.ID != "" {
		t.responseID = ev.ID
	}

	switch ev.Kind {
	case codex.EventInvalid:
		if !t.stream {
			return nil
		}
		return t.write([]byte(line + "\n\n"))
	case codex.EventPassthrough:
		t.accumulate(ev.Text)
		t.chunks++
		if !t.stream {
			return nil
		}
		return t.writeData(ev.Raw)
	case codex.EventDelta:
		t.accumulate(ev.Text)
		text := ev.Text
		return t.emit(ev, openai.Delta{Content: &text}, nil)
	case codex.EventTerminal:
		stop := openai.FinishReasonStop
		return t.emit(ev, openai.Delta{}, &stop)
	default:
		return nil
	}
}

func (t *StreamTranscoder) emit(ev codex.Event, delta openai.Delta, finishReason *string) error {
	t.chunks++
	if !t.stream {
		return nil
	}

	id := ev.ResponseID
	if id == "" {
		id = t.responseID
	}
	chunk := openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: t.now().Unix(),
		Model:   t.model,
		Choices: []openai.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	b, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("could not marshal chunk: %w", err)
	}
	return t.writeData(b)
}

func (t *StreamTranscoder) accumulate(text string) {
	if text != "" {
		t.content.WriteString(text)
	}
}

func (t *StreamTranscoder) writeDone() error {
	t.doneWritten = true
	return t.writeData([]byte(doneMarker))
}

func (t *StreamTranscoder) writeData(payload []byte) error {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return t.write(out)
}

func (t *StreamTranscoder) write(b []byte) error {
	if _, err := t.w.Write(b); err != nil {
		return fmt.Errorf("failed to write to client: %w", err)
	}
	if t.flusher != nil {
		t.flusher.Flush()
	}
	return nil
}

func (t *StreamTranscoder) result(streamErr error) TranscodeResult {
	return TranscodeResult{
		Chunks:        t.chunks,
		ContentLength: t.content.Len(),
		StreamErr:     streamErr,
	}
}

// dataPayload returns the value of a `data:` line. A single space after the
// colon is optional.
func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimPrefix(line, "data:")
	return strings.TrimPrefix(data, " "), true
}
