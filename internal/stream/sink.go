package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Sink is the client-facing end of a session. Implementations must serialize
// writes internally: a heartbeat tick and a notification event may race, and
// the outbound byte sequence is a single-writer append-only stream.
type Sink interface {
	// Send emits one data-bearing event. An empty name emits a bare data
	// block; a non-empty name emits an `event:` line first.
	Send(name string, payload any) error
	// KeepAlive emits a transport-level no-op (SSE comment line, WS ping).
	KeepAlive(text string) error
	// Close marks the sink closed. Later writes are silent no-ops.
	Close()
}

// WriteSSEHeaders sets the response headers for an event stream.
func WriteSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
}

// SSEWriter frames events in Server-Sent-Events wire format on one HTTP
// response. All writes share one mutex; a write against a closed writer is
// dropped, which is the expected outcome of a heartbeat racing a disconnect.
type SSEWriter struct {
	mu     sync.Mutex
	w      io.Writer
	flush  http.Flusher
	closed bool
}

// NewSSEWriter wraps a response writer. The writer must support flushing;
// buffering an event stream would defeat it.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &SSEWriter{w: w, flush: flusher}, nil
}

// Send writes `event: <name>\ndata: <json>\n\n`, omitting the event line when
// name is empty. Transport errors are swallowed; only marshal failures bubble
// up so the caller can report a malformed payload.
func (s *SSEWriter) Send(name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if name != "" {
		fmt.Fprintf(s.w, "event: %s\n", name)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", body)
	s.flush.Flush()
	return nil
}

// KeepAlive writes a comment line (`: <text>\n\n`). Comment lines are
// invisible to EventSource clients and exist to hold idle connections open
// through proxies.
func (s *SSEWriter) KeepAlive(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flush.Flush()
	return nil
}

// Close stops all further output. Idempotent.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
