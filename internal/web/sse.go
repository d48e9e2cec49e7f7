package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sanathmahesh/cloudify/internal/bus"
)

// SSEWriter writes bus events to an http.ResponseWriter as Server-Sent
// Events. Call Init once before the first WriteEvent.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps the given ResponseWriter. The ResponseWriter should
// implement http.Flusher for streaming to work; if it does not, writes still
// succeed but may be buffered.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{
		w:       w,
		flusher: f,
	}
}

// Init sets the SSE response headers and flushes them to the client.
func (sw *SSEWriter) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// WriteEvent serializes the event as JSON and writes it in SSE format:
//
//	data: {json}\n\n
//
// The connection is flushed after each event so the client receives it
// immediately.
func (sw *SSEWriter) WriteEvent(evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("web: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("web: write event: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
