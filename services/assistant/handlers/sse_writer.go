// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSE event labels emitted by the streaming session.
const (
	eventStart = "start"
	eventChunk = "chunk"
	eventMeta  = "meta"
	eventPing  = "ping"
	eventError = "error"
	eventEnd   = "end"
)

// doneMarker is the payload of the terminal end event.
const doneMarker = "[DONE]"

// SSEWriter serializes server-sent events for one streaming session.
// Exactly one terminal event (end or error) is written; anything
// attempted after it is silently dropped.
//
// # Thread Safety
//
// All methods are safe for concurrent use; the heartbeat goroutine and
// the chunk producer share one writer.
type SSEWriter struct {
	mu       sync.Mutex
	writer   http.ResponseWriter
	flusher  http.Flusher
	terminal bool
}

// SetSSEHeaders prepares w for an SSE response. Must run before the
// first event.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// NewSSEWriter wraps w. Returns an error when w cannot flush, since
// buffered SSE defeats streaming.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

// WriteStart emits the session-open event.
func (w *SSEWriter) WriteStart(sessionID string) error {
	return w.writeEvent(eventStart, sessionID, false)
}

// WriteChunk emits one chunk of response text. Each line of the chunk
// becomes its own data line so embedded newlines survive SSE framing.
func (w *SSEWriter) WriteChunk(text string) error {
	return w.writeEvent(eventChunk, text, false)
}

// WriteMeta emits a JSON metadata event.
func (w *SSEWriter) WriteMeta(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal meta event: %w", err)
	}
	return w.writeEvent(eventMeta, string(data), false)
}

// WritePing emits a heartbeat with the current timestamp.
func (w *SSEWriter) WritePing() error {
	payload := fmt.Sprintf(`{"ts":%d}`, time.Now().UnixMilli())
	return w.writeEvent(eventPing, payload, false)
}

// WriteError emits the terminal error event. No event may follow.
func (w *SSEWriter) WriteError(message string) error {
	return w.writeEvent(eventError, message, true)
}

// WriteDone emits the terminal end event carrying the [DONE] marker.
func (w *SSEWriter) WriteDone() error {
	return w.writeEvent(eventEnd, doneMarker, true)
}

// Terminated reports whether a terminal event has been written.
func (w *SSEWriter) Terminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminal
}

func (w *SSEWriter) writeEvent(event, payload string, terminal bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteByte('\n')
	for _, line := range strings.Split(payload, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')

	if _, err := fmt.Fprint(w.writer, sb.String()); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	w.flusher.Flush()

	if terminal {
		w.terminal = true
	}
	return nil
}
