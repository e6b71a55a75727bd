// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/observability"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/reply"
	"github.com/akaki911/ai-bakhmaro-sub001/services/engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedEngine is a controllable Engine for handler tests.
type scriptedEngine struct {
	name      string
	available bool
	chunks    []string
	err       error
}

func (s *scriptedEngine) Name() string                       { return s.name }
func (s *scriptedEngine) Available(ctx context.Context) bool { return s.available }

func (s *scriptedEngine) Stream(ctx context.Context, req engine.Request, cb engine.StreamCallback) error {
	if s.err != nil {
		return s.err
	}
	for _, c := range s.chunks {
		if cbErr := cb(engine.StreamEvent{Content: c}); cbErr != nil {
			return fmt.Errorf("%w: %v", engine.ErrStreamAborted, cbErr)
		}
	}
	return nil
}

func newStreamRouter(t *testing.T, engines ...engine.Engine) *gin.Engine {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cascade := engine.NewCascade(time.Second, engines...)
	h := NewStreamHandler(cascade, reply.NewBuilder(), metrics, 50*time.Millisecond)

	router := gin.New()
	router.POST("/v1/assist/stream", h.HandleAssistStream)
	return router
}

func postStream(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/assist/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// sseEvents extracts the event labels from a raw SSE body in order.
func sseEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	return events
}

func TestStreamGreeting(t *testing.T) {
	// A greeting must be answered from the canned tables: no engine is
	// consulted, one chunk, then a final meta and end.
	failing := &scriptedEngine{name: "interactive", available: true, err: errors.New("must not be called")}
	router := newStreamRouter(t, failing, engine.NewOfflineEngine(time.Millisecond))

	rec := postStream(router, `{"message": "გამარჯობა"}`)
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	events := sseEvents(body)
	assert.Equal(t, []string{"start", "chunk", "meta", "end"}, events)
	assert.Contains(t, body, "გამარჯობა!")
	assert.Contains(t, body, `"mode":"canned"`)
	assert.Contains(t, body, `"schemaVersion":"2"`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestStreamEngineSuccess(t *testing.T) {
	eng := &scriptedEngine{name: "interactive", available: true, chunks: []string{"Cottage ", "options ", "follow."}}
	router := newStreamRouter(t, eng, engine.NewOfflineEngine(time.Millisecond))

	rec := postStream(router, `{"message": "tell me about hiking trails near the resort"}`)
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	events := sseEvents(body)
	assert.Equal(t, "start", events[0])
	assert.Equal(t, "end", events[len(events)-1])
	assert.Contains(t, body, `"mode":"engine-selected"`)
	assert.Contains(t, body, `"engine":"interactive"`)
	assert.Contains(t, body, "data: follow.")
	assert.Contains(t, body, `"mode":"final"`)

	// Exactly one terminal event.
	assert.Equal(t, 1, strings.Count(body, "event: end"))
	assert.Equal(t, 0, strings.Count(body, "event: error"))
}

func TestStreamAllEnginesUnreachable(t *testing.T) {
	// Every real engine fails; the offline generator must still deliver
	// a multi-chunk response and a normal end event.
	broken1 := &scriptedEngine{name: "interactive", available: true, err: errors.New("503")}
	broken2 := &scriptedEngine{name: "completion", available: false}
	router := newStreamRouter(t, broken1, broken2, engine.NewOfflineEngine(time.Millisecond))

	rec := postStream(router, `{"message": "tell me about hiking trails near the resort"}`)
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, `"mode":"engine-error"`)
	assert.Contains(t, body, `"engine":"interactive"`)
	assert.Contains(t, body, "Degraded mode")
	assert.Equal(t, 1, strings.Count(body, "event: end"))
	assert.Equal(t, 0, strings.Count(body, "event: error"))

	events := sseEvents(body)
	assert.Equal(t, "end", events[len(events)-1], "end must be the last event")
}

func TestStreamExhaustedCascadeFinalizesBeforeError(t *testing.T) {
	// With no offline engine configured every attempt fails; the session
	// must still finalize an envelope and emit its meta before the single
	// terminal error event.
	broken1 := &scriptedEngine{name: "interactive", available: true, err: errors.New("503")}
	broken2 := &scriptedEngine{name: "completion", available: true, err: errors.New("refused")}
	router := newStreamRouter(t, broken1, broken2)

	rec := postStream(router, `{"message": "tell me about hiking trails near the resort"}`)
	body := rec.Body.String()

	assert.Contains(t, body, `"mode":"final"`)
	assert.Contains(t, body, `"schemaVersion":"2"`)
	assert.Equal(t, 1, strings.Count(body, "event: error"))
	assert.Equal(t, 0, strings.Count(body, "event: end"))

	events := sseEvents(body)
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1], "error must be the last event")
	// The final envelope meta precedes the terminal event.
	assert.Less(t, strings.Index(body, `"mode":"final"`), strings.Index(body, "event: error"))
}

func TestStreamWhitespaceOnlyResponse(t *testing.T) {
	// An engine that completes without displayable content still yields a
	// last-resort chunk before the final envelope and end event.
	blank := &scriptedEngine{name: "interactive", available: true, chunks: []string{"   ", "\n", "\t"}}
	router := newStreamRouter(t, blank)

	rec := postStream(router, `{"message": "tell me about hiking trails near the resort"}`)
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "data: Sorry, a response could not be prepared. Please try again.")
	assert.Contains(t, body, `"mode":"final"`)
	assert.Equal(t, 1, strings.Count(body, "event: end"))
}

func TestStreamValidation(t *testing.T) {
	router := newStreamRouter(t, engine.NewOfflineEngine(time.Millisecond))

	t.Run("missing message", func(t *testing.T) {
		rec := postStream(router, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized message", func(t *testing.T) {
		big := strings.Repeat("x", 33*1024)
		rec := postStream(router, fmt.Sprintf(`{"message": %q}`, big))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown engine preference", func(t *testing.T) {
		rec := postStream(router, `{"message": "hi there friend", "engine_params": {"engine": "quantum"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := postStream(router, `{"message": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStreamHeartbeat(t *testing.T) {
	// An engine that takes longer than the heartbeat interval must see
	// ping events interleaved with its chunks.
	slow := &slowEngine{delay: 180 * time.Millisecond}
	router := newStreamRouter(t, slow)

	rec := postStream(router, `{"message": "tell me about the resort please"}`)
	body := rec.Body.String()

	assert.GreaterOrEqual(t, strings.Count(body, "event: ping"), 1, "no heartbeat during a slow stream")
	assert.Contains(t, body, `"ts":`)
	assert.Equal(t, 1, strings.Count(body, "event: end"))
}

type slowEngine struct {
	delay time.Duration
}

func (s *slowEngine) Name() string                       { return "offline" }
func (s *slowEngine) Available(ctx context.Context) bool { return true }

func (s *slowEngine) Stream(ctx context.Context, req engine.Request, cb engine.StreamCallback) error {
	for _, c := range []string{"first", "second"} {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", engine.ErrStreamAborted, ctx.Err())
		case <-time.After(s.delay):
		}
		if err := cb(engine.StreamEvent{Content: c}); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrStreamAborted, err)
		}
	}
	return nil
}
