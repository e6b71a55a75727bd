// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the assistant
// service: the SSE streaming session and the improve (autopatch)
// endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/datatypes"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/intent"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/observability"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/reply"
	"github.com/akaki911/ai-bakhmaro-sub001/services/engine"
)

// metaEvent is the JSON payload of every meta SSE event.
type metaEvent struct {
	Channel   string         `json:"channel"`
	Mode      string         `json:"mode"`
	Format    string         `json:"format"`
	Engine    string         `json:"engine,omitempty"`
	Error     string         `json:"error,omitempty"`
	PlainText string         `json:"plainText,omitempty"`
	Core      map[string]any `json:"core,omitempty"`
}

// transition chunks shown while the cascade moves to another engine.
var transitionChunks = map[string]string{
	"ka": "ვცდილობ სხვა ძრავით პასუხის მომზადებას...",
	"en": "Switching to another engine, one moment...",
}

var preparingChunks = map[string]string{
	"ka": "ვამზადებ პასუხს...",
	"en": "Preparing a response...",
}

// StreamHandler runs streaming assistant sessions.
type StreamHandler struct {
	cascade           *engine.Cascade
	builder           *reply.Builder
	metrics           *observability.Metrics
	heartbeatInterval time.Duration
	tracer            oteltrace.Tracer
}

// NewStreamHandler wires the streaming endpoint.
func NewStreamHandler(cascade *engine.Cascade, builder *reply.Builder, metrics *observability.Metrics, heartbeatInterval time.Duration) *StreamHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Second
	}
	return &StreamHandler{
		cascade:           cascade,
		builder:           builder,
		metrics:           metrics,
		heartbeatInterval: heartbeatInterval,
		tracer:            otel.Tracer("assistant/handlers"),
	}
}

// HandleAssistStream serves POST /v1/assist/stream.
//
// # Description
//
// Validates the request, classifies the message, then either answers
// from the canned-reply tables or streams engine output through the
// cascade. The SSE contract: start, then chunk/meta/ping events, then
// exactly one terminal end or error event.
func (h *StreamHandler) HandleAssistStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "assist.stream")
	defer span.End()

	// ===== Step 1: Parse and validate =====
	var req datatypes.AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := uuid.NewString()
	actorID := req.SessionActorID
	if actorID == "" {
		actorID = sessionID
	}
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("message.bytes", len(req.Message)),
	)

	// ===== Step 2: Classify =====
	cls := intent.Classify(req.Message, req.EngineParams.Language)
	span.SetAttributes(attribute.String("session.intent", cls.Intent))

	h.metrics.StreamsStarted.WithLabelValues(cls.Intent).Inc()
	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	outcome := "completed"
	started := time.Now()
	defer func() {
		h.metrics.StreamsEnded.WithLabelValues(outcome).Inc()
	}()

	// ===== Step 3: Open the SSE stream =====
	SetSSEHeaders(c.Writer)
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}
	if err := sse.WriteStart(sessionID); err != nil {
		slog.Warn("client gone before session start", "session_id", sessionID)
		outcome = "disconnected"
		return
	}

	// ===== Step 4: Canned short-circuit =====
	if cls.CannedReply != "" {
		h.streamCanned(sse, sessionID, actorID, cls)
		h.metrics.StreamDuration.WithLabelValues("canned").Observe(time.Since(started).Seconds())
		return
	}

	// ===== Step 5: Heartbeat =====
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go h.runHeartbeat(sse, heartbeatDone)

	// ===== Step 6: Engine cascade =====
	collector := reply.NewCollector(h.builder)
	engineName, runErr := h.streamEngine(ctx, c, sse, collector, sessionID, actorID, cls, &req)

	switch {
	case runErr == nil:
		h.metrics.StreamDuration.WithLabelValues(engineName).Observe(time.Since(started).Seconds())
	case c.Request.Context().Err() != nil:
		outcome = "disconnected"
		slog.Info("client disconnected mid-stream", "session_id", sessionID)
	default:
		outcome = "error"
		span.SetStatus(codes.Error, runErr.Error())
		// The terminal error event is still preceded by exactly one
		// finalize; with no chunks collected the envelope carries the
		// localized apology.
		env := collector.Finalize(reply.FinalizeMeta{
			ActorID:  actorID,
			Language: cls.Language,
			Intent:   cls.Intent,
		})
		sse.WriteMeta(metaEvent{
			Channel:   "assistant",
			Mode:      "final",
			Format:    "text",
			PlainText: env.PlainText,
			Core:      env.Core(),
		})
		sse.WriteError("the assistant could not produce a response")
	}
}

// streamCanned answers greeting/smalltalk/off-topic/clarification
// intents without touching any engine: one chunk, one meta, end.
func (h *StreamHandler) streamCanned(sse *SSEWriter, sessionID, actorID string, cls intent.Classification) {
	if err := sse.WriteChunk(cls.CannedReply); err != nil {
		return
	}
	h.metrics.ChunksEmitted.WithLabelValues("canned").Inc()

	env := h.builder.Normalize(actorID, cls.CannedReply, reply.Options{
		Language: cls.Language,
		Task:     cls.Intent,
		Final:    true,
		Metadata: map[string]map[string]any{
			"intent": {
				"intent":        cls.Intent,
				"confidence":    cls.Confidence,
				"missingParams": cls.MissingParams,
			},
		},
	})
	sse.WriteMeta(metaEvent{
		Channel:   "assistant",
		Mode:      "canned",
		Format:    "text",
		PlainText: env.PlainText,
		Core:      env.Core(),
	})
	sse.WriteDone()
	slog.Info("canned session complete", "session_id", sessionID, "intent", cls.Intent)
}

// streamEngine drives the cascade and finalizes the envelope. Returns
// the completing engine name, or an error when no terminal end event
// was written.
func (h *StreamHandler) streamEngine(ctx context.Context, c *gin.Context, sse *SSEWriter, collector *reply.Collector, sessionID, actorID string, cls intent.Classification, req *datatypes.AssistRequest) (string, error) {
	lang := cls.Language

	if err := sse.WriteChunk(preparingChunks[lang]); err != nil {
		return "", errClientGone
	}

	selected := h.cascade.Select(ctx, req.EngineParams.Engine)
	sse.WriteMeta(metaEvent{Channel: "assistant", Mode: "engine-selected", Format: "json", Engine: selected})

	var fallbacks []string

	engReq := engine.Request{
		SessionID: sessionID,
		Message:   req.Message,
		Params: engine.GenerationParams{
			Temperature: req.EngineParams.Temperature,
			MaxTokens:   req.EngineParams.MaxTokens,
			Language:    lang,
		},
	}

	reqCtx := c.Request.Context()
	callback := func(ev engine.StreamEvent) error {
		if reqCtx.Err() != nil {
			return errClientGone
		}
		if err := sse.WriteChunk(ev.Content); err != nil {
			return err
		}
		collector.AddChunk(ev.Content, ev.Issues)
		h.metrics.ChunksEmitted.WithLabelValues(selected).Inc()
		return nil
	}

	onFallback := func(n engine.FallbackNotice) {
		fallbacks = append(fallbacks, n.Engine)
		h.metrics.EngineFallbacks.WithLabelValues(n.Engine).Inc()
		sse.WriteMeta(metaEvent{
			Channel: "assistant",
			Mode:    "engine-error",
			Format:  "json",
			Engine:  n.Engine,
			Error:   n.Err.Error(),
		})
		if n.Next != "" {
			sse.WriteChunk(transitionChunks[lang])
			selected = n.Next
		}
	}

	usedEngine, err := h.cascade.Run(ctx, req.EngineParams.Engine, engReq, callback, onFallback)
	if err != nil {
		return "", err
	}

	// A stream of whitespace-only chunks leaves nothing displayable; the
	// client still gets a last-resort chunk before the final envelope.
	if collector.IsEmpty() {
		apology := reply.Apology(lang)
		sse.WriteChunk(apology)
		collector.AddChunk(apology, nil)
	}

	env := collector.Finalize(reply.FinalizeMeta{
		ActorID:   actorID,
		Language:  lang,
		Engine:    usedEngine,
		Intent:    cls.Intent,
		Fallbacks: fallbacks,
	})
	sse.WriteMeta(metaEvent{
		Channel:   "assistant",
		Mode:      "final",
		Format:    "text",
		Engine:    usedEngine,
		PlainText: env.PlainText,
		Core:      env.Core(),
	})
	sse.WriteDone()
	slog.Info("engine session complete",
		"session_id", sessionID,
		"engine", usedEngine,
		"chunks", collector.ChunkCount(),
		"fallbacks", len(fallbacks),
	)
	return usedEngine, nil
}

// runHeartbeat emits ping events until done closes. The SSE writer's
// terminal guard makes a late ping harmless, but the session always
// closes done before returning.
func (h *StreamHandler) runHeartbeat(sse *SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if sse.Terminated() {
				return
			}
			if err := sse.WritePing(); err != nil {
				return
			}
		}
	}
}

var errClientGone = errors.New("client disconnected")
