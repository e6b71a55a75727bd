// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine provides reasoning-engine adapters for the assistant
// backend. Every external text-generation capability (interactive
// tool-capable chat, fast completion, offline degraded mode) implements the
// same Engine interface and yields a stream of chunks, so the session
// manager can cascade across them without caring which backend is active.
package engine

import (
	"context"
	"errors"
	"strings"
)

// GenerationParams carries tunables forwarded to an engine backend.
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	// Language is the response language hint ("ka", "en", ...).
	Language string `json:"language,omitempty"`
}

// Request is one generation attempt handed to an engine.
type Request struct {
	// SessionID identifies the streaming session for logging.
	SessionID string

	// Message is the user's free-text input.
	Message string

	// Params are generation tunables.
	Params GenerationParams
}

// StreamEvent is one emitted chunk of engine output.
type StreamEvent struct {
	// Content is the chunk text.
	Content string

	// Issues are detected content-issue tags for this chunk
	// (e.g. "html_markup", "brand_style").
	Issues []string
}

// StreamCallback receives chunks in emission order. Returning a non-nil
// error aborts the stream (e.g. on client disconnect).
type StreamCallback func(event StreamEvent) error

// ErrStreamAborted wraps callback failures. The cascade treats it as a
// consumer-side abort and stops instead of falling back to another engine.
var ErrStreamAborted = errors.New("stream aborted by consumer")

// Engine is one reasoning backend in the cascade.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one Engine instance
// serves all sessions.
type Engine interface {
	// Name returns the engine identifier used in meta events and logs.
	Name() string

	// Available reports whether the engine can currently take requests.
	// Must be cheap; implementations may probe with a short timeout.
	Available(ctx context.Context) bool

	// Stream generates a response for req and delivers it chunk by chunk.
	// Callback errors must be wrapped with ErrStreamAborted.
	Stream(ctx context.Context, req Request, callback StreamCallback) error
}

// =============================================================================
// Chunk Issue Detection
// =============================================================================

// DetectIssues scans a chunk for content-policy violations that the UI
// surfaces as warnings. Tags are stable identifiers, not display text.
func DetectIssues(text string) []string {
	var issues []string
	lower := strings.ToLower(text)

	if strings.Contains(lower, "<div") || strings.Contains(lower, "<script") {
		issues = append(issues, "html_markup")
	}
	// Brand style guide: the platform name is written "Bakhmaro", never
	// all-caps or lowercase in prose.
	if strings.Contains(text, "BAKHMARO") || strings.Contains(text, "bakhmaro.GE") {
		issues = append(issues, "brand_style")
	}
	if strings.Contains(lower, "lorem ipsum") {
		issues = append(issues, "placeholder_text")
	}

	return issues
}
