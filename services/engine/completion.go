// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// defaultChunkSize bounds emitted chunk length so non-streaming
	// backends still produce a multi-chunk stream.
	defaultChunkSize = 50

	// defaultChunkDelay preserves perceived streaming for whole-response
	// completions.
	defaultChunkDelay = 90 * time.Millisecond

	// availabilityProbeTimeout bounds the Available() health probe.
	availabilityProbeTimeout = 2 * time.Second
)

// CompletionEngine is the fast whole-response completion backend. The
// upstream call returns one monolithic string; Stream re-frames it as
// bounded-size chunks with a small inter-chunk delay so clients see
// incremental output either way.
type CompletionEngine struct {
	baseURL    string
	model      string
	httpClient *http.Client
	chunkSize  int
	chunkDelay time.Duration
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type completionResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewCompletionEngine creates the completion engine adapter.
//
// # Inputs
//
//   - baseURL: Upstream base URL, e.g. "http://localhost:11434".
//   - model: Model name passed through to the backend.
//   - chunkSize: Max chunk length in runes; <=0 uses the 50-rune default.
//   - chunkDelay: Inter-chunk delay; <=0 uses the 90ms default.
func NewCompletionEngine(baseURL, model string, chunkSize int, chunkDelay time.Duration) (*CompletionEngine, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("completion engine: baseURL is required")
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkDelay <= 0 {
		chunkDelay = defaultChunkDelay
	}

	slog.Info("Initializing completion engine", "base_url", baseURL, "model", model)
	return &CompletionEngine{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
	}, nil
}

// Name implements Engine.
func (e *CompletionEngine) Name() string { return "completion" }

// Available implements Engine with a short liveness probe against the
// backend root endpoint.
func (e *CompletionEngine) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, availabilityProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	// A reachable backend that answers 5xx is not available.
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Stream implements Engine. The backend is called once for the whole
// response, which is then split into bounded chunks.
func (e *CompletionEngine) Stream(ctx context.Context, req Request, callback StreamCallback) error {
	body, err := json.Marshal(completionRequest{
		Model:  e.model,
		Prompt: req.Message,
		Stream: false,
	})
	if err != nil {
		return fmt.Errorf("completion engine marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("completion engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("completion engine call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("completion engine returned status %d", resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("completion engine decode: %w", err)
	}
	if parsed.Response == "" {
		return fmt.Errorf("completion engine returned empty response")
	}

	return e.emitChunks(ctx, parsed.Response, callback)
}

// emitChunks splits text into rune-bounded chunks and delivers them with
// the configured delay, observing cancellation between chunks.
func (e *CompletionEngine) emitChunks(ctx context.Context, text string, callback StreamCallback) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])

		if cbErr := callback(StreamEvent{Content: chunk, Issues: DetectIssues(chunk)}); cbErr != nil {
			return fmt.Errorf("%w: %v", ErrStreamAborted, cbErr)
		}

		if end < len(runes) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStreamAborted, ctx.Err())
			case <-time.After(e.chunkDelay):
			}
		}
	}
	return nil
}

var _ Engine = (*CompletionEngine)(nil)
