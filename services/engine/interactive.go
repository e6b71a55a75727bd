// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// InteractiveEngine is the tool-capable chat engine with token-level
// streaming. It is selected first by the cascade when explicitly requested
// or when it is the only reachable engine.
type InteractiveEngine struct {
	client *openai.Client
	model  string
}

// NewInteractiveEngine creates the interactive engine adapter.
//
// # Inputs
//
//   - apiKey: API key. Falls back to INTERACTIVE_ENGINE_API_KEY.
//   - baseURL: Optional override for self-hosted gateways.
//   - model: Model name; defaults to "gpt-4o-mini".
//
// # Outputs
//
//   - *InteractiveEngine: Ready adapter.
//   - error: Non-nil when no API key can be resolved.
func NewInteractiveEngine(apiKey, baseURL, model string) (*InteractiveEngine, error) {
	if apiKey == "" {
		apiKey = os.Getenv("INTERACTIVE_ENGINE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("interactive engine: no API key configured")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("interactive engine model not set, defaulting", "model", model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	slog.Info("Initializing interactive engine", "model", model)
	return &InteractiveEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Name implements Engine.
func (e *InteractiveEngine) Name() string { return "interactive" }

// Available implements Engine. The adapter is available whenever it was
// constructed with credentials; upstream failures surface during Stream and
// are handled by the cascade.
func (e *InteractiveEngine) Available(ctx context.Context) bool {
	return e != nil && e.client != nil
}

// Stream implements Engine using token-level streaming.
func (e *InteractiveEngine) Stream(ctx context.Context, req Request, callback StreamCallback) error {
	sysPrompt := "You are the Bakhmaro booking platform assistant. Answer concisely."
	if req.Params.Language == "ka" {
		sysPrompt += " Respond in Georgian."
	}

	apiReq := openai.ChatCompletionRequest{
		Model:  e.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sysPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
	}
	if req.Params.Temperature != nil {
		apiReq.Temperature = *req.Params.Temperature
	}
	if req.Params.MaxTokens != nil {
		apiReq.MaxCompletionTokens = *req.Params.MaxTokens
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return fmt.Errorf("interactive engine stream open: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return fmt.Errorf("interactive engine recv: %w", recvErr)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		sb.WriteString(content)

		if cbErr := callback(StreamEvent{Content: content, Issues: DetectIssues(content)}); cbErr != nil {
			return fmt.Errorf("%w: %v", ErrStreamAborted, cbErr)
		}
	}

	if sb.Len() == 0 {
		return fmt.Errorf("interactive engine returned no content")
	}
	return nil
}

var _ Engine = (*InteractiveEngine)(nil)
