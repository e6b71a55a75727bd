// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reply

import (
	"strings"
	"sync"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/datatypes"
)

// FinalizeMeta carries the session facts merged into the final envelope.
type FinalizeMeta struct {
	// ActorID is the session actor for the envelope core.
	ActorID string

	// Language is the reply language.
	Language string

	// Engine is the name of the engine that completed the stream.
	Engine string

	// Intent is the classified intent of the session.
	Intent string

	// Fallbacks lists engines that failed before Engine succeeded.
	Fallbacks []string
}

// Collector accumulates streamed chunks for one session and produces the
// final envelope exactly once.
//
// # Thread Safety
//
// Safe for concurrent use, though a session normally feeds it from a
// single goroutine.
type Collector struct {
	builder *Builder

	mu       sync.Mutex
	chunks   []string
	issues   []string
	seen     map[string]struct{}
	envelope *datatypes.ResponseEnvelope
}

// NewCollector creates a collector writing through builder.
func NewCollector(builder *Builder) *Collector {
	return &Collector{
		builder: builder,
		seen:    make(map[string]struct{}),
	}
}

// AddChunk records one chunk. Whitespace-only chunks are dropped; issue
// tags are de-duplicated across the whole stream. Chunks arriving after
// Finalize are ignored.
func (c *Collector) AddChunk(text string, issues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.envelope != nil {
		return
	}
	if strings.TrimSpace(text) != "" {
		c.chunks = append(c.chunks, text)
	}
	for _, issue := range issues {
		if _, dup := c.seen[issue]; dup {
			continue
		}
		c.seen[issue] = struct{}{}
		c.issues = append(c.issues, issue)
	}
}

// ChunkCount returns the number of retained chunks.
func (c *Collector) ChunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// IsEmpty reports whether no displayable content has been collected.
func (c *Collector) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks) == 0
}

// Finalize builds the final envelope. The first call normalizes; every
// later call returns the same envelope, so repeated teardown paths can
// never produce diverging responses.
func (c *Collector) Finalize(meta FinalizeMeta) *datatypes.ResponseEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.envelope != nil {
		return c.envelope
	}

	streamMeta := map[string]any{
		"engine":     meta.Engine,
		"intent":     meta.Intent,
		"chunkCount": len(c.chunks),
	}
	if len(meta.Fallbacks) > 0 {
		streamMeta["fallbacks"] = meta.Fallbacks
	}

	c.envelope = c.builder.Normalize(meta.ActorID, strings.Join(c.chunks, "\n"), Options{
		Language: meta.Language,
		Warnings: c.issues,
		Task:     "assist",
		Final:    true,
		Metadata: map[string]map[string]any{"stream": streamMeta},
	})
	return c.envelope
}
