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
	"log/slog"
	"time"
)

// FallbackNotice describes one failed cascade attempt. The session manager
// forwards it to the client as an informational engine-error event.
type FallbackNotice struct {
	// Engine is the name of the engine that failed.
	Engine string

	// Err is the failure cause.
	Err error

	// Next is the name of the engine the cascade moves to, empty when
	// no engine remains (cannot happen while the offline engine is last).
	Next string
}

// Cascade iterates an ordered list of engines until one completes a
// stream. Engine-level failures are recoverable: the cascade notifies the
// caller and tries the next engine. Consumer-side aborts (ErrStreamAborted,
// cancelled parent context) stop the cascade immediately.
//
// The offline generator is expected to be the last entry, making
// exhaustion impossible by construction.
//
// # Thread Safety
//
// Cascade is immutable after construction and safe for concurrent use.
type Cascade struct {
	engines        []Engine
	attemptTimeout time.Duration
}

// NewCascade builds a cascade over engines in priority order.
//
// # Inputs
//
//   - attemptTimeout: Ceiling for a single engine attempt; <=0 uses 30s.
//     Prevents one hung engine from blocking the fallback chain.
//   - engines: Adapters in priority order; the guaranteed-last adapter
//     should be the offline generator.
func NewCascade(attemptTimeout time.Duration, engines ...Engine) *Cascade {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Cascade{
		engines:        engines,
		attemptTimeout: attemptTimeout,
	}
}

// Engines returns the configured engine names in priority order.
func (c *Cascade) Engines() []string {
	names := make([]string, 0, len(c.engines))
	for _, e := range c.engines {
		names = append(names, e.Name())
	}
	return names
}

// Select returns the name of the engine the cascade would try first for
// the given preference. Used to announce the initially selected engine
// before any chunk is produced.
func (c *Cascade) Select(ctx context.Context, preference string) string {
	for _, e := range c.ordered(preference) {
		if e.Available(ctx) {
			return e.Name()
		}
	}
	// Unreachable while an always-available engine is configured.
	return ""
}

// Run streams a response for req through the first engine that completes.
//
// # Inputs
//
//   - ctx: Session context; cancellation aborts the cascade.
//   - preference: Requested engine name; moved to the front when set.
//   - req: The generation request.
//   - callback: Chunk consumer.
//   - onFallback: Called once per failed attempt before moving on.
//     May be nil.
//
// # Outputs
//
//   - string: Name of the engine that completed the stream.
//   - error: Non-nil only on consumer abort or full exhaustion.
func (c *Cascade) Run(ctx context.Context, preference string, req Request, callback StreamCallback, onFallback func(FallbackNotice)) (string, error) {
	ordered := c.ordered(preference)

	var lastErr error
	for i, eng := range ordered {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrStreamAborted, ctx.Err())
		}
		if !eng.Available(ctx) {
			slog.Debug("engine unavailable, skipping", "engine", eng.Name(), "session_id", req.SessionID)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := eng.Stream(attemptCtx, req, callback)
		cancel()

		if err == nil {
			return eng.Name(), nil
		}
		if errors.Is(err, ErrStreamAborted) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		slog.Warn("engine attempt failed, cascading",
			"engine", eng.Name(),
			"session_id", req.SessionID,
			"error", err,
		)
		if onFallback != nil {
			onFallback(FallbackNotice{
				Engine: eng.Name(),
				Err:    err,
				Next:   nextAvailableName(ctx, ordered[i+1:]),
			})
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no engine available")
	}
	return "", fmt.Errorf("engine cascade exhausted: %w", lastErr)
}

// ordered returns the engines with the preferred one moved to the front.
func (c *Cascade) ordered(preference string) []Engine {
	if preference == "" {
		return c.engines
	}

	ordered := make([]Engine, 0, len(c.engines))
	for _, e := range c.engines {
		if e.Name() == preference {
			ordered = append(ordered, e)
		}
	}
	for _, e := range c.engines {
		if e.Name() != preference {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

func nextAvailableName(ctx context.Context, rest []Engine) string {
	for _, e := range rest {
		if e.Available(ctx) {
			return e.Name()
		}
	}
	return ""
}
