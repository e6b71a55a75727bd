// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"time"
)

// OfflineEngine synthesizes a segmented placeholder response locally with
// no network egress. It is always available and sits last in the cascade,
// guaranteeing that every session produces a well-formed multi-chunk
// stream even when all real engines are down.
type OfflineEngine struct {
	chunkDelay time.Duration
}

// NewOfflineEngine creates the degraded-mode generator. chunkDelay <=0
// uses a 60ms default.
func NewOfflineEngine(chunkDelay time.Duration) *OfflineEngine {
	if chunkDelay <= 0 {
		chunkDelay = 60 * time.Millisecond
	}
	return &OfflineEngine{chunkDelay: chunkDelay}
}

// Name implements Engine.
func (e *OfflineEngine) Name() string { return "offline" }

// Available implements Engine. The offline generator can always run.
func (e *OfflineEngine) Available(ctx context.Context) bool { return true }

// Stream implements Engine by emitting a localized segmented placeholder.
func (e *OfflineEngine) Stream(ctx context.Context, req Request, callback StreamCallback) error {
	segments := e.segments(req)

	for i, segment := range segments {
		if cbErr := callback(StreamEvent{Content: segment}); cbErr != nil {
			return fmt.Errorf("%w: %v", ErrStreamAborted, cbErr)
		}
		if i < len(segments)-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStreamAborted, ctx.Err())
			case <-time.After(e.chunkDelay):
			}
		}
	}
	return nil
}

func (e *OfflineEngine) segments(req Request) []string {
	preview := []rune(req.Message)
	if len(preview) > 80 {
		preview = preview[:80]
	}

	if req.Params.Language == "ka" {
		return []string{
			"სარეზერვო რეჟიმი: საპასუხო ძრავები დროებით მიუწვდომელია.",
			fmt.Sprintf("თქვენი შეტყობინება მიღებულია: „%s“.", string(preview)),
			"ოპერატორი უმოკლეს დროში გიპასუხებთ, ან სცადეთ რამდენიმე წუთში.",
		}
	}
	return []string{
		"Degraded mode: the response engines are temporarily unreachable.",
		fmt.Sprintf("Your message was received: %q.", string(preview)),
		"An operator will follow up shortly, or please retry in a few minutes.",
	}
}

var _ Engine = (*OfflineEngine)(nil)
