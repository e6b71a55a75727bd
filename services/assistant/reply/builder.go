// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reply normalizes assistant output into response envelopes.
// Every response the service emits, whether canned, streamed, offline or
// an error apology, passes through Builder.Normalize so clients always
// see the same shape with a populated core metadata block.
package reply

import (
	"strings"
	"time"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/datatypes"
)

// apology texts used when a response would otherwise be empty.
var apologies = map[string]string{
	"ka": "ბოდიში, პასუხის მომზადება ვერ მოხერხდა. გთხოვთ სცადოთ თავიდან.",
	"en": "Sorry, a response could not be prepared. Please try again.",
}

// Apology returns the localized last-resort message. Callers stream it as
// a final chunk when a session produced no displayable content.
func Apology(lang string) string {
	if lang != "ka" {
		lang = "en"
	}
	return apologies[lang]
}

// Options shape one normalization call.
type Options struct {
	// Audience is "front" or "admin"; empty defaults to "front".
	Audience string

	// Language is the reply language; empty defaults to "en".
	Language string

	// Sections, Warnings, Task, Plan, Final and Verification map
	// directly onto the envelope.
	Sections     []datatypes.EnvelopeSection
	Warnings     []string
	Task         string
	Plan         string
	Final        bool
	Verification string

	// Metadata entries are merged into the envelope under their own
	// namespaces; the reserved "core" namespace is always overwritten.
	Metadata map[string]map[string]any
}

// Builder is the single chokepoint producing response envelopes.
type Builder struct {
	// now is a clock seam for deterministic tests.
	now func() time.Time
}

// NewBuilder creates a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Normalize turns raw response text into a complete envelope.
//
// # Inputs
//
//   - actorID: Session actor recorded in the core metadata.
//   - rawText: Response text; whitespace-trimmed. When empty, a
//     localized apology is substituted so PlainText is never empty.
//   - opts: Envelope fields.
//
// # Outputs
//
//   - *datatypes.ResponseEnvelope: Envelope with Metadata["core"] set to
//     {schemaVersion, actorId, normalizedAt}.
func (b *Builder) Normalize(actorID, rawText string, opts Options) *datatypes.ResponseEnvelope {
	lang := opts.Language
	if lang != "ka" {
		lang = "en"
	}
	audience := opts.Audience
	if audience != "admin" {
		audience = "front"
	}

	text := strings.TrimSpace(rawText)
	warnings := opts.Warnings
	if text == "" {
		text = apologies[lang]
		warnings = append(append([]string(nil), warnings...), "empty_response")
	}

	metadata := make(map[string]map[string]any, len(opts.Metadata)+1)
	for ns, m := range opts.Metadata {
		if ns == "core" {
			continue
		}
		metadata[ns] = m
	}
	metadata["core"] = map[string]any{
		"schemaVersion": datatypes.EnvelopeSchemaVersion,
		"actorId":       actorID,
		"normalizedAt":  b.now().UTC().Format(time.RFC3339Nano),
	}

	return &datatypes.ResponseEnvelope{
		PlainText:    text,
		Audience:     audience,
		Language:     lang,
		Sections:     opts.Sections,
		Warnings:     warnings,
		Task:         opts.Task,
		Plan:         opts.Plan,
		Final:        opts.Final,
		Verification: opts.Verification,
		Metadata:     metadata,
	}
}
