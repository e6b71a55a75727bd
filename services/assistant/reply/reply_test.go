// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reply

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/datatypes"
)

func fixedBuilder() *Builder {
	b := NewBuilder()
	b.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBuilderNormalize(t *testing.T) {
	t.Run("core metadata is always present", func(t *testing.T) {
		env := fixedBuilder().Normalize("actor-1", "hello", Options{Language: "en"})
		core := env.Core()
		if core == nil {
			t.Fatal("envelope has no core metadata")
		}
		if core["schemaVersion"] != datatypes.EnvelopeSchemaVersion {
			t.Errorf("schemaVersion = %v, want %q", core["schemaVersion"], datatypes.EnvelopeSchemaVersion)
		}
		if core["actorId"] != "actor-1" {
			t.Errorf("actorId = %v", core["actorId"])
		}
		if core["normalizedAt"] == "" {
			t.Error("normalizedAt missing")
		}
	})

	t.Run("empty text gets a localized apology", func(t *testing.T) {
		en := fixedBuilder().Normalize("a", "   ", Options{Language: "en"})
		if en.PlainText == "" {
			t.Fatal("PlainText empty after normalization")
		}
		ka := fixedBuilder().Normalize("a", "", Options{Language: "ka"})
		if ka.PlainText == en.PlainText {
			t.Error("apology not localized")
		}
		if len(ka.Warnings) == 0 || ka.Warnings[len(ka.Warnings)-1] != "empty_response" {
			t.Errorf("warnings = %v, want empty_response tag", ka.Warnings)
		}
	})

	t.Run("defaults audience and language", func(t *testing.T) {
		env := fixedBuilder().Normalize("a", "x", Options{})
		if env.Audience != "front" || env.Language != "en" {
			t.Errorf("audience/language = %s/%s, want front/en", env.Audience, env.Language)
		}
	})

	t.Run("caller cannot override the core namespace", func(t *testing.T) {
		env := fixedBuilder().Normalize("a", "x", Options{
			Metadata: map[string]map[string]any{
				"core":   {"schemaVersion": "999"},
				"stream": {"engine": "offline"},
			},
		})
		if env.Core()["schemaVersion"] != datatypes.EnvelopeSchemaVersion {
			t.Error("caller overwrote the core namespace")
		}
		if env.Metadata["stream"]["engine"] != "offline" {
			t.Error("caller namespace dropped")
		}
	})
}

func TestCollector(t *testing.T) {
	t.Run("drops empty chunks and dedups issues", func(t *testing.T) {
		c := NewCollector(fixedBuilder())
		c.AddChunk("first", []string{"html_markup"})
		c.AddChunk("   ", nil)
		c.AddChunk("second", []string{"html_markup", "brand_style"})

		if c.ChunkCount() != 2 {
			t.Errorf("ChunkCount() = %d, want 2", c.ChunkCount())
		}
		env := c.Finalize(FinalizeMeta{ActorID: "a", Language: "en", Engine: "offline"})
		if len(env.Warnings) != 2 {
			t.Errorf("warnings = %v, want deduplicated pair", env.Warnings)
		}
		if env.PlainText != "first\nsecond" {
			t.Errorf("PlainText = %q", env.PlainText)
		}
	})

	t.Run("finalize is idempotent byte for byte", func(t *testing.T) {
		c := NewCollector(fixedBuilder())
		c.AddChunk("only chunk", nil)

		meta := FinalizeMeta{ActorID: "a", Language: "ka", Engine: "interactive", Intent: "generation_required"}
		first := c.Finalize(meta)
		second := c.Finalize(FinalizeMeta{ActorID: "someone-else", Engine: "offline"})

		if first != second {
			t.Error("Finalize() returned a different envelope instance")
		}
		b1, err := json.Marshal(first)
		if err != nil {
			t.Fatal(err)
		}
		b2, err := json.Marshal(second)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b1, b2) {
			t.Errorf("envelopes differ:\n%s\n%s", b1, b2)
		}
	})

	t.Run("chunks after finalize are ignored", func(t *testing.T) {
		c := NewCollector(fixedBuilder())
		c.AddChunk("before", nil)
		env := c.Finalize(FinalizeMeta{ActorID: "a", Language: "en"})
		c.AddChunk("after", nil)

		if env.PlainText != "before" {
			t.Errorf("PlainText = %q", env.PlainText)
		}
		if c.ChunkCount() != 1 {
			t.Errorf("ChunkCount() = %d after finalize, want 1", c.ChunkCount())
		}
	})

	t.Run("empty stream finalizes to an apology", func(t *testing.T) {
		c := NewCollector(fixedBuilder())
		if !c.IsEmpty() {
			t.Fatal("fresh collector not empty")
		}
		env := c.Finalize(FinalizeMeta{ActorID: "a", Language: "en", Engine: "interactive"})
		if env.PlainText == "" {
			t.Error("empty stream produced an empty envelope")
		}
	})
}
