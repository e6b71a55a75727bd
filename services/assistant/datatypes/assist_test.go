// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
)

func TestAssistRequestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := AssistRequest{Message: "გამარჯობა"}
		if err := req.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		req := AssistRequest{}
		if err := req.Validate(); err == nil {
			t.Error("Validate() accepted an empty message")
		}
	})

	t.Run("message over the byte cap", func(t *testing.T) {
		req := AssistRequest{Message: strings.Repeat("x", maxMessageBytes+1)}
		if err := req.Validate(); err == nil {
			t.Error("Validate() accepted an oversized message")
		}
	})

	t.Run("multibyte text counts bytes not runes", func(t *testing.T) {
		// 11k Georgian runes are ~33KB of UTF-8 and must be rejected.
		req := AssistRequest{Message: strings.Repeat("ა", 11*1024)}
		if err := req.Validate(); err == nil {
			t.Error("Validate() measured runes instead of bytes")
		}
	})

	t.Run("bad engine preference", func(t *testing.T) {
		req := AssistRequest{Message: "hi", EngineParams: EngineParams{Engine: "quantum"}}
		if err := req.Validate(); err == nil {
			t.Error("Validate() accepted an unknown engine")
		}
	})
}

func TestApplyRequestResolvePatch(t *testing.T) {
	stored := "stored-diff"

	tests := []struct {
		name       string
		req        ApplyRequest
		wantText   string
		wantSource string
	}{
		{"empty body falls back to the proposal", ApplyRequest{}, stored, "proposal"},
		{"patch wins", ApplyRequest{Patch: "p", Diff: "d"}, "p", "patch"},
		{"diff next", ApplyRequest{Diff: "d"}, "d", "diff"},
		{"files combined last", ApplyRequest{Files: []ApplyFileOverride{{Patch: "f1"}, {Patch: "f2"}}}, "f1f2", "files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, source := tt.req.ResolvePatch(stored)
			if text != tt.wantText || source != tt.wantSource {
				t.Errorf("ResolvePatch() = (%q, %q), want (%q, %q)", text, source, tt.wantText, tt.wantSource)
			}
		})
	}
}
