// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response types of the
// assistant HTTP surface, with validation wired to the gin binding layer.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// maxMessageBytes caps a single assistant message.
const maxMessageBytes = 32 * 1024

var validate *validator.Validate

func init() {
	validate = validator.New()
	// maxbytes limits byte length, not rune count, so multi-byte
	// Georgian text cannot exceed the wire budget.
	if err := validate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxMessageBytes
	}); err != nil {
		panic(fmt.Sprintf("register maxbytes validation: %v", err))
	}
}

// EngineParams are the caller-supplied generation preferences.
type EngineParams struct {
	// Engine optionally pins the first engine to try
	// ("interactive", "completion", "offline").
	Engine string `json:"engine,omitempty" validate:"omitempty,oneof=interactive completion offline"`

	// Language is the requested reply language ("ka" or "en").
	Language string `json:"language,omitempty" validate:"omitempty,oneof=ka en"`

	Temperature *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0,lte=32768"`
}

// AssistRequest is the body of POST /v1/assist/stream.
type AssistRequest struct {
	// Message is the user's free-text input.
	Message string `json:"message" validate:"required,maxbytes"`

	// SessionActorID identifies the requesting actor for the envelope
	// core; a session id is generated when empty.
	SessionActorID string `json:"session_actor_id,omitempty" validate:"omitempty,max=128"`

	// EngineParams tune generation.
	EngineParams EngineParams `json:"engine_params,omitempty"`
}

// Validate checks the request against its declared rules.
func (r *AssistRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid assist request: %w", err)
	}
	return nil
}

// ProposeRequest is the body of POST /v1/improve/proposals.
type ProposeRequest struct {
	Title    string   `json:"title" validate:"required,max=200"`
	Summary  string   `json:"summary,omitempty" validate:"omitempty,max=2000"`
	Severity string   `json:"severity,omitempty" validate:"omitempty,oneof=low medium high"`
	Evidence []string `json:"evidence,omitempty" validate:"omitempty,dive,max=1000"`
	Patch    string   `json:"patch" validate:"required,max=1048576"`
}

// Validate checks the request against its declared rules.
func (r *ProposeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid proposal: %w", err)
	}
	return nil
}

// ApplyFileOverride carries a per-file patch override.
type ApplyFileOverride struct {
	Path  string `json:"path,omitempty"`
	Patch string `json:"patch,omitempty"`
}

// ApplyRequest is the optional body of
// POST /v1/improve/proposals/:id/apply. All fields override the stored
// proposal patch; the first non-empty source wins.
type ApplyRequest struct {
	Patch string              `json:"patch,omitempty"`
	Diff  string              `json:"diff,omitempty"`
	Files []ApplyFileOverride `json:"files,omitempty"`
}

// ResolvePatch picks the effective patch text and reports which source
// supplied it: "patch", "diff", "files", or "proposal" when every
// override is empty.
func (r *ApplyRequest) ResolvePatch(stored string) (string, string) {
	if r.Patch != "" {
		return r.Patch, "patch"
	}
	if r.Diff != "" {
		return r.Diff, "diff"
	}
	for _, f := range r.Files {
		if f.Patch != "" {
			combined := ""
			for _, g := range r.Files {
				combined += g.Patch
			}
			return combined, "files"
		}
	}
	return stored, "proposal"
}
