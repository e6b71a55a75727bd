// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// EnvelopeSchemaVersion is the current envelope core schema.
const EnvelopeSchemaVersion = "2"

// EnvelopeSection is one structured block of an assistant response.
type EnvelopeSection struct {
	Heading string `json:"heading,omitempty"`
	Body    string `json:"body"`
}

// ResponseEnvelope is the normalized assistant response shape shared by
// canned replies, streamed completions, offline fallbacks and error
// responses. PlainText is never empty after normalization.
type ResponseEnvelope struct {
	// PlainText is the full response as displayable text.
	PlainText string `json:"plainText"`

	// Audience is "front" (end user) or "admin".
	Audience string `json:"audience"`

	// Language is the reply language ("ka" or "en").
	Language string `json:"language"`

	// Sections are optional structured blocks.
	Sections []EnvelopeSection `json:"sections,omitempty"`

	// Warnings are content-issue tags surfaced to the client.
	Warnings []string `json:"warnings,omitempty"`

	// Task is the short label of what the assistant did.
	Task string `json:"task,omitempty"`

	// Plan describes intended follow-up steps, when any.
	Plan string `json:"plan,omitempty"`

	// Final reports whether the response is complete.
	Final bool `json:"final"`

	// Verification notes how the response was checked, when it was.
	Verification string `json:"verification,omitempty"`

	// Metadata carries namespaced metadata maps. The "core" entry is
	// always present: {schemaVersion, actorId, normalizedAt}.
	Metadata map[string]map[string]any `json:"metadata"`
}

// Core returns the envelope's core metadata map.
func (e *ResponseEnvelope) Core() map[string]any {
	if e.Metadata == nil {
		return nil
	}
	return e.Metadata["core"]
}
