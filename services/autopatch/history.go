// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import "time"

// defaultLogCapacity bounds the in-memory execution log.
const defaultLogCapacity = 200

// ExecutionLogEntry records one attempted file modification. One entry is
// written per file hunk, success or failure, so the audit trail reflects
// exactly what touched the working tree.
type ExecutionLogEntry struct {
	// Action identifies the operation ("apply", "rollback").
	Action string `json:"action"`

	// RequestID ties the entry back to the proposal that triggered it.
	RequestID string `json:"requestId"`

	// FilePath is the repo-relative path that was modified.
	FilePath string `json:"filePath"`

	// Success reports whether the modification stuck.
	Success bool `json:"success"`

	// Message carries failure details or a short success note.
	Message string `json:"message,omitempty"`

	// Duration is the wall time the file operation took.
	Duration time.Duration `json:"durationNs"`

	// Timestamp is when the operation finished.
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionLog is the bounded audit trail of patch activity.
//
// # Thread Safety
//
// Safe for concurrent use.
type ExecutionLog struct {
	buf *RingBuffer[ExecutionLogEntry]
}

// NewExecutionLog creates a log retaining the most recent capacity
// entries. Capacity <=0 uses the 200-entry default.
func NewExecutionLog(capacity int) *ExecutionLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &ExecutionLog{buf: NewRingBuffer[ExecutionLogEntry](capacity)}
}

// Append records one entry, stamping Timestamp when unset.
func (l *ExecutionLog) Append(entry ExecutionLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.buf.Push(entry)
}

// Recent returns up to n entries newest-first. n <=0 returns everything.
func (l *ExecutionLog) Recent(n int) []ExecutionLogEntry {
	if n <= 0 {
		n = l.buf.Len()
	}
	return l.buf.Last(n)
}

// Len returns the number of retained entries.
func (l *ExecutionLog) Len() int {
	return l.buf.Len()
}
