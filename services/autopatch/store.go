// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultStoreCapacity bounds the number of retained proposals.
const defaultStoreCapacity = 50

// Proposal status values. A proposal is applied only when every file in
// its last run succeeded; partial and failed runs leave it pending so it
// can be retried.
const (
	StatusPending = "pending"
	StatusApplied = "applied"
)

// Proposal is one submitted change awaiting or past application.
type Proposal struct {
	// ID is the server-assigned proposal identifier.
	ID string `json:"id"`

	// Title is a short human-readable name for the change.
	Title string `json:"title"`

	// Summary describes what the change does and why.
	Summary string `json:"summary,omitempty"`

	// Severity is the submitter's urgency label (low|medium|high).
	Severity string `json:"severity,omitempty"`

	// Evidence lists observations that motivated the proposal.
	Evidence []string `json:"evidence,omitempty"`

	// Files lists the repo-relative paths the patch touches.
	Files []string `json:"files,omitempty"`

	// Patch is the raw unified diff text.
	Patch string `json:"patch"`

	// Status is pending or applied.
	Status string `json:"status"`

	// LastExecution holds the most recent apply outcome, if any.
	LastExecution *ApplyReport `json:"lastExecution,omitempty"`

	// StoredAt is the submission time.
	StoredAt time.Time `json:"storedAt"`
}

// Store keeps the most recent proposals in memory. When full, the oldest
// proposal by insertion order is evicted regardless of access recency, so
// the retained window always reflects submission history.
//
// # Thread Safety
//
// Safe for concurrent use. Get and List return copies; mutation goes
// through Update only.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	proposals map[string]*Proposal
	order     []string
}

// NewStore creates a proposal store. Capacity <=0 uses the 50-entry
// default.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &Store{
		capacity:  capacity,
		proposals: make(map[string]*Proposal, capacity),
	}
}

// Remember stores p, assigning ID, pending status and StoredAt, and
// evicting the oldest proposal when the store is full. Returns a copy of
// the stored proposal.
func (s *Store) Remember(p *Proposal) *Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	stored.ID = uuid.NewString()
	stored.Status = StatusPending
	stored.StoredAt = time.Now().UTC()

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.proposals, oldest)
	}
	s.proposals[stored.ID] = &stored
	s.order = append(s.order, stored.ID)

	clone := stored
	return &clone
}

// Get returns a copy of the proposal with the given ID.
func (s *Store) Get(id string) (*Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, false
	}
	clone := *p
	return &clone, true
}

// Update applies fn to the stored proposal under the write lock.
func (s *Store) Update(id string, fn func(*Proposal)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %s not found", id)
	}
	fn(p)
	return nil
}

// Len returns the number of retained proposals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns copies of all retained proposals, newest first.
func (s *Store) List() []*Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Proposal, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		clone := *s.proposals[s.order[i]]
		out = append(out, &clone)
	}
	return out
}
