// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import "sync"

// RingBuffer is a fixed-capacity FIFO that overwrites the oldest element
// once full. It backs the execution log so memory stays bounded no matter
// how many patches run.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewRingBuffer creates a buffer holding at most capacity elements.
// Capacity <=0 is normalized to 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends item, evicting the oldest element when full.
func (rb *RingBuffer[T]) Push(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	tail := (rb.head + rb.size) % len(rb.items)
	rb.items[tail] = item
	if rb.size < len(rb.items) {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % len(rb.items)
	}
}

// Len returns the number of stored elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the fixed capacity.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.items)
}

// Slice returns the elements oldest-first as a copy.
func (rb *RingBuffer[T]) Slice() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]T, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		out = append(out, rb.items[(rb.head+i)%len(rb.items)])
	}
	return out
}

// Last returns up to n elements newest-first.
func (rb *RingBuffer[T]) Last(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.size {
		n = rb.size
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (rb.head + rb.size - 1 - i) % len(rb.items)
		out = append(out, rb.items[idx])
	}
	return out
}
