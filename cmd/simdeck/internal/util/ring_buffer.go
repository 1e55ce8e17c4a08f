// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
)

// =============================================================================
// Ring Buffer Struct
// =============================================================================

// RingBuffer is a thread-safe, fixed-size FIFO that evicts its oldest
// item when a push would exceed capacity.
//
// # Description
//
// RingBuffer backs the diagnostic logs shown next to each pipeline phase.
// Those logs are append-only from the reader's point of view: entries are
// never removed individually, only evicted from the front once the buffer
// is full, or cleared all at once when a phase restarts.
//
// # How It Works
//
//  1. Items are written at the tail position
//  2. When full, the head advances first, dropping the oldest item
//  3. Snapshot walks head→tail, so callers always see arrival order
//
// # Thread Safety
//
// RingBuffer is safe for concurrent use from multiple goroutines.
//
// # Example
//
//	buffer := NewRingBuffer[string](3)
//	buffer.Push("a")
//	buffer.Push("b")
//	buffer.Push("c")
//	buffer.Push("d")       // evicts "a"
//	buffer.Snapshot()      // ["b", "c", "d"]
//
// # Limitations
//
//   - Fixed capacity (cannot grow)
//   - Evicted items cannot be recovered
type RingBuffer[T any] struct {
	mu       sync.Mutex
	buffer   []T
	head     int
	size     int
	capacity int
	evicted  int64
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
//
// # Inputs
//
//   - capacity: Maximum number of items to hold (must be > 0)
//
// # Outputs
//
//   - *RingBuffer[T]: New empty ring buffer
//
// # Panics
//
// Panics if capacity <= 0.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest one when the buffer is full.
//
// # Outputs
//
//   - bool: true if an item was evicted to make room
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == r.capacity {
		var zero T
		r.buffer[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		r.evicted++
		evicted = true
	}

	tail := (r.head + r.size) % r.capacity
	r.buffer[tail] = item
	r.size++
	return evicted
}

// Snapshot returns a copy of all items, oldest first.
//
// Returns an empty (non-nil) slice when the buffer is empty so callers can
// range or JSON-encode the result without a nil check.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.buffer[(r.head+i)%r.capacity]
	}
	return result
}

// Last returns the most recently pushed item.
func (r *RingBuffer[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buffer[(r.head+r.size-1)%r.capacity], true
}

// Len returns the current number of items.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum capacity. Immutable, no lock needed.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// Evicted returns how many items have been dropped from the front since
// creation or the last Clear.
func (r *RingBuffer[T]) Evicted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Clear removes all items and resets the eviction counter.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.size = 0
	r.evicted = 0
}
