// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

// =============================================================================
// Ring Buffer
// =============================================================================

// RingBuffer is a fixed-size circular buffer that drops its oldest item when
// full.
//
// # Description
//
// Backs one history series. Items are stored by value with the full capacity
// allocated up front, so Push never allocates.
//
// # Thread Safety
//
// Not safe for concurrent use. The Aggregator serializes all access.
type RingBuffer[T any] struct {
	buffer []T
	head   int
	size   int
}

// NewRingBuffer creates an empty buffer holding at most capacity items.
//
// # Panics
//
// Panics if capacity <= 0.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{buffer: make([]T, capacity)}
}

// Push appends item and reports whether the oldest item was dropped.
func (r *RingBuffer[T]) Push(item T) bool {
	tail := (r.head + r.size) % len(r.buffer)
	r.buffer[tail] = item
	if r.size < len(r.buffer) {
		r.size++
		return false
	}
	r.head = (r.head + 1) % len(r.buffer)
	return true
}

// ToSlice returns the items oldest first without removing them.
func (r *RingBuffer[T]) ToSlice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buffer[(r.head+i)%len(r.buffer)]
	}
	return out
}

// Last returns the newest item.
func (r *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buffer[(r.head+r.size-1)%len(r.buffer)], true
}

// Size returns the number of stored items.
func (r *RingBuffer[T]) Size() int {
	return r.size
}

// Capacity returns the maximum number of items.
func (r *RingBuffer[T]) Capacity() int {
	return len(r.buffer)
}

// Clear removes every item.
func (r *RingBuffer[T]) Clear() {
	clear(r.buffer)
	r.head = 0
	r.size = 0
}
