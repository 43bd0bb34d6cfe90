// Copyright 2024 SaberMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audio implements the SABER playback engine: the sample ring
// buffer, the presentation-timed audio buffer and the synchronized stream.
package audio

import (
	"sync"

	"github.com/sabermesh/saber/errcode"
	"go.uber.org/atomic"
)

// RingBuffer is a bounded FIFO of samples safe for single-producer,
// single-consumer use. The element count is kept in an atomic so fill-level
// queries never contend with the audio callback.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	capacity int
	writePos int
	readPos  int
	size     atomic.Int64
}

// NewRingBuffer returns a ring buffer holding up to capacity elements.
func NewRingBuffer[T any](capacity int) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, errcode.ErrZeroCapacity
	}
	return &RingBuffer[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}, nil
}

// Write copies as many elements of src as fit and returns the number
// written. Excess elements are dropped.
func (r *RingBuffer[T]) Write(src []T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.capacity - int(r.size.Load())
	toWrite := len(src)
	if toWrite > available {
		toWrite = available
	}
	if toWrite == 0 {
		return 0
	}

	// At most two contiguous copies: up to the wrap boundary, then from
	// the start of the backing slice.
	first := toWrite
	if first > r.capacity-r.writePos {
		first = r.capacity - r.writePos
	}
	copy(r.buf[r.writePos:], src[:first])
	if first < toWrite {
		copy(r.buf, src[first:toWrite])
	}

	r.writePos = (r.writePos + toWrite) % r.capacity
	r.size.Add(int64(toWrite))
	return toWrite
}

// Read consumes up to len(dst) elements from the head of the buffer and
// returns the number read.
func (r *RingBuffer[T]) Read(dst []T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	toRead := r.copyHead(dst)
	if toRead > 0 {
		r.readPos = (r.readPos + toRead) % r.capacity
		r.size.Sub(int64(toRead))
	}
	return toRead
}

// Peek copies up to len(dst) elements from the head without consuming them.
func (r *RingBuffer[T]) Peek(dst []T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyHead(dst)
}

// copyHead copies from readPos into dst without mutating state.
// Caller must hold the mutex.
func (r *RingBuffer[T]) copyHead(dst []T) int {
	toRead := len(dst)
	if current := int(r.size.Load()); toRead > current {
		toRead = current
	}
	if toRead == 0 {
		return 0
	}

	first := toRead
	if first > r.capacity-r.readPos {
		first = r.capacity - r.readPos
	}
	copy(dst[:first], r.buf[r.readPos:r.readPos+first])
	if first < toRead {
		copy(dst[first:toRead], r.buf)
	}
	return toRead
}

// Clear drops all buffered elements.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.readPos = 0
	r.size.Store(0)
}

// Size returns the number of buffered elements without taking the lock.
func (r *RingBuffer[T]) Size() int {
	return int(r.size.Load())
}

// Capacity returns the fixed capacity of the buffer.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// Available returns the free space in elements.
func (r *RingBuffer[T]) Available() int {
	return r.capacity - int(r.size.Load())
}

// Empty reports whether the buffer holds no elements.
func (r *RingBuffer[T]) Empty() bool {
	return r.size.Load() == 0
}

// Full reports whether the buffer is at capacity.
func (r *RingBuffer[T]) Full() bool {
	return int(r.size.Load()) == r.capacity
}

// FillPercentage returns the fill level in the range 0-100.
func (r *RingBuffer[T]) FillPercentage() uint8 {
	return uint8(r.size.Load() * 100 / int64(r.capacity))
}
