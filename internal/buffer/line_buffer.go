// Package buffer provides a bounded line buffer for caching recent device events.
package buffer

import (
	"sync"
)

// LineBuffer is a thread-safe buffer that stores the most recent device event
// lines up to a total byte capacity. When the buffer is full, oldest lines are
// discarded whole to make room for new ones.
//
// This is used to cache device events so that a newly connected WebSocket
// client can be brought up to date before receiving live traffic.
type LineBuffer struct {
	lines    [][]byte
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewLineBuffer creates a new LineBuffer bounded by capacity bytes.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewLineBuffer(capacity int) *LineBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LineBuffer{
		capacity: capacity,
	}
}

// Append adds a line to the buffer, evicting oldest lines until the total
// size fits within capacity. A line larger than the whole capacity is not
// buffered: replayed lines must stay intact, never truncated.
func (b *LineBuffer) Append(line []byte) {
	if len(line) == 0 || len(line) > b.capacity {
		return
	}

	// Copy so callers can reuse their slice.
	stored := make([]byte, len(line))
	copy(stored, line)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, stored)
	b.size += len(stored)

	for b.size > b.capacity {
		b.size -= len(b.lines[0])
		b.lines[0] = nil
		b.lines = b.lines[1:]
	}
}

// Lines returns a copy of the buffered lines, oldest first.
// The returned slices are safe to use without holding the lock.
func (b *LineBuffer) Lines() [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.lines) == 0 {
		return nil
	}

	result := make([][]byte, len(b.lines))
	copy(result, b.lines)
	return result
}

// Clear removes all lines from the buffer.
func (b *LineBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = nil
	b.size = 0
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.lines)
}

// Size returns the total number of buffered bytes.
func (b *LineBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.size
}

// Cap returns the byte capacity of the buffer.
func (b *LineBuffer) Cap() int {
	return b.capacity
}
