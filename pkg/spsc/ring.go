// Package spsc provides a lock-free single-producer single-consumer ring
// buffer for fixed-width samples.
//
// Each Ring instance must have exactly one writing goroutine and exactly one
// reading goroutine; with any other arrangement behavior is undefined. The
// discipline is enforced by construction (one ring per logical stream), not
// by the ring itself.
package spsc

import "sync/atomic"

// Ring is a fixed-capacity circular buffer with one producer and one
// consumer. One slot is always kept empty to distinguish full from empty,
// so a Ring created with capacity N holds at most N-1 elements.
//
// Cursors are published with atomic stores, which gives the consumer a
// happens-before edge on the copied data once it observes the advanced
// write cursor (and symmetrically for the producer and the read cursor).
type Ring[T any] struct {
	buf []T
	w   atomic.Int64 // next write position, producer-owned
	r   atomic.Int64 // next read position, consumer-owned
}

// New creates a Ring with the given capacity (usable capacity is capacity-1).
func New[T any](capacity int) *Ring[T] {
	if capacity < 2 {
		panic("spsc: capacity must be at least 2")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the number of elements the ring can hold.
func (rb *Ring[T]) Cap() int { return len(rb.buf) - 1 }

// Write copies as much of src as fits and returns the count written.
// It never blocks; when the ring is full it writes nothing.
// Write must only be called from the producer goroutine.
func (rb *Ring[T]) Write(src []T) int {
	if len(src) == 0 {
		return 0
	}
	capacity := int64(len(rb.buf))
	r := rb.r.Load()
	w := rb.w.Load()

	space := (r - w - 1 + capacity) % capacity
	n := int64(len(src))
	if n > space {
		n = space
	}
	if n == 0 {
		return 0
	}

	part := capacity - w
	if n <= part {
		copy(rb.buf[w:], src[:n])
	} else {
		copy(rb.buf[w:], src[:part])
		copy(rb.buf, src[part:n])
	}

	// The atomic store publishes the copied data to the consumer.
	rb.w.Store((w + n) % capacity)
	return int(n)
}

// Read copies up to len(dst) elements into dst and returns the count read.
// It never blocks; when the ring is empty it reads nothing.
// Read must only be called from the consumer goroutine.
func (rb *Ring[T]) Read(dst []T) int {
	if len(dst) == 0 {
		return 0
	}
	capacity := int64(len(rb.buf))
	w := rb.w.Load()
	r := rb.r.Load()

	avail := (w - r + capacity) % capacity
	n := int64(len(dst))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	part := capacity - r
	if n <= part {
		copy(dst[:n], rb.buf[r:])
	} else {
		copy(dst[:part], rb.buf[r:])
		copy(dst[part:n], rb.buf)
	}

	rb.r.Store((r + n) % capacity)
	return int(n)
}

// Available returns the number of elements ready to read.
func (rb *Ring[T]) Available() int {
	capacity := int64(len(rb.buf))
	return int((rb.w.Load() - rb.r.Load() + capacity) % capacity)
}

// Free returns the number of elements that can currently be written.
func (rb *Ring[T]) Free() int {
	return rb.Cap() - rb.Available()
}

// Reset zeroes both cursors, discarding all buffered data.
//
// Precondition: no concurrent Write or Read may be in flight. Resets are
// only safe at points where producer and consumer have agreed (for example
// through a command round-trip) that the stream is quiescent.
func (rb *Ring[T]) Reset() {
	rb.r.Store(0)
	rb.w.Store(0)
}
