// Package pipe provides the bounded message queues and atomic event flags
// that connect the audio and control execution contexts.
//
// Producer-critical paths use TryPush, which never blocks: on a full queue
// the new item is dropped, its release hook runs so pooled memory is
// returned immediately, and a drop counter advances. Consumers pop with a
// short bounded timeout so a loop can service several queues round-robin
// without one starving another.
package pipe

import (
	"sync/atomic"
	"time"
)

// Queue is a fixed-capacity queue of message values or handles.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64

	// release reclaims an item that failed to enqueue or was flushed.
	release func(T)
	// onDrop, when set, observes each drop (diagnostics hook).
	onDrop func()
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithRelease sets the hook that reclaims items dropped or flushed by the
// queue. Required for queues carrying pool-allocated payloads.
func WithRelease[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.release = fn }
}

// WithDropHook sets a callback invoked once per dropped item.
func WithDropHook[T any](fn func()) Option[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// NewQueue creates a Queue holding at most capacity items.
func NewQueue[T any](capacity int, opts ...Option[T]) *Queue[T] {
	if capacity <= 0 {
		panic("pipe: queue capacity must be positive")
	}
	q := &Queue[T]{ch: make(chan T, capacity)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue[T]) drop(v T) {
	q.dropped.Add(1)
	if q.release != nil {
		q.release(v)
	}
	if q.onDrop != nil {
		q.onDrop()
	}
}

// TryPush enqueues v without blocking. On a full queue the item is dropped:
// its release hook runs, the drop counter advances, and TryPush returns
// false. Ownership of v always leaves the caller.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.drop(v)
		return false
	}
}

// PushWait enqueues v, waiting at most d for space. On timeout the item is
// dropped exactly as in TryPush. Only consumers that may tolerate a short
// stall (never the audio producer) should use this.
func (q *Queue[T]) PushWait(v T, d time.Duration) bool {
	select {
	case q.ch <- v:
		return true
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case q.ch <- v:
		return true
	case <-t.C:
		q.drop(v)
		return false
	}
}

// TryPop dequeues without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Pop dequeues, waiting at most d for an item.
func (q *Queue[T]) Pop(d time.Duration) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-t.C:
		var zero T
		return zero, false
	}
}

// Drain pops every currently-queued item into fn, up to max items
// (max <= 0 means no limit), and returns the count handled. Ownership of
// each item passes to fn.
func (q *Queue[T]) Drain(max int, fn func(T)) int {
	n := 0
	for max <= 0 || n < max {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		fn(v)
		n++
	}
	return n
}

// Flush discards every currently-queued item through the release hook and
// returns the count discarded. Flushed items are not counted as drops.
func (q *Queue[T]) Flush() int {
	n := 0
	for {
		v, ok := q.TryPop()
		if !ok {
			return n
		}
		if q.release != nil {
			q.release(v)
		}
		n++
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped returns the total number of items dropped on push.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
