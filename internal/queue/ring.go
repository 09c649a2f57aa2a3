// Package queue provides the bounded frame queues that decouple the
// pipeline stages. Queues are deliberately lossy: when a producer runs
// ahead of its consumer, stale items are dropped wholesale so the
// consumer always works on recent data.
package queue

import "sync"

// Ring is a bounded FIFO with blocking and non-blocking endpoints.
//
// The zero value is not usable; construct with New. All methods are
// safe for concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	count  int
	closed bool

	dropped uint64
}

// New builds a ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{buf: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// TryPush appends an item without blocking. It returns false when the
// ring is full or closed.
func (r *Ring[T]) TryPush(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.count == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.count)%len(r.buf)] = item
	r.count++
	r.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. After
// Close, Pop keeps draining buffered items and then returns ok=false.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// TryPop removes the oldest item without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

func (r *Ring[T]) popLocked() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return item
}

// Clear discards every buffered item and returns how many were dropped.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	var zero T
	for i := 0; i < n; i++ {
		r.buf[(r.head+i)%len(r.buf)] = zero
	}
	r.head = 0
	r.count = 0
	r.dropped += uint64(n)
	return n
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Dropped returns the cumulative count of items discarded by Clear.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close marks the ring closed and wakes every blocked Pop. Pushing
// after Close fails; buffered items remain readable until drained.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.cond.Broadcast()
}
