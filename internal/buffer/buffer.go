// Package buffer provides the growable queue that decouples the hub read
// loop from event dispatch: a burst from upstream never blocks the socket
// read, and dispatch drains at its own pace.
package buffer

import "sync"

// Queue is a thread-safe ring buffer that doubles its capacity as it
// approaches full instead of dropping or blocking producers.
type Queue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	items  []T
	head   int
	tail   int
	count  int
	closed bool

	enqueued int64
	dequeued int64
	resizes  int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{items: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item, growing the ring when it passes 70% occupancy.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (len(q.items) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.items[q.tail] = item
	q.tail = (q.tail + 1) % len(q.items)
	q.count++
	q.enqueued++

	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest item, blocking until one is
// available. Returns false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.dequeued++
	return item, true
}

// Close stops accepting items. Blocked Pop calls drain the remainder and
// then return false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Resizes  int
}

// Stats returns current queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:    q.count,
		Capacity: len(q.items),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Resizes:  q.resizes,
	}
}

// grow doubles capacity, unrolling the ring. Caller holds the lock.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.items)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.items[q.head:q.tail])
		} else {
			n := copy(next, q.items[q.head:])
			copy(next[n:], q.items[:q.tail])
		}
	}
	q.items = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
