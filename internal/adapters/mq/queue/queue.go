// Package queue provides the FIFO holding tasks that wait for a free slot.
package queue

import (
	"context"
	"sync"

	"github.com/okian/gather/pkg/metrics"
)

// Queue is a FIFO with non-blocking enqueue.
type Queue[T any] interface {
	// Enqueue appends item. It fails with ErrFull at capacity and ErrClosed
	// after Close.
	Enqueue(ctx context.Context, item T) error

	// Dequeue removes the oldest item. ok is false when the queue is empty.
	Dequeue(ctx context.Context) (item T, ok bool)

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Drain removes and returns every queued item in FIFO order.
	Drain(ctx context.Context) []T

	// Close rejects further enqueues. Queued items stay until drained.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue with a slice.
type InMemoryQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	opts   options
	closed bool
}

// NewInMemoryQueue creates an in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	q := &InMemoryQueue[T]{opts: options{name: "queue"}}
	for _, opt := range opts {
		opt(&q.opts)
	}
	metrics.UpdateQueueCapacity(q.opts.capacity)
	return q
}

// Enqueue appends item to the tail.
func (q *InMemoryQueue[T]) Enqueue(_ context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent(q.opts.name, "closed")
		return ErrClosed
	}
	if q.opts.capacity > 0 && q.lenLocked() >= q.opts.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent(q.opts.name, "queue_full")
		return ErrFull
	}
	q.items = append(q.items, item)
	metrics.RecordQueueEnqueue()
	return nil
}

// Dequeue pops the head.
func (q *InMemoryQueue[T]) Dequeue(_ context.Context) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.lenLocked() == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	metrics.RecordQueueDequeue()
	return item, true
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Drain empties the queue.
func (q *InMemoryQueue[T]) Drain(_ context.Context) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, q.lenLocked())
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}

// Close rejects further enqueues.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *InMemoryQueue[T]) lenLocked() int {
	return len(q.items) - q.head
}
