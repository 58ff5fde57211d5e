// Package memory provides the in-process job queue used by single-node runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"mpharvester/internal/harvest"
)

// Queue is a bounded FIFO of submitted jobs backed by a channel. Both ends
// respect context cancellation. Shutdown never closes the item channel, so a
// producer blocked in Enqueue wakes up with ErrQueueClosed instead of
// panicking, and consumers drain accepted items before seeing the same
// error.
type Queue struct {
	mu     sync.RWMutex
	items  chan harvest.QueueItem
	quit   chan struct{}
	closed bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items: make(chan harvest.QueueItem, capacity),
		quit:  make(chan struct{}),
	}
}

// Enqueue pushes a job, blocking while the queue is full. It fails once the
// queue closes or the context ends.
func (q *Queue) Enqueue(ctx context.Context, item harvest.QueueItem) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return harvest.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.quit:
		return harvest.ErrQueueClosed
	case q.items <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. After Close it
// keeps returning accepted items until the backlog is empty, then reports
// ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (harvest.QueueItem, error) {
	select {
	case <-ctx.Done():
		return harvest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.items:
		return item, nil
	case <-q.quit:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return harvest.QueueItem{}, harvest.ErrQueueClosed
		}
	}
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close stops the queue. Blocked producers fail, consumers drain the
// backlog, and further calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.quit)
}
