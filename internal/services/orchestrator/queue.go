package orchestrator

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrQueueEmpty is returned by TryPop when no item is ready but more may still arrive
	ErrQueueEmpty = errors.New("work queue is empty")
	// ErrQueueClosed is returned by TryPop once the queue is closed and drained
	ErrQueueClosed = errors.New("work queue is closed")
)

// WorkQueue is an unbounded FIFO of usernames with deduplication. One producer
// pushes and then closes it; any number of consumers poll it without blocking.
// Each pushed item is handed to exactly one consumer.
type WorkQueue struct {
	mu     sync.Mutex
	items  []string
	seen   map[string]bool // Lower-cased username -> seen
	closed bool
}

// NewWorkQueue creates an empty, open queue
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{
		seen: make(map[string]bool),
	}
}

// Push adds an item. It returns false when the item was seen before or the queue is closed.
func (q *WorkQueue) Push(item string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	key := strings.ToLower(item)
	if q.seen[key] {
		return false
	}

	q.seen[key] = true
	q.items = append(q.items, item)
	return true
}

// TryPop removes the oldest item without waiting
func (q *WorkQueue) TryPop() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = ""
		q.items = q.items[1:]
		return item, nil
	}
	if q.closed {
		return "", ErrQueueClosed
	}
	return "", ErrQueueEmpty
}

// Len returns the number of items waiting
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the producer side done. Items already queued are still delivered.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
