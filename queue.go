package pollrpc

import (
	"sync"
)

// queue is an unbounded FIFO handing items between goroutines.
// Each push signals wake, which holds at most one pending signal.
type queue[T any] struct {
	wake  chan struct{}
	items []T
	mu    sync.Mutex
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{}, 1)}
}

func (q *queue[T]) push(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain removes and returns everything queued.
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	return items
}

// pop removes and returns the oldest item.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T

		return zero, false
	}

	item := q.items[0]
	q.items[0] = *new(T)
	q.items = q.items[1:]

	return item, true
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
