package coordinator

import (
	"context"
	"sync"
)

// fifo is an unbounded single-consumer queue. Push never blocks, so it can be
// called from timer callbacks that hold other locks.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{signal: make(chan struct{}, 1)}
}

// push appends v. It reports false once the queue is closed.
func (q *fifo[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// pop blocks until an item is available, the queue is closed and drained, or
// ctx is done.
func (q *fifo[T]) pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// close stops further pushes. With discard set, queued items are removed and
// returned; otherwise the consumer drains them first.
func (q *fifo[T]) close(discard bool) []T {
	q.mu.Lock()
	q.closed = true
	var dropped []T
	if discard {
		dropped = q.items
		q.items = nil
	}
	q.mu.Unlock()
	q.wake()
	return dropped
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
