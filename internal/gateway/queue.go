package gateway

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO drained by one consumer. push never blocks, so
// it can be called from session callbacks, which run under the session lock.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{}, 1)}
}

// push appends v. It is a no-op after close.
func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting items. Items already queued are still drained.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain calls fn for every item in order until the queue is closed and
// empty, ctx ends, or fn returns an error.
func (q *queue[T]) drain(ctx context.Context, fn func(T) error) error {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, v := range items {
			if err := fn(v); err != nil {
				return err
			}
		}
		if closed && len(items) == 0 {
			return nil
		}
		if len(items) > 0 {
			continue
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
