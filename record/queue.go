package record

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Queue is an unbounded, FIFO queue of Entries which is safe for use by
// many concurrent producers and a single consumer. Push never blocks.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
	signal  chan struct{} // Buffered; holds a token while entries are available.
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push an Entry to the Queue tail. It returns ErrQueueClosed if the
// Queue has been closed.
func (q *Queue) Push(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.entries = append(q.entries, e)
	q.notify()
	return nil
}

// Pop the Entry at the Queue head, blocking until one is available or |ctx|
// is done. Once the Queue is closed and drained, Pop returns ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) != 0 {
			var e = q.entries[0]
			q.entries[0] = nil
			q.entries = q.entries[1:]

			if len(q.entries) != 0 || q.closed {
				q.notify()
			}
			q.mu.Unlock()
			return e, nil
		} else if q.closed {
			q.notify()
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued Entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close the Queue. Queued Entries remain available to Pop.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notify()
}

// notify must be called with |mu| held.
func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default: // Already signaled.
	}
}

// ErrQueueClosed is returned by Push or Pop of a closed Queue.
var ErrQueueClosed = errors.New("queue closed")
