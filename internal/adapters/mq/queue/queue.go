// Package queue hands accepted profile ids from producers to the fetch worker.
//
// The queue is a bounded FIFO. Producers block while it is full, which is the
// only backpressure the pipeline has.
package queue

import (
	"context"
	"sync"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/metrics"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 10

// Queue is a bounded, blocking FIFO of profile ids.
type Queue struct {
	ids      chan model.ProfileID
	capacity int

	// stopping is closed first so blocked producers give up before the
	// channel itself is closed under the write lock.
	stopping chan struct{}
	mu       sync.RWMutex
	closed   bool
	once     sync.Once
}

// New creates a queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		capacity: DefaultCapacity,
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ids = make(chan model.ProfileID, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Submit appends id, blocking while the queue is full. It returns ErrStopped
// after Close and ctx.Err() if ctx ends first.
func (q *Queue) Submit(ctx context.Context, id model.ProfileID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrStopped
	}
	select {
	case q.ids <- id:
		metrics.UpdateQueueSize(len(q.ids))
		return nil
	case <-q.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the receive side of the buffer. It is closed once the queue
// is closed and everything queued before that has been received.
func (q *Queue) Dequeue() <-chan model.ProfileID {
	return q.ids
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	size := len(q.ids)
	metrics.UpdateQueueSize(size)
	return size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return q.capacity }

// Close refuses further submissions. Ids already queued stay receivable.
func (q *Queue) Close() error {
	q.once.Do(func() {
		close(q.stopping)

		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.ids)
	})
	return nil
}

// IsClosed reports whether Close has been called.
func (q *Queue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
