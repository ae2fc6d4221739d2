// Package queue provides a bounded-concurrency admission gate with FIFO
// fairness. At most maxConcurrent tasks run at once; excess callers wait in
// arrival order until a running task completes.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Acquire after the queue has been closed.
var ErrClosed = errors.New("queue is closed")

// Queue is a FIFO admission gate. It is safe for concurrent use.
//
// A plain buffered-channel semaphore does not guarantee wakeup order for
// blocked senders, so waiters are tracked in an explicit list and admitted
// strictly in arrival order.
type Queue struct {
	mu      sync.Mutex
	max     int
	running int
	waiters []chan struct{}
	closed  bool
	done    chan struct{}
}

// New creates a queue admitting at most maxConcurrent concurrent holders.
func New(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		max:  maxConcurrent,
		done: make(chan struct{}),
	}
}

// Acquire blocks until the caller is admitted, ctx is done, or the queue is
// closed. Admission is FIFO among waiters. Every successful Acquire must be
// paired with Release.
func (q *Queue) Acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.running < q.max && len(q.waiters) == 0 {
		q.running++
		q.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	q.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		q.abandon(ready)
		return ctx.Err()
	case <-q.done:
		q.abandon(ready)
		return ErrClosed
	}
}

// Release frees a slot and admits the longest-waiting caller, if any.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running == 0 {
		return
	}
	q.running--
	q.admitNextLocked()
}

// Execute acquires a slot, runs fn, and releases the slot. It returns the
// admission error if the caller was never admitted, otherwise fn's error.
func (q *Queue) Execute(ctx context.Context, fn func() error) error {
	if err := q.Acquire(ctx); err != nil {
		return err
	}
	defer q.Release()
	return fn()
}

// Stats returns the number of running holders and queued waiters.
func (q *Queue) Stats() (running, waiting int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running, len(q.waiters)
}

// MaxConcurrent returns the configured concurrency bound.
func (q *Queue) MaxConcurrent() int {
	return q.max
}

// Close rejects all future Acquire calls and wakes pending waiters, whose
// Acquire returns ErrClosed. Slots already held remain valid until released.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// abandon unlinks a waiter that gave up. If the slot was granted between the
// wakeup and taking the lock, it is handed on instead of leaked.
func (q *Queue) abandon(ready chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-ready:
		// Slot was granted to us concurrently; pass it to the next waiter.
		q.running--
		q.admitNextLocked()
	default:
		q.removeWaiterLocked(ready)
	}
}

// admitNextLocked grants a free slot to the head waiter. Must be called with
// the mutex held.
func (q *Queue) admitNextLocked() {
	if q.running < q.max && len(q.waiters) > 0 {
		head := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.running++
		close(head)
	}
}

// removeWaiterLocked unlinks an abandoned waiter. Must be called with the
// mutex held.
func (q *Queue) removeWaiterLocked(target chan struct{}) {
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}
