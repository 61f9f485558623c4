// Package worker provides a strictly serial task queue: tasks run one at a time, in
// the order they were posted, on a single goroutine.
package worker

import (
	"sync"
)

// Task is a unit of work. A task always runs to completion once dequeued.
type Task func()

// Queue is an unbounded FIFO with exactly one consumer. Post never blocks.
type Queue struct {
	mu      sync.Mutex
	pending []Task
	running bool
	closed  bool

	// idle is signalled whenever a task finishes.
	idle *sync.Cond

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// New starts a queue and its consumer goroutine.
func New() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Post appends t to the queue. It returns false if the queue is closed.
func (q *Queue) Post(t Task) bool {
	if q == nil || t == nil {
		return false
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, t)
	// wake is closed under mu, so the send cannot race with Close.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// Busy reports whether a task is running or waiting to run.
func (q *Queue) Busy() bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.pending) > 0
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush blocks until every task posted before the call has run and the worker is idle.
// It returns false if the queue was closed first.
func (q *Queue) Flush() bool {
	reached := make(chan struct{})
	if !q.Post(func() { close(reached) }) {
		return false
	}
	select {
	case <-reached:
	case <-q.done:
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
	return true
}

// Close discards every pending task, waits for the running task to finish, and stops
// the consumer. It is idempotent.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		close(q.wake)
		q.mu.Unlock()
	})
	<-q.done
}

func (q *Queue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if q.closed || len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			t := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.running = true
			q.mu.Unlock()

			t()

			q.mu.Lock()
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
		}
	}
}
