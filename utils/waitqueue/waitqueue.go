// Package waitqueue coalesces concurrent requests for the
// same key. The first goroutine to enqueue for a key does the
// work and every goroutine queued for that key receives the
// same result, in the order in which they enqueued.
package waitqueue

import (
	"sync"
)

// Result is delivered to every waiter of a key
type Result struct {
	Value string
	Err   error
}

// Queue is a set of keyed FIFOs of waiters
type Queue struct {
	mu      sync.Mutex
	pending map[string]*waiters
}

type waiters struct {
	queue []chan Result
}

// New creates an empty Queue
func New() *Queue {
	return &Queue{pending: map[string]*waiters{}}
}

// Enqueue adds a waiter for key. It returns true if no work
// was in progress for key, in which case the caller owns the
// work and must eventually call Dequeue for key.
func (q *Queue) Enqueue(key string) (<-chan Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan Result, 1)
	w, ok := q.pending[key]

	if !ok {
		w = &waiters{}
		q.pending[key] = w
	}

	w.queue = append(w.queue, ch)

	return ch, !ok
}

// Join adds a waiter for key only if work is already in
// progress for key. It returns false otherwise.
func (q *Queue) Join(key string) (<-chan Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.pending[key]

	if !ok {
		return nil, false
	}

	ch := make(chan Result, 1)
	w.queue = append(w.queue, ch)

	return ch, true
}

// Start marks work as in progress for key without adding
// a waiter. It returns false if work was already in progress.
func (q *Queue) Start(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[key]; ok {
		return false
	}

	q.pending[key] = &waiters{}

	return true
}

// Dequeue ends the work in progress for key and delivers
// result to every waiter. It returns the number of waiters
// that were resolved.
func (q *Queue) Dequeue(key string, result Result) int {
	q.mu.Lock()
	w, ok := q.pending[key]
	delete(q.pending, key)
	q.mu.Unlock()

	if !ok {
		return 0
	}

	return w.resolve(result)
}

// Resolve delivers result to every waiter currently queued
// for key without ending the work in progress. Waiters that
// enqueue afterwards wait for the next Resolve or Dequeue.
func (q *Queue) Resolve(key string, result Result) int {
	q.mu.Lock()
	w, ok := q.pending[key]

	if !ok {
		q.mu.Unlock()

		return 0
	}

	resolved := &waiters{queue: w.queue}
	w.queue = nil
	q.mu.Unlock()

	return resolved.resolve(result)
}

// InProgress returns true if work is in progress for key
func (q *Queue) InProgress(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.pending[key]

	return ok
}

// Waiting returns the number of waiters queued for key
func (q *Queue) Waiting(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.pending[key]

	if !ok {
		return 0
	}

	return len(w.queue)
}

// Len returns the number of keys with work in progress
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (w *waiters) resolve(result Result) int {
	for _, ch := range w.queue {
		ch <- result
	}

	return len(w.queue)
}
