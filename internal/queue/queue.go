// Package queue holds pending telemetry events until a batch containing them
// is confirmed delivered.
package queue

import (
	"sync"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
)

// Queue is an unbounded FIFO of events, safe for concurrent use. Events are
// read with PeekBatch and only removed, as a head prefix, with RemoveFront.
type Queue struct {
	mu     sync.Mutex
	events []domain.Event
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends an event and returns the new length.
func (q *Queue) Enqueue(event domain.Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, event)
	return len(q.events)
}

// Size returns the number of pending events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// PeekBatch returns a copy of the first min(maxCount, Size()) events.
func (q *Queue) PeekBatch(maxCount int) []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max(maxCount, 0), len(q.events))
	batch := make([]domain.Event, n)
	copy(batch, q.events[:n])
	return batch
}

// RemoveFront drops the first min(count, Size()) events.
func (q *Queue) RemoveFront(count int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max(count, 0), len(q.events))
	if n == 0 {
		return
	}
	clear(q.events[:n])
	q.events = q.events[n:]
	if len(q.events) == 0 {
		q.events = nil
	}
}
