// Package stream delivers live run events (tokens, display messages,
// step records) to a UI consumer. A Queue is created and owned by the
// caller of a run and injected into the engine and storage layers; there
// is no global per-session registry.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("stream: queue closed")

// Event kinds.
const (
	KindToken     = "token"
	KindTokenDone = "token_done"
	KindMessage   = "message"
	KindStep      = "step"
)

// Event is one unit of live delivery.
type Event struct {
	Kind string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Queue is an unbounded in-memory event queue. Producers never block;
// a single consumer drains with Next.
type Queue struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
	closed bool
}

// NewQueue returns an open queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an event. Pushes after Close are dropped.
func (q *Queue) Push(ev Event) {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.signal()
}

// Next blocks until an event is available, the queue is closed and
// drained, or ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports the number of undelivered events.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close marks the queue finished. Buffered events remain drainable.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
