package engine

import (
	"slices"
	"sync"

	"github.com/roach88/cascade/internal/ir"
)

// QueuedEvent is one pending dispatch: an event name addressed to a
// specific instance of a specific component.
type QueuedEvent struct {
	Target    ir.InstanceRef
	Event     string
	Payload   ir.Object
	FlowToken string
	// CauseID is the event id of the dispatch whose handler sent this event.
	// Empty for externally queued events.
	CauseID string

	propagated bool
}

// eventQueue is an unbounded FIFO of pending events.
//
// Cascades may enqueue arbitrarily many follow-on events, so the queue
// never blocks. Enqueue is safe from any goroutine; dequeuing only happens
// inside the dispatch loop.
type eventQueue struct {
	mu     sync.Mutex
	events []QueuedEvent
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]QueuedEvent, 0, 64),
	}
}

// Enqueue adds an event to the back of the queue.
func (q *eventQueue) Enqueue(e QueuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// PushFront puts an event back at the front of the queue.
func (q *eventQueue) PushFront(e QueuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = slices.Insert(q.events, 0, e)
}

// TryDequeue removes and returns the front event.
// Returns false if the queue is empty.
func (q *eventQueue) TryDequeue() (QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return QueuedEvent{}, false
	}

	e := q.events[0]

	// Zero the slot so the backing array does not pin payloads.
	q.events[0] = QueuedEvent{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Peek returns the front event without removing it.
func (q *eventQueue) Peek() (QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return QueuedEvent{}, false
	}
	return q.events[0], true
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the pending events in dispatch order.
func (q *eventQueue) Snapshot() []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedEvent, len(q.events))
	copy(out, q.events)
	return out
}

// Clear drops every pending event and returns how many were dropped.
func (q *eventQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	clear(q.events)
	q.events = q.events[:0]
	return n
}
