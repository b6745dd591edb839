package ingest

import "errors"

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
// Callers surface backpressure instead of blocking the transport.
var ErrQueueFull = errors.New("ingest queue full")

// Queue is the bounded in-memory event queue between the delivery surface
// and the worker pool. Safe for concurrent producers.
type Queue struct {
	ch       chan *Event
	capacity int
}

// NewQueue creates a bounded queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Event, capacity), capacity: capacity}
}

// Out returns the consumer side of the queue. Do not close it.
func (q *Queue) Out() <-chan *Event { return q.ch }

// Depth reports the number of queued events.
func (q *Queue) Depth() int { return len(q.ch) }

// TryEnqueue enqueues the event or fails fast with ErrQueueFull.
func (q *Queue) TryEnqueue(e *Event) error {
	select {
	case q.ch <- e:
		queueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		droppedTotal.Inc()
		return ErrQueueFull
	}
}
