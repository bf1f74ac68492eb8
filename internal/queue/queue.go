// Package queue buffers classified events between capture and transport.
package queue

import (
	"sync"

	"github.com/eapache/queue"

	"notification-relay/internal/models"
)

// DeliveryQueue is a FIFO of RelayEvents, safe for concurrent use.
//
// DrainBatch removes events as it returns them. Peek and Ack let a caller
// remove the head only after it has been delivered.
type DeliveryQueue struct {
	mu      sync.Mutex
	items   *queue.Queue
	maxSize int
	evicted int
}

// New creates a queue. maxSize <= 0 leaves it bounded only by memory;
// otherwise the oldest event is evicted when an enqueue would exceed it.
func New(maxSize int) *DeliveryQueue {
	return &DeliveryQueue{items: queue.New(), maxSize: maxSize}
}

// Enqueue appends ev. It reports whether an older event was evicted.
func (q *DeliveryQueue) Enqueue(ev models.RelayEvent) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && q.items.Length() >= q.maxSize {
		q.items.Remove()
		q.evicted++
		evicted = true
	}
	q.items.Add(ev)
	return evicted
}

// DrainBatch removes and returns up to maxCount events in FIFO order. It never
// blocks and returns an empty slice when the queue is empty.
func (q *DeliveryQueue) DrainBatch(maxCount int) []models.RelayEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Length()
	if maxCount < n {
		n = maxCount
	}
	if n <= 0 {
		return []models.RelayEvent{}
	}
	out := make([]models.RelayEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.items.Remove().(models.RelayEvent))
	}
	return out
}

// Peek returns the head without removing it.
func (q *DeliveryQueue) Peek() (models.RelayEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return models.RelayEvent{}, false
	}
	return q.items.Peek().(models.RelayEvent), true
}

// Ack removes the head if it is still the event with the given ID. It
// reports false if the head changed, e.g. after an eviction.
func (q *DeliveryQueue) Ack(ev models.RelayEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return false
	}
	if q.items.Peek().(models.RelayEvent).ID != ev.ID {
		return false
	}
	q.items.Remove()
	return true
}

// Len returns the number of queued events.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Evicted returns how many events were dropped to honor maxSize.
func (q *DeliveryQueue) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
