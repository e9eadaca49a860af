// Package queue holds the bounded FIFO that sits between the notifier and
// one subscriber.
//
// Enqueue never blocks: when the buffer is full the event is refused and the
// caller decides what a drop means.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 256
)

// Event represents the payload type flowing through the queue.
type Event = model.ChannelEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event to the queue.
	// Returns false if the queue is full or closed and the event was not enqueued.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel that will receive events in enqueue order.
	// The channel is closed once the queue is closed and drained, or ctx ends.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Close stops accepting events. Already queued events stay readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	// mu orders sends against close(events).
	mu     sync.RWMutex
	closed atomic.Bool

	// reported is the depth last added to the shared queue depth gauge.
	gaugeMu  sync.Mutex
	reported int
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)
	return q
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		return false
	}

	select {
	case q.events <- e:
		q.syncDepth()
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-q.events:
				if !ok {
					return
				}
				q.syncDepth()
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.events)
}

// Capacity returns the maximum number of queued events.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting events.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return nil
	}
	close(q.events)
	q.closed.Store(true)
	q.syncDepth()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	return q.closed.Load()
}

// syncDepth moves the shared depth gauge by this queue's change since the
// last report. A closed queue reports zero; leftovers are abandoned.
func (q *InMemoryQueue) syncDepth() {
	q.gaugeMu.Lock()
	defer q.gaugeMu.Unlock()

	cur := len(q.events)
	if q.closed.Load() {
		cur = 0
	}
	if delta := cur - q.reported; delta != 0 {
		metrics.AddQueueDepth(delta)
		q.reported = cur
	}
}
