// Package worker drains one subscriber's queue into its sink.
//
// A Deliverer is the only reader of its queue, so the sink observes events
// in enqueue order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/logger"
	"github.com/okian/festboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultDeliveryTimeout = 5 * time.Second
)

// ErrSinkClosed is returned by a Sink whose consumer went away. The
// deliverer stops and reports the closure instead of retrying.
var ErrSinkClosed = errors.New("sink closed")

// Event abstracts what deliverers read off the queue.
type Event = model.ChannelEvent

// Sink receives events for one subscriber.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

// Queue defines how deliverers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker runs until its queue is drained or it is shut down.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for the worker to drain its closed queue, forcing a
	// stop when ctx ends first.
	Shutdown(ctx context.Context) error
}

// Deliverer implements Worker for one subscriber.
type Deliverer struct {
	queue   Queue
	sink    Sink
	name    string
	timeout time.Duration
	onClose func()
	record  bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	logger logger.Logger
}

var _ Worker = (*Deliverer)(nil)

// NewDeliverer creates a deliverer with configuration options.
func NewDeliverer(queue Queue, sink Sink, opts ...Option) *Deliverer {
	d := &Deliverer{
		queue:   queue,
		sink:    sink,
		name:    "deliverer",
		timeout: defaultDeliveryTimeout,
		record:  true,
		done:    make(chan struct{}),
		logger:  logger.Get().Named("deliverer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.name != "deliverer" {
		d.logger = d.logger.With(logger.String("subscriber", d.name))
	}
	return d
}

// Run starts the delivery loop.
func (d *Deliverer) Run(ctx context.Context) {
	defer close(d.done)

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	for event := range d.queue.Dequeue(runCtx) {
		if err := d.deliver(runCtx, event); err != nil {
			if errors.Is(err, ErrSinkClosed) {
				d.logger.Info(runCtx, "sink closed, stopping delivery")
				if d.onClose != nil {
					d.onClose()
				}
				return
			}
			d.logger.Warn(runCtx, "event delivery failed",
				logger.String("event_id", event.ID),
				logger.String("channel", string(event.Channel)),
				logger.Error(err),
			)
		}
	}
}

// Done is closed when Run returns.
func (d *Deliverer) Done() <-chan struct{} {
	return d.done
}

// Shutdown waits for Run to return.
func (d *Deliverer) Shutdown(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.cancel != nil {
			d.cancel()
		}
		d.mu.Unlock()
		d.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// deliver hands a single event to the sink.
func (d *Deliverer) deliver(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, event); err != nil {
		if d.record && !errors.Is(err, ErrSinkClosed) {
			metrics.RecordDeliveryFailure(string(event.Channel))
		}
		return fmt.Errorf("%w: event %s: %w", model.ErrNotificationFailure, event.ID, err)
	}
	if d.record {
		metrics.RecordEventDelivered(string(event.Channel))
	}
	return nil
}
