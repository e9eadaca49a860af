// Package broker fans channel events out to live subscribers.
//
// Every subscription owns a bounded queue drained by its own deliverer. A
// publish only enqueues, so a slow or failing subscriber never delays the
// publisher or any other subscriber. Publishes are serialized, so all
// subscribers of a channel observe the same order.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/festboard/internal/adapters/mq/queue"
	"github.com/okian/festboard/internal/adapters/mq/worker"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/logger"
	"github.com/okian/festboard/pkg/metrics"
)

// Sink receives events for one subscriber.
type Sink = worker.Sink

// SinkFunc adapts a function to Sink.
type SinkFunc = worker.SinkFunc

// ErrSinkClosed tells the hub to drop the subscription.
var ErrSinkClosed = worker.ErrSinkClosed

// Notifier publishes events and registers subscribers.
type Notifier interface {
	Publish(ctx context.Context, channel model.Channel, event string, payload any) (model.ChannelEvent, error)
	Subscribe(ctx context.Context, sink Sink, channels ...model.Channel) (*Subscription, error)
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Hub is the in-process Notifier.
type Hub struct {
	mu        sync.Mutex
	subs      map[uint64]*Subscription
	byChannel map[model.Channel]map[uint64]*Subscription
	nextID    uint64
	closed    bool

	published atomic.Uint64
	dropped   atomic.Uint64

	buffer          int
	deliveryTimeout time.Duration
	now             func() time.Time
	newID           func() string

	runCtx context.Context //nolint:containedctx // lifetime of all deliverers
	cancel context.CancelFunc
	logger logger.Logger
}

var _ Notifier = (*Hub)(nil)

// NewHub returns a running hub.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		subs:            make(map[uint64]*Subscription),
		byChannel:       make(map[model.Channel]map[uint64]*Subscription),
		buffer:          defaultBuffer,
		deliveryTimeout: defaultDeliveryTimeout,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
		runCtx:          ctx,
		cancel:          cancel,
		logger:          logger.Get().Named("broker"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish encodes payload once, stamps the event and enqueues it for every
// subscriber of channel. It returns once the event is accepted locally.
func (h *Hub) Publish(ctx context.Context, channel model.Channel, event string, payload any) (model.ChannelEvent, error) {
	if !channel.Valid() {
		return model.ChannelEvent{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	raw, err := encode(payload)
	if err != nil {
		return model.ChannelEvent{}, fmt.Errorf("%w: encode payload: %w", model.ErrNotificationFailure, err)
	}
	ev := model.ChannelEvent{
		ID:        h.newID(),
		Channel:   channel,
		Name:      event,
		Payload:   raw,
		EmittedAt: h.now(),
	}
	if err := h.Dispatch(ctx, ev); err != nil {
		return model.ChannelEvent{}, err
	}
	return ev, nil
}

// Dispatch fans out an already stamped event, e.g. one replayed from
// another instance.
func (h *Hub) Dispatch(ctx context.Context, ev model.ChannelEvent) error { //nolint:gocritic // hugeParam: fanned out by value
	if !ev.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ev.Channel)
	}
	enqueueCtx := context.WithoutCancel(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	h.published.Add(1)
	metrics.RecordEventPublished(string(ev.Channel), ev.Name)
	for _, sub := range h.byChannel[ev.Channel] {
		if sub.queue.Enqueue(enqueueCtx, ev) {
			continue
		}
		sub.dropped.Add(1)
		h.dropped.Add(1)
		metrics.RecordEventDropped(string(ev.Channel), "queue_full")
		h.logger.Warn(ctx, "subscriber queue full, event dropped",
			logger.String("event_id", ev.ID),
			logger.String("channel", string(ev.Channel)),
			logger.String("subscriber", sub.name),
			logger.Error(model.ErrNotificationFailure),
		)
	}
	return nil
}

// Subscribe registers sink for channels. The subscription ends when ctx is
// done, Close is called, or the sink returns ErrSinkClosed.
func (h *Hub) Subscribe(ctx context.Context, sink Sink, channels ...model.Channel) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	set := make(map[model.Channel]struct{}, len(channels))
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
		}
		set[ch] = struct{}{}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &Subscription{
		id:    h.nextID,
		name:  "sub-" + strconv.FormatUint(h.nextID, 10),
		hub:   h,
		queue: queue.NewInMemoryQueue(queue.WithCapacity(h.buffer)),
		done:  make(chan struct{}),
		chans: set,
	}
	sub.deliverer = worker.NewDeliverer(sub.queue, sink,
		worker.WithName(sub.name),
		worker.WithLogger(h.logger),
		worker.WithDeliveryTimeout(h.deliveryTimeout),
		worker.WithOnClose(func() { _ = sub.Close() }),
	)
	h.subs[sub.id] = sub
	for ch := range set {
		if h.byChannel[ch] == nil {
			h.byChannel[ch] = make(map[uint64]*Subscription)
		}
		h.byChannel[ch][sub.id] = sub
	}
	h.mu.Unlock()

	metrics.AddSubscribers(1)
	go sub.deliverer.Run(h.runCtx)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	h.logger.Debug(ctx, "subscriber registered",
		logger.String("subscriber", sub.name),
		logger.Int("channels", len(set)),
	)
	return sub, nil
}

// remove detaches a subscription; it reports false when already removed.
func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return false
	}
	delete(h.subs, sub.id)
	for ch := range sub.chans {
		delete(h.byChannel[ch], sub.id)
	}
	return true
}

// Stats returns subscriber and event counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close stops accepting publishes, lets every subscriber drain what it has
// queued and waits for that until ctx ends.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	defer h.cancel()
	var firstErr error
	for _, sub := range subs {
		_ = sub.Close()
		if err := sub.deliverer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid raw payload")
		}
		return p, nil
	}
	return json.Marshal(payload)
}

// Subscription is one registered sink.
type Subscription struct {
	id        uint64
	name      string
	hub       *Hub
	queue     *queue.InMemoryQueue
	deliverer *worker.Deliverer
	chans     map[model.Channel]struct{}
	dropped   atomic.Uint64

	once sync.Once
	done chan struct{}
}

// ID returns the hub-local subscription id.
func (s *Subscription) ID() uint64 { return s.id }

// Dropped returns how many events this subscriber lost to a full queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Events already queued are still delivered.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.hub.remove(s) {
			metrics.AddSubscribers(-1)
		}
		_ = s.queue.Close()
		close(s.done)
	})
	return nil
}
