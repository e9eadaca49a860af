// Package relay shares channel events between instances over Redis pub/sub.
//
// Local publishes go to the local hub first and are then queued for Redis.
// A background deliverer drains that queue, so Publish never waits on the
// network. Remote envelopes from other instances are replayed into the local
// hub once per event id. Redis trouble is logged and never fails a publish.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/adapters/mq/queue"
	"github.com/okian/festboard/internal/adapters/mq/worker"
	"github.com/okian/festboard/internal/domain/dedupe"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/logger"
	"github.com/okian/festboard/pkg/metrics"
)

// Default relay configuration constants.
const (
	defaultChannel        = "festboard:events"
	defaultOutboundBuffer = 1024
	defaultPublishTimeout = 2 * time.Second
	defaultDrainTimeout   = 5 * time.Second
)

// ErrNoClient is returned by New without a Redis client.
var ErrNoClient = errors.New("relay: redis client is required")

// envelope is the wire form published to Redis.
type envelope struct {
	InstanceID string             `json:"instance_id"`
	Event      model.ChannelEvent `json:"event"`
}

// Relay is a broker.Notifier that also reaches other instances.
type Relay struct {
	hub        *broker.Hub
	client     Client
	channel    string
	instanceID string
	seen       dedupe.Deduper
	logger     logger.Logger

	outboundBuffer int
	publishTimeout time.Duration
	drainTimeout   time.Duration
	outbound       *queue.InMemoryQueue
	sender         *worker.Deliverer

	ctx    context.Context //nolint:containedctx // lifetime of the subscription loop
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ broker.Notifier = (*Relay)(nil)

// New subscribes to the relay channel and starts replaying remote events
// into hub.
func New(ctx context.Context, hub *broker.Hub, client Client, opts ...Option) (*Relay, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	r := &Relay{
		hub:        hub,
		client:     client,
		channel:    defaultChannel,
		instanceID: uuid.NewString(),
		logger:     logger.Get().Named("relay"),

		outboundBuffer: defaultOutboundBuffer,
		publishTimeout: defaultPublishTimeout,
		drainTimeout:   defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.seen == nil {
		r.seen = dedupe.NewInMemoryDeduper()
	}

	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	messages, err := client.Subscribe(r.ctx, r.channel)
	if err != nil {
		r.cancel()
		return nil, fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(messages)
	}()

	// The sender outlives r.ctx so Close can drain what is already queued.
	r.outbound = queue.NewInMemoryQueue(queue.WithCapacity(r.outboundBuffer))
	r.sender = worker.NewDeliverer(r.outbound, worker.SinkFunc(r.forward),
		worker.WithName("relay-outbound"),
		worker.WithLogger(r.logger),
		worker.WithDeliveryTimeout(r.publishTimeout),
		worker.WithoutDeliveryMetrics(),
	)
	go r.sender.Run(context.WithoutCancel(ctx))

	r.logger.Info(ctx, "relay started",
		logger.String("channel", r.channel),
		logger.String("instance_id", r.instanceID),
	)
	return r, nil
}

// InstanceID identifies this process on the relay channel.
func (r *Relay) InstanceID() string { return r.instanceID }

// Publish implements broker.Notifier. It returns once the local hub accepted
// the event; forwarding to Redis happens in the background.
func (r *Relay) Publish(ctx context.Context, channel model.Channel, event string, payload any) (model.ChannelEvent, error) {
	ev, err := r.hub.Publish(ctx, channel, event, payload)
	if err != nil {
		return model.ChannelEvent{}, err
	}
	r.seen.SeenAndRecord(ctx, ev.ID)

	if !r.outbound.Enqueue(ctx, ev) {
		metrics.RecordRelayMessage("out", "dropped")
		r.logger.Warn(ctx, "relay outbound queue full, event not forwarded",
			logger.String("event_id", ev.ID),
			logger.String("channel", string(ev.Channel)),
		)
	}
	return ev, nil
}

// forward sends one local event to Redis. Failures are counted and logged
// here, so the sender never sees an error.
func (r *Relay) forward(ctx context.Context, ev model.ChannelEvent) error { //nolint:gocritic // hugeParam: matches Sink
	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Event: ev})
	if err != nil {
		metrics.RecordRelayMessage("out", "error")
		r.logger.Warn(ctx, "relay encode failed", logger.String("event_id", ev.ID), logger.Error(err))
		return nil
	}
	if err := r.client.Publish(ctx, r.channel, string(data)); err != nil {
		metrics.RecordRelayMessage("out", "error")
		r.logger.Warn(ctx, "relay publish failed", logger.String("event_id", ev.ID), logger.Error(err))
		return nil
	}
	metrics.RecordRelayMessage("out", "ok")
	return nil
}

// Subscribe implements broker.Notifier.
func (r *Relay) Subscribe(ctx context.Context, sink broker.Sink, channels ...model.Channel) (*broker.Subscription, error) {
	return r.hub.Subscribe(ctx, sink, channels...)
}

// Stats returns the local hub counters.
func (r *Relay) Stats() broker.Stats {
	return r.hub.Stats()
}

func (r *Relay) loop(messages <-chan Message) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				r.logger.Error(r.ctx, "relay subscription error", logger.Error(msg.Err))
				continue
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		metrics.RecordRelayMessage("in", "malformed")
		r.logger.Warn(r.ctx, "relay message malformed", logger.Error(err))
		return
	}
	if env.InstanceID == r.instanceID {
		metrics.RecordRelayMessage("in", "self")
		return
	}
	if env.Event.ID == "" {
		metrics.RecordRelayMessage("in", "malformed")
		return
	}
	if r.seen.SeenAndRecord(r.ctx, env.Event.ID) {
		metrics.RecordRelayMessage("in", "duplicate")
		return
	}
	if err := r.hub.Dispatch(r.ctx, env.Event); err != nil {
		r.seen.Unrecord(r.ctx, env.Event.ID)
		metrics.RecordRelayMessage("in", "error")
		r.logger.Warn(r.ctx, "relay replay failed",
			logger.String("event_id", env.Event.ID),
			logger.String("from", env.InstanceID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordRelayMessage("in", "ok")
}

// Close drains the outbound queue for up to the drain timeout, stops the
// subscription loop and closes the Redis client. The hub is owned by the
// caller.
func (r *Relay) Close() error {
	var err error
	r.once.Do(func() {
		_ = r.outbound.Close()
		drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
		defer cancel()
		if derr := r.sender.Shutdown(drainCtx); derr != nil {
			r.logger.Warn(drainCtx, "relay outbound drain incomplete",
				logger.Int("pending", r.outbound.Len(drainCtx)),
				logger.Error(derr),
			)
		}

		r.cancel()
		r.wg.Wait()
		err = r.client.Close()
	})
	return err
}
