package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/domain/model"
	logging "github.com/okian/festboard/pkg/logger"
)

// fakePubSub fans every publish out to every subscriber, like one Redis
// channel shared by several instances.
type fakePubSub struct {
	mu      sync.Mutex
	subs    []chan Message
	failPub error
}

func (f *fakePubSub) client() *fakeClient { return &fakeClient{bus: f} }

func (f *fakePubSub) broadcast(channel, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s <- Message{Channel: channel, Payload: payload}
	}
}

type fakeClient struct {
	bus    *fakePubSub
	closed bool
}

func (c *fakeClient) Publish(_ context.Context, channel string, message any) error {
	if c.bus.failPub != nil {
		return c.bus.failPub
	}
	c.bus.broadcast(channel, message.(string))
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, _ ...string) (<-chan Message, error) {
	ch := make(chan Message, 64)
	c.bus.mu.Lock()
	c.bus.subs = append(c.bus.subs, ch)
	c.bus.mu.Unlock()
	return ch, nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type failingSubscribe struct{ fakeClient }

func (failingSubscribe) Subscribe(context.Context, ...string) (<-chan Message, error) {
	return nil, errors.New("connection refused")
}

type inbox struct {
	ch chan model.ChannelEvent
}

func newInbox() *inbox { return &inbox{ch: make(chan model.ChannelEvent, 16)} }

func (b *inbox) Deliver(_ context.Context, e model.ChannelEvent) error { //nolint:gocritic // hugeParam: matches Sink
	b.ch <- e
	return nil
}

func (b *inbox) next(t *testing.T) model.ChannelEvent {
	t.Helper()
	select {
	case e := <-b.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return model.ChannelEvent{}
	}
}

func (b *inbox) empty(t *testing.T) {
	t.Helper()
	select {
	case e := <-b.ch:
		t.Fatalf("unexpected event %s", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func setup(t *testing.T, bus *fakePubSub, id string) (*Relay, *broker.Hub) {
	t.Helper()
	hub := broker.NewHub()
	r, err := New(context.Background(), hub, bus.client(), WithInstanceID(id))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = hub.Close(context.Background())
	})
	return r, hub
}

func TestRelay_CrossInstance(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	ctx := context.Background()
	bus := &fakePubSub{}

	a, _ := setup(t, bus, "instance-a")
	b, _ := setup(t, bus, "instance-b")

	localA, remoteB := newInbox(), newInbox()
	_, err := a.Subscribe(ctx, localA, model.ChannelScoreboard)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, remoteB, model.ChannelScoreboard)
	require.NoError(t, err)

	ev, err := a.Publish(ctx, model.ChannelScoreboard, model.EventScoreboardUpdated,
		map[string]any{"entity_id": "S1", "new_total": 10})
	require.NoError(t, err)

	gotA := localA.next(t)
	gotB := remoteB.next(t)
	assert.Equal(t, ev.ID, gotA.ID)
	assert.Equal(t, ev.ID, gotB.ID)
	assert.JSONEq(t, string(ev.Payload), string(gotB.Payload))
	assert.True(t, ev.EmittedAt.Equal(gotB.EmittedAt))

	localA.empty(t)
	remoteB.empty(t)
}

func TestRelay_DropsRepeatedRemoteEvents(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	ctx := context.Background()
	bus := &fakePubSub{}
	r, _ := setup(t, bus, "instance-a")

	box := newInbox()
	_, err := r.Subscribe(ctx, box, model.ChannelResults)
	require.NoError(t, err)

	raw, err := json.Marshal(envelope{
		InstanceID: "instance-z",
		Event: model.ChannelEvent{
			ID:        "evt-1",
			Channel:   model.ChannelResults,
			Name:      model.EventResultApproved,
			Payload:   json.RawMessage(`{"id":"r-1"}`),
			EmittedAt: time.Now().UTC(),
		},
	})
	require.NoError(t, err)

	bus.broadcast(defaultChannel, string(raw))
	bus.broadcast(defaultChannel, string(raw))
	bus.broadcast(defaultChannel, "{not json")

	got := box.next(t)
	assert.Equal(t, "evt-1", got.ID)
	box.empty(t)
}

func TestRelay_RedisFailureDoesNotFailPublish(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	ctx := context.Background()
	bus := &fakePubSub{failPub: errors.New("redis down")}
	r, _ := setup(t, bus, "instance-a")

	box := newInbox()
	_, err := r.Subscribe(ctx, box, model.ChannelPredictions)
	require.NoError(t, err)

	ev, err := r.Publish(ctx, model.ChannelPredictions, model.EventPredictionCreated, map[string]string{"pick": "T1"})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, box.next(t).ID)
	assert.Equal(t, uint64(1), r.Stats().Published)
}

func TestRelay_New(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	hub := broker.NewHub()
	defer hub.Close(context.Background())

	_, err := New(context.Background(), hub, nil)
	assert.ErrorIs(t, err, ErrNoClient)

	_, err = New(context.Background(), hub, &failingSubscribe{})
	assert.Error(t, err)

	bus := &fakePubSub{}
	c := bus.client()
	r, err := New(context.Background(), hub, c, WithChannel("custom"))
	require.NoError(t, err)
	assert.NotEmpty(t, r.InstanceID())
	assert.Equal(t, "custom", r.channel)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, c.closed)
}

// stalledClient holds every Redis publish until release is closed or the
// publish context ends.
type stalledClient struct {
	fakeClient
	release chan struct{}
	mu      sync.Mutex
	sent    []string
}

func newStalledClient() *stalledClient {
	return &stalledClient{fakeClient: fakeClient{bus: &fakePubSub{}}, release: make(chan struct{})}
}

func (c *stalledClient) Publish(ctx context.Context, _ string, message any) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.sent = append(c.sent, message.(string))
	c.mu.Unlock()
	return nil
}

func (c *stalledClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestRelay_PublishDoesNotWaitForRedis(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	hub := broker.NewHub()
	defer hub.Close(context.Background())
	client := newStalledClient()
	r, err := New(context.Background(), hub, client, WithPublishTimeout(time.Minute))
	require.NoError(t, err)

	box := newInbox()
	_, err = r.Subscribe(context.Background(), box, model.ChannelResults)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := r.Publish(ctx, model.ChannelResults, model.EventResultSubmitted, map[string]int{"n": i})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		box.next(t)
	}
	assert.Equal(t, 0, client.sentCount())

	close(client.release)
	require.NoError(t, r.Close())
	assert.Equal(t, 5, client.sentCount())
	assert.True(t, client.closed)
}

func TestRelay_FullOutboundQueueDrops(t *testing.T) {
	require.NoError(t, logging.Init(logging.WithOutput(io.Discard)))
	hub := broker.NewHub()
	defer hub.Close(context.Background())
	client := newStalledClient()
	r, err := New(context.Background(), hub, client,
		WithOutboundBuffer(1),
		WithPublishTimeout(time.Minute),
		WithDrainTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 20; i++ {
		_, err := r.Publish(context.Background(), model.ChannelPredictions, model.EventPredictionCreated, i)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint64(20), r.Stats().Published)

	// At most one envelope is in flight and one waits in the queue; the
	// drain gives up on the stalled client.
	require.NoError(t, r.Close())
	assert.Equal(t, 0, client.sentCount())
}
