package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/festboard/internal/domain/model"
)

func event(id string) Event {
	return model.ChannelEvent{ID: id, Channel: model.ChannelResults, Name: model.EventResultApproved}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, event("event1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "event1" {
		t.Errorf("expected event1, got %v", got.ID)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, event("event1")) || !q.Enqueue(ctx, event("event2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, event("event3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
	if c := q.Capacity(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}
}

func TestInMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !q.Enqueue(ctx, event(fmt.Sprintf("e-%03d", i))) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	i := 0
	for e := range q.Dequeue(ctx) {
		if want := fmt.Sprintf("e-%03d", i); e.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, e.ID)
		}
		i++
	}
	if i != 100 {
		t.Errorf("expected 100 drained events, got %d", i)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(ctx, event(fmt.Sprintf("p%d-%d", p, j)))
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 1000 {
		t.Errorf("expected 1000 events, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, event("late")) {
		t.Error("expected enqueue on a closed queue to fail")
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Error("expected dequeue channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel was not closed")
	}
}

func TestInMemoryQueue_DequeueStopsOnContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	out := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected no event after cancel")
		}
	case <-time.After(time.Second):
		t.Error("dequeue did not stop after cancel")
	}
}
