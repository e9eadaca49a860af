// Package dedupe remembers recently seen event ids so a relayed event is
// fanned out at most once per instance.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50_000

// Deduper records seen event IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a later copy is processed again. Used when an
	// event was recorded but could not be dispatched.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// window is a bounded seen-set. Once full, the oldest id is forgotten first.
type window struct {
	mu   sync.Mutex
	seen map[string]int // id -> slot in ring
	ring []string
	next int // slot the next id is written to
	max  int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	w := &window{max: defaultMaxSize}
	for _, opt := range opts {
		opt(w)
	}
	w.seen = make(map[string]int, w.max)
	w.ring = make([]string, w.max)
	return w
}

// SeenAndRecord implements Deduper.
func (w *window) SeenAndRecord(_ context.Context, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	old := w.ring[w.next]
	if slot, ok := w.seen[old]; ok && slot == w.next {
		delete(w.seen, old)
	}
	w.ring[w.next] = id
	w.seen[id] = w.next
	w.next = (w.next + 1) % w.max
	return false
}

// Unrecord implements Deduper.
func (w *window) Unrecord(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot, ok := w.seen[id]
	if !ok {
		return
	}
	delete(w.seen, id)
	if w.ring[slot] == id {
		w.ring[slot] = ""
	}
}

// Size returns the current number of remembered ids.
func (w *window) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.seen))
}
