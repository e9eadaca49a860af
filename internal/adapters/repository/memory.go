package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/festboard/internal/domain/model"
)

// MemoryStore keeps records in process memory. Every read returns copies,
// so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.Record
	order   []string
	closed  bool
	opts    options
}

var _ ResultStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.Record),
		opts:    applyOptions(opts),
	}
}

// Submit implements ResultStore.
func (s *MemoryStore) Submit(ctx context.Context, r model.Record) (out model.Record, err error) {
	defer func(start time.Time) { observe("submit", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return model.Record{}, classify("submit", err)
	}

	r, err = prepareSubmit(r, s.opts.newID(), s.opts.now())
	if err != nil {
		return model.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Record{}, classify("submit", ErrClosed)
	}
	s.records[r.ID] = r
	s.order = append(s.order, r.ID)
	return r, nil
}

// Approve implements ResultStore.
func (s *MemoryStore) Approve(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("approve", start, err) }(time.Now())
	return s.decide(ctx, "approve", id, model.StatusApproved)
}

// Reject implements ResultStore.
func (s *MemoryStore) Reject(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("reject", start, err) }(time.Now())
	return s.decide(ctx, "reject", id, model.StatusRejected)
}

func (s *MemoryStore) decide(ctx context.Context, op, id string, to model.Status) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, classify(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Record{}, classify(op, ErrClosed)
	}

	r, ok := s.records[id]
	if !ok || r.Status != model.StatusPending {
		return model.Record{}, decisionError(id, r, ok)
	}

	now := s.opts.now()
	r.Status = to
	r.DecidedAt = &now
	if to == model.StatusApproved {
		r.ApprovedAt = &now
		if r.Supersedes != "" {
			if prev, ok := s.records[r.Supersedes]; ok && prev.Status == model.StatusApproved {
				prev.Status = model.StatusSuperseded
				s.records[prev.ID] = prev
			}
		}
	}
	s.records[id] = r
	return r, nil
}

// Correct implements ResultStore.
func (s *MemoryStore) Correct(ctx context.Context, id string, c model.Correction) (out model.Record, err error) {
	defer func(start time.Time) { observe("correct", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return model.Record{}, classify("correct", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Record{}, classify("correct", ErrClosed)
	}

	prev, ok := s.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if prev.Status != model.StatusApproved {
		return model.Record{}, fmt.Errorf("%w: only approved records can be corrected, %s is %s",
			model.ErrInvalidState, id, prev.Status)
	}
	for _, other := range s.records {
		if other.Supersedes == id && other.Status == model.StatusPending {
			return model.Record{}, fmt.Errorf("%w: %s already has an open correction %s",
				model.ErrInvalidState, id, other.ID)
		}
	}

	next, err := c.Apply(prev)
	if err != nil {
		return model.Record{}, err
	}
	next.ID = s.opts.newID()
	next.SubmittedAt = s.opts.now()
	s.records[next.ID] = next
	s.order = append(s.order, next.ID)
	return next, nil
}

// Get implements ResultStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return model.Record{}, classify("get", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Record{}, classify("get", ErrClosed)
	}
	r, ok := s.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return r, nil
}

// List implements ResultStore.
func (s *MemoryStore) List(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())
	return s.list(ctx, f)
}

// ListApproved implements ResultStore.
func (s *MemoryStore) ListApproved(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list_approved", start, err) }(time.Now())
	f.Status = model.StatusApproved
	return s.list(ctx, f)
}

func (s *MemoryStore) list(ctx context.Context, f Filter) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("list", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, classify("list", ErrClosed)
	}
	out := make([]model.Record, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close implements ResultStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
