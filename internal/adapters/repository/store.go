// Package repository defines the result store interface and its backends.
package repository

import (
	"context"
	"time"

	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/metrics"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ProgramID string
	EntityID  string
	Kind      model.EntityKind
	Status    model.Status
}

// Match reports whether r passes the filter.
func (f Filter) Match(r model.Record) bool {
	switch {
	case f.ProgramID != "" && r.ProgramID != f.ProgramID:
		return false
	case f.EntityID != "" && r.EntityID != f.EntityID:
		return false
	case f.Kind != "" && r.EntityKind != f.Kind:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	}
	return true
}

// ResultStore is the durable home of placement records.
//
// Approve and Reject are single conditional writes guarded by
// status = pending, so concurrent decisions on one record settle on exactly
// one terminal state and the loser gets model.ErrInvalidState.
type ResultStore interface {
	// Submit validates r and stores it as a pending version 1 record.
	Submit(ctx context.Context, r model.Record) (model.Record, error)

	// Approve moves a pending record to approved. Approving a correction
	// moves the record it supersedes to superseded in the same commit.
	Approve(ctx context.Context, id string) (model.Record, error)

	// Reject moves a pending record to rejected.
	Reject(ctx context.Context, id string) (model.Record, error)

	// Correct creates the next pending version of an approved record.
	Correct(ctx context.Context, id string, c model.Correction) (model.Record, error)

	// Get returns one record or model.ErrNotFound.
	Get(ctx context.Context, id string) (model.Record, error)

	// List returns matching records ordered by submission time.
	List(ctx context.Context, f Filter) ([]model.Record, error)

	// ListApproved is List with the status forced to approved. It returns
	// one consistent snapshot.
	ListApproved(ctx context.Context, f Filter) ([]model.Record, error)

	// Close releases backend resources.
	Close() error
}

// observe records the latency and outcome of one store call.
func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	metrics.RecordStoreLatency(op, outcome, float64(time.Since(start).Microseconds())/1000.0)
}

func prepareSubmit(r model.Record, id string, now time.Time) (model.Record, error) {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return model.Record{}, err
	}
	r.ID = id
	r.Status = model.StatusPending
	r.Version = 1
	r.Supersedes = ""
	r.SubmittedAt = now
	r.DecidedAt = nil
	r.ApprovedAt = nil
	return r, nil
}
