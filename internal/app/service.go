// Package service is the festival scoring core: it records jury decisions,
// materializes the leaderboard and announces every change.
//
// Store mutations commit first; notifications follow and never undo or fail
// a committed transition.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/adapters/repository"
	"github.com/okian/festboard/internal/domain/leaderboard"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/internal/domain/types"
	"github.com/okian/festboard/pkg/logger"
	"github.com/okian/festboard/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultStoreTimeout     = 2 * time.Second
	defaultReadRetries      = 3
	defaultRetryBackoff     = 50 * time.Millisecond
	defaultSubscriberBuffer = 256
	defaultPublishTimeout   = time.Second
)

// Notifier is the change notifier the service publishes through.
type Notifier = broker.Notifier

// LeaderboardQuery selects a leaderboard view.
type LeaderboardQuery = types.LeaderboardQuery

// Service implements the core operations.
type Service struct {
	mu sync.RWMutex

	store      repository.ResultStore
	notifier   Notifier
	aggregator *leaderboard.Aggregator

	storeTimeout     time.Duration
	readRetries      int
	retryBackoff     time.Duration
	subscriberBuffer int
	publishTimeout   time.Duration

	started bool
	stopped bool
	logger  logger.Logger
}

// New constructs a Service. Components not supplied through options are
// created on Start: an in-memory store and an in-process hub.
func New(opts ...Option) *Service {
	s := &Service{
		aggregator:       leaderboard.New(),
		storeTimeout:     defaultStoreTimeout,
		readRetries:      defaultReadRetries,
		retryBackoff:     defaultRetryBackoff,
		subscriberBuffer: defaultSubscriberBuffer,
		publishTimeout:   defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes missing components. A stopped service has closed its
// store and cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory result store")
	}
	if s.notifier == nil {
		s.notifier = broker.NewHub(
			broker.WithBuffer(s.subscriberBuffer),
			broker.WithLogger(s.logger.Named("broker")),
		)
	}

	s.started = true
	s.logger.Info(ctx, "festboard service started",
		logger.Duration("storeTimeout", s.storeTimeout),
		logger.Int("readRetries", s.readRetries),
		logger.Int("subscriberBuffer", s.subscriberBuffer),
	)
	return nil
}

// Stop closes the notifier (when it can be closed) and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping festboard service...")

	var errs []error
	if closer, ok := s.notifier.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "festboard service stopped")
	return errors.Join(errs...)
}

// components returns the running store and notifier.
func (s *Service) components() (repository.ResultStore, Notifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.notifier, nil
}

// SubmitPlacement records a jury placement as pending.
func (s *Service) SubmitPlacement(ctx context.Context, r model.Record) (model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return model.Record{}, err
	}
	rec, err := s.write(ctx, "submit", func(ctx context.Context) (model.Record, error) {
		return store.Submit(ctx, r)
	})
	if err != nil {
		return model.Record{}, err
	}
	metrics.RecordResultTransition("submitted")
	s.notify(ctx, model.ChannelResults, model.EventResultSubmitted, rec)
	return rec, nil
}

// ApproveResult approves a pending record and announces the approval plus
// one scoreboard update per entity whose total or rank moved.
func (s *Service) ApproveResult(ctx context.Context, id string) (model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return model.Record{}, err
	}
	rec, err := s.write(ctx, "approve", func(ctx context.Context) (model.Record, error) {
		return store.Approve(ctx, id)
	})
	if err != nil {
		return model.Record{}, err
	}
	metrics.RecordResultTransition("approved")
	s.notify(ctx, model.ChannelResults, model.EventResultApproved, rec)
	s.announceScoreChanges(ctx, store, rec)
	return rec, nil
}

// announceScoreChanges compares the board with and without rec on one
// approved snapshot and publishes the rows that differ.
func (s *Service) announceScoreChanges(ctx context.Context, store repository.ResultStore, rec model.Record) {
	records, err := read(ctx, s, "list_approved", func(ctx context.Context) ([]model.Record, error) {
		return store.ListApproved(ctx, repository.Filter{})
	})
	if err != nil {
		s.logger.Warn(ctx, "scoreboard not announced", logger.String("record_id", rec.ID), logger.Error(err))
		return
	}

	prior := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.ID != rec.ID {
			prior = append(prior, r)
		}
	}
	if rec.Supersedes != "" {
		prev, err := read(ctx, s, "get", func(ctx context.Context) (model.Record, error) {
			return store.Get(ctx, rec.Supersedes)
		})
		if err == nil {
			prev.Status = model.StatusApproved
			prior = append(prior, prev)
		}
	}

	before := s.aggregator.Materialize(prior)
	after := s.aggregator.Materialize(records)
	for _, e := range leaderboard.Diff(before, after) {
		s.notify(ctx, model.ChannelScoreboard, model.EventScoreboardUpdated, types.ScoreUpdate{
			EntityID:   e.EntityID,
			EntityKind: e.EntityKind,
			NewTotal:   e.TotalScore,
			NewRank:    e.Rank,
		})
	}
}

// RejectResult rejects a pending record.
func (s *Service) RejectResult(ctx context.Context, id string) (model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return model.Record{}, err
	}
	rec, err := s.write(ctx, "reject", func(ctx context.Context) (model.Record, error) {
		return store.Reject(ctx, id)
	})
	if err != nil {
		return model.Record{}, err
	}
	metrics.RecordResultTransition("rejected")
	s.notify(ctx, model.ChannelResults, model.EventResultRejected, rec)
	return rec, nil
}

// CorrectResult opens a pending correction of an approved record. The
// original keeps counting until the correction is approved.
func (s *Service) CorrectResult(ctx context.Context, id string, c model.Correction) (model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return model.Record{}, err
	}
	rec, err := s.write(ctx, "correct", func(ctx context.Context) (model.Record, error) {
		return store.Correct(ctx, id, c)
	})
	if err != nil {
		return model.Record{}, err
	}
	metrics.RecordResultTransition("corrected")
	s.notify(ctx, model.ChannelResults, model.EventResultCorrected, rec)
	return rec, nil
}

// GetResult returns one record.
func (s *Service) GetResult(ctx context.Context, id string) (model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return model.Record{}, err
	}
	return read(ctx, s, "get", func(ctx context.Context) (model.Record, error) {
		return store.Get(ctx, id)
	})
}

// ListResults returns records matching f.
func (s *Service) ListResults(ctx context.Context, f repository.Filter) ([]model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return read(ctx, s, "list", func(ctx context.Context) ([]model.Record, error) {
		return store.List(ctx, f)
	})
}

// ListApproved returns approved records matching f.
func (s *Service) ListApproved(ctx context.Context, f repository.Filter) ([]model.Record, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return read(ctx, s, "list_approved", func(ctx context.Context) ([]model.Record, error) {
		return store.ListApproved(ctx, f)
	})
}

// GetLeaderboard materializes the board from a fresh approved snapshot.
func (s *Service) GetLeaderboard(ctx context.Context, q LeaderboardQuery) ([]types.Entry, error) {
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", model.ErrValidation)
	}
	board, err := s.materialize(ctx, q.Kind, q.AllEntities)
	if err != nil {
		return nil, err
	}
	return board.Top(q.Limit), nil
}

// GetRank returns the row of one entity on the combined board. Entities with
// records but no approved points rank with a zero total.
func (s *Service) GetRank(ctx context.Context, kind model.EntityKind, entityID string) (types.Entry, error) {
	if !kind.Valid() {
		return types.Entry{}, fmt.Errorf("%w: unknown entity_kind %q", model.ErrValidation, kind)
	}
	board, err := s.materialize(ctx, "", true)
	if err != nil {
		return types.Entry{}, err
	}
	entry, ok := board.Lookup(leaderboard.Ref{Kind: kind, ID: entityID})
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: %s %q", model.ErrNotFound, kind, entityID)
	}
	return entry, nil
}

func (s *Service) materialize(ctx context.Context, kind model.EntityKind, allEntities bool) (*leaderboard.Board, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity_kind %q", model.ErrValidation, kind)
	}

	start := time.Now()
	filter := repository.Filter{Kind: kind}
	opts := []leaderboard.Option{leaderboard.WithKind(kind)}

	// The all-entities view reads every record once; Materialize counts only
	// the approved ones, so totals and zero rows share one snapshot.
	op, list := "list_approved", store.ListApproved
	if allEntities {
		op, list = "list", store.List
	}
	records, err := read(ctx, s, op, func(ctx context.Context) ([]model.Record, error) {
		return list(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	if allEntities {
		refs := make([]leaderboard.Ref, 0, len(records))
		for _, r := range records {
			refs = append(refs, leaderboard.RefOf(r))
		}
		opts = append(opts, leaderboard.WithEntities(refs))
	}

	board := s.aggregator.Materialize(records, opts...)
	metrics.RecordMaterializeLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	metrics.UpdateLeaderboardEntries(board.Len())
	return board, nil
}

// Subscribe attaches sink to channels until ctx ends or the subscription is
// closed.
func (s *Service) Subscribe(ctx context.Context, sink broker.Sink, channels ...model.Channel) (*broker.Subscription, error) {
	_, notifier, err := s.components()
	if err != nil {
		return nil, err
	}
	sub, err := notifier.Subscribe(ctx, sink, channels...)
	if errors.Is(err, broker.ErrUnknownChannel) || errors.Is(err, broker.ErrNoChannels) {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return sub, err
}

// Announce publishes a caller-supplied event on one of the auxiliary
// channels. The results and scoreboard channels belong to the core.
func (s *Service) Announce(ctx context.Context, channel model.Channel, event string, payload any) (model.ChannelEvent, error) {
	_, notifier, err := s.components()
	if err != nil {
		return model.ChannelEvent{}, err
	}
	switch {
	case !channel.Valid():
		return model.ChannelEvent{}, fmt.Errorf("%w: unknown channel %q", model.ErrValidation, channel)
	case channel == model.ChannelResults || channel == model.ChannelScoreboard:
		return model.ChannelEvent{}, fmt.Errorf("%w: channel %q is reserved", model.ErrValidation, channel)
	case event == "":
		return model.ChannelEvent{}, fmt.Errorf("%w: missing event name", model.ErrValidation)
	}

	ev, err := notifier.Publish(ctx, channel, event, payload)
	if err != nil {
		return model.ChannelEvent{}, fmt.Errorf("%w: %w", model.ErrNotificationFailure, err)
	}
	return ev, nil
}

// AnnouncePrediction publishes a prediction-created event.
func (s *Service) AnnouncePrediction(ctx context.Context, payload any) (model.ChannelEvent, error) {
	return s.Announce(ctx, model.ChannelPredictions, model.EventPredictionCreated, payload)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"storeTimeoutMs":   s.storeTimeout.Milliseconds(),
		"readRetries":      s.readRetries,
		"subscriberBuffer": s.subscriberBuffer,
	}
	if st, ok := s.notifier.(interface{ Stats() broker.Stats }); ok && s.started {
		hs := st.Stats()
		stats["subscribers"] = hs.Subscribers
		stats["eventsPublished"] = hs.Published
		stats["eventsDropped"] = hs.Dropped
	}
	return stats
}

// notify publishes after a commit. The caller's cancellation does not
// suppress the event, but the publish itself is bounded. Failures are logged
// and swallowed.
func (s *Service) notify(ctx context.Context, channel model.Channel, event string, payload any) {
	_, notifier, err := s.components()
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if _, err := notifier.Publish(pubCtx, channel, event, payload); err != nil {
		s.logger.Warn(ctx, "notification failed",
			logger.String("channel", string(channel)),
			logger.String("event", event),
			logger.Error(fmt.Errorf("%w: %w", model.ErrNotificationFailure, err)),
		)
	}
}

// write runs one store mutation under the store timeout. Writes are not
// retried: a timed out write may still have committed.
func (s *Service) write(ctx context.Context, op string, fn func(context.Context) (model.Record, error)) (model.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := fn(callCtx)
	if err != nil {
		metrics.RecordResultError(op, errorKind(err))
		return model.Record{}, err
	}
	return rec, nil
}

// read runs an idempotent store read under the store timeout, retrying
// unavailable-store failures with doubling backoff.
func read[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		v, err := fn(callCtx)
		cancel()

		if err == nil {
			return v, nil
		}
		if !errors.Is(err, model.ErrStoreUnavailable) || attempt >= s.readRetries {
			metrics.RecordResultError(op, errorKind(err))
			return v, err
		}

		if ctx.Err() != nil {
			return v, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, ctx.Err())
		}

		metrics.RecordStoreRetry()
		s.logger.Debug(ctx, "retrying store read",
			logger.String("op", op),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

func validateFilter(f repository.Filter) error {
	if f.Kind != "" && !f.Kind.Valid() {
		return fmt.Errorf("%w: unknown entity_kind %q", model.ErrValidation, f.Kind)
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", model.ErrValidation, f.Status)
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
