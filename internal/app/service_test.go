package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	service "github.com/okian/festboard/internal/app"
	"github.com/okian/festboard/internal/adapters/repository"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init(logger.WithOutput(io.Discard))
	if err != nil {
		panic(err)
	}
}

// flakyStore fails the first N reads or writes with an unavailable store.
type flakyStore struct {
	*repository.MemoryStore
	readFailures  atomic.Int32
	writeFailures atomic.Int32
	reads         atomic.Int32
	lists         atomic.Int32
	submits       atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: repository.NewMemoryStore()}
}

func (f *flakyStore) ListApproved(ctx context.Context, flt repository.Filter) ([]model.Record, error) {
	f.reads.Add(1)
	if f.readFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", model.ErrStoreUnavailable)
	}
	return f.MemoryStore.ListApproved(ctx, flt)
}

func (f *flakyStore) List(ctx context.Context, flt repository.Filter) ([]model.Record, error) {
	f.lists.Add(1)
	return f.MemoryStore.List(ctx, flt)
}

func (f *flakyStore) Submit(ctx context.Context, r model.Record) (model.Record, error) {
	f.submits.Add(1)
	if f.writeFailures.Add(-1) >= 0 {
		return model.Record{}, fmt.Errorf("%w: connection reset", model.ErrStoreUnavailable)
	}
	return f.MemoryStore.Submit(ctx, r)
}

func placement(entity string, kind model.EntityKind, et model.EventType, place int, grade model.Grade) model.Record {
	return model.Record{
		ProgramID:  "prog-" + entity,
		EntityID:   entity,
		EntityKind: kind,
		Placement:  place,
		Grade:      grade,
		EventType:  et,
	}
}

func startService(opts ...service.Option) (*service.Service, func()) {
	svc := service.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	So(svc.Start(ctx), ShouldBeNil)
	return svc, func() {
		_ = svc.Stop(ctx)
		cancel()
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["readRetries"], ShouldEqual, 3)
			So(stats["subscriberBuffer"], ShouldEqual, 256)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithStoreTimeout(time.Second),
			service.WithReadRetries(5),
			service.WithRetryBackoff(time.Millisecond),
			service.WithSubscriberBuffer(16),
		)

		Convey("Then the options should be applied", func() {
			stats := svc.GetStats()
			So(stats["storeTimeoutMs"], ShouldEqual, int64(1000))
			So(stats["readRetries"], ShouldEqual, 5)
			So(stats["subscriberBuffer"], ShouldEqual, 16)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Operations before Start fail", func() {
			_, err := svc.SubmitPlacement(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))
			So(err, ShouldEqual, service.ErrNotStarted)
			_, err = svc.GetLeaderboard(ctx, service.LeaderboardQuery{})
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Start is idempotent and Stop marks it stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["subscribers"], ShouldEqual, 0)

			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)

			_, err := svc.GetResult(ctx, "r-1")
			So(err, ShouldEqual, service.ErrNotStarted)

			Convey("A stopped service refuses to start again", func() {
				So(svc.Start(ctx), ShouldEqual, service.ErrStopped)
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, err := svc.GetLeaderboard(ctx, service.LeaderboardQuery{})
				So(err, ShouldEqual, service.ErrNotStarted)
			})
		})
	})
}

func TestService_Validation(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, stop := startService()
		defer stop()
		ctx := context.Background()

		Convey("Malformed placements are rejected", func() {
			_, err := svc.SubmitPlacement(ctx, placement("S1", model.KindStudent, model.EventSingle, 4, model.GradeA))
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("Unknown records are not found", func() {
			_, err := svc.ApproveResult(ctx, "missing")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			_, err = svc.GetResult(ctx, "missing")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Leaderboard queries are checked", func() {
			_, err := svc.GetLeaderboard(ctx, service.LeaderboardQuery{Kind: "club"})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.GetLeaderboard(ctx, service.LeaderboardQuery{Limit: -1})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("List filters are checked", func() {
			_, err := svc.ListResults(ctx, repository.Filter{Status: "lost"})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.ListApproved(ctx, repository.Filter{Kind: "club"})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("Announcements need an auxiliary channel and an event name", func() {
			_, err := svc.Announce(ctx, model.ChannelResults, "result-approved", nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.Announce(ctx, model.ChannelScoreboard, "scoreboard-updated", nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.Announce(ctx, "gossip", "x", nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.Announce(ctx, model.ChannelAssignments, "", nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("Subscriptions need known channels", func() {
			sink := newInbox()
			_, err := svc.Subscribe(ctx, sink)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			_, err = svc.Subscribe(ctx, sink, "gossip")
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestService_StoreRetries(t *testing.T) {
	Convey("Given a service over a flaky store", t, func() {
		store := newFlakyStore()
		svc, stop := startService(
			service.WithStore(store),
			service.WithReadRetries(3),
			service.WithRetryBackoff(time.Millisecond),
		)
		defer stop()
		ctx := context.Background()

		Convey("Reads recover from transient failures", func() {
			store.readFailures.Store(2)
			rows, err := svc.GetLeaderboard(ctx, service.LeaderboardQuery{})
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
			So(store.reads.Load(), ShouldEqual, 3)
		})

		Convey("Reads give up after the retry budget", func() {
			store.readFailures.Store(10)
			_, err := svc.ListApproved(ctx, repository.Filter{})
			So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
			So(store.reads.Load(), ShouldEqual, 4)
		})

		Convey("Writes are attempted once", func() {
			store.writeFailures.Store(1)
			_, err := svc.SubmitPlacement(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))
			So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
			So(store.submits.Load(), ShouldEqual, 1)

			rows, err := svc.ListResults(ctx, repository.Filter{})
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("The all-entities view is built from a single read", func() {
			approved, err := svc.SubmitPlacement(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))
			So(err, ShouldBeNil)
			_, err = svc.ApproveResult(ctx, approved.ID)
			So(err, ShouldBeNil)
			_, err = svc.SubmitPlacement(ctx, placement("S2", model.KindStudent, model.EventSingle, 2, model.GradeNone))
			So(err, ShouldBeNil)
			store.reads.Store(0)
			store.lists.Store(0)

			rows, err := svc.GetLeaderboard(ctx, service.LeaderboardQuery{AllEntities: true})
			So(err, ShouldBeNil)
			So(store.lists.Load(), ShouldEqual, 1)
			So(store.reads.Load(), ShouldEqual, 0)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].EntityID, ShouldEqual, "S1")
			So(rows[0].TotalScore, ShouldEqual, 10)
			So(rows[1].EntityID, ShouldEqual, "S2")
			So(rows[1].TotalScore, ShouldEqual, 0)
		})

		Convey("A cancelled caller stops retrying", func() {
			store.readFailures.Store(10)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := svc.ListApproved(cctx, repository.Filter{})
			So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
			So(store.reads.Load(), ShouldBeLessThanOrEqualTo, 1)
		})
	})
}
