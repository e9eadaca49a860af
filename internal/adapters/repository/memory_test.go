package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/festboard/internal/domain/model"
)

func TestMemoryStore_Options(t *testing.T) {
	Convey("Given a memory store with a fixed clock and sequential ids", t, func() {
		fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		n := 0
		s := NewMemoryStore(
			WithClock(func() time.Time { return fixed }),
			WithIDGenerator(func() string { n++; return fmt.Sprintf("r-%d", n) }),
		)
		ctx := context.Background()

		Convey("When a placement is submitted and approved", func() {
			r, err := s.Submit(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))
			So(err, ShouldBeNil)
			approved, err := s.Approve(ctx, r.ID)
			So(err, ShouldBeNil)

			Convey("Then the injected id and clock are used", func() {
				So(r.ID, ShouldEqual, "r-1")
				So(r.SubmittedAt, ShouldEqual, fixed)
				So(*approved.ApprovedAt, ShouldEqual, fixed)
				So(*approved.DecidedAt, ShouldEqual, fixed)
			})
		})

		Convey("When a caller mutates a returned record", func() {
			r, _ := s.Submit(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))
			list, _ := s.List(ctx, Filter{})
			list[0].Status = model.StatusApproved

			Convey("Then the stored record is unchanged", func() {
				got, err := s.Get(ctx, r.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusPending)
			})
		})

		Convey("When the caller supplies status and version on submit", func() {
			in := placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA)
			in.Status = model.StatusApproved
			in.Version = 7
			in.ID = "chosen"
			r, err := s.Submit(ctx, in)

			Convey("Then the store overrides them", func() {
				So(err, ShouldBeNil)
				So(r.ID, ShouldEqual, "r-1")
				So(r.Status, ShouldEqual, model.StatusPending)
				So(r.Version, ShouldEqual, 1)
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.Submit(ctx, placement("S1", model.KindStudent, model.EventSingle, 1, model.GradeA))

			Convey("Then calls report store unavailable", func() {
				So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestWhere(t *testing.T) {
	Convey("Given filters", t, func() {
		Convey("An empty filter renders no clause", func() {
			clause, args := where(Filter{}, questionMark)
			So(clause, ShouldBeEmpty)
			So(args, ShouldBeEmpty)
		})

		Convey("Postgres placeholders are numbered in order", func() {
			clause, args := where(Filter{EntityID: "S1", Status: model.StatusApproved}, dollar)
			So(clause, ShouldEqual, " WHERE entity_id = $1 AND status = $2")
			So(args, ShouldResemble, []any{"S1", "approved"})
		})

		Convey("SQLite placeholders are positional", func() {
			clause, _ := where(Filter{ProgramID: "p", Kind: model.KindTeam}, questionMark)
			So(clause, ShouldEqual, " WHERE program_id = ? AND entity_kind = ?")
		})
	})
}

func TestClassify(t *testing.T) {
	Convey("Given backend errors", t, func() {
		So(classify("x", nil), ShouldBeNil)
		So(errors.Is(classify("x", context.DeadlineExceeded), model.ErrStoreUnavailable), ShouldBeTrue)
		So(errors.Is(classify("x", context.DeadlineExceeded), context.DeadlineExceeded), ShouldBeTrue)

		nf := fmt.Errorf("%w: r-1", model.ErrNotFound)
		So(classify("x", nf), ShouldEqual, nf)
		So(errorKind(nf), ShouldEqual, "not_found")
		So(errorKind(errors.New("boom")), ShouldEqual, "unavailable")
	})
}
