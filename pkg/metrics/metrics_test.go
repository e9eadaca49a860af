package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then its collectors register without clashing with the global manager", func() {
				So(manager, ShouldNotBeNil)
				manager.resultTransitions.WithLabelValues("approved").Inc()
				So(testutil.ToFloat64(manager.resultTransitions.WithLabelValues("approved")), ShouldEqual, 1)
			})
		})

		Convey("When two managers share one registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording result transitions", func() {
			before := testutil.ToFloat64(globalManager.resultTransitions.WithLabelValues("submitted"))
			RecordResultTransition("submitted")

			Convey("Then the counter increases by one", func() {
				after := testutil.ToFloat64(globalManager.resultTransitions.WithLabelValues("submitted"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When adjusting subscriber gauges", func() {
			before := testutil.ToFloat64(globalManager.subscribersActive)
			AddSubscribers(2)
			AddSubscribers(-1)

			Convey("Then the gauge tracks the net change", func() {
				So(testutil.ToFloat64(globalManager.subscribersActive)-before, ShouldEqual, 1)
			})
		})

		Convey("When recording notifier and store metrics", func() {
			So(func() {
				RecordEventPublished("results", "result-approved")
				RecordEventDelivered("results")
				RecordEventDropped("results", "queue_full")
				RecordDeliveryFailure("results")
				AddQueueDepth(1)
				AddQueueDepth(-1)
				RecordRelayMessage("out", "ok")
				RecordStoreLatency("approve", "ok", 1.5)
				RecordStoreRetry()
				RecordMaterializeLatency(0.4)
				UpdateLeaderboardEntries(3)
				RecordResultError("approve", "invalid_state")
				RecordHTTPRequest("leaderboard", "GET", "200")
				RecordHTTPRequestDuration("leaderboard", "GET", "200", 2)
			}, ShouldNotPanic)

			Convey("Then the registry can be gathered", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})
	})
}
