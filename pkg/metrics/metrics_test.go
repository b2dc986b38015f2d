package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

// findFamily gathers reg and returns the family with the given name.
func findFamily(reg *prometheus.Registry, name string) *dto.MetricFamily {
	families, err := reg.Gather()
	So(err, ShouldBeNil)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterWithLabel(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be enabled with the default refresh interval", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Enabled(), ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.RecordAdmission(OutcomeConfirmed)

			Convey("Then names and constant labels follow the options", func() {
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)
				f := findFamily(registry, "test_unit_admission_decisions_total")
				So(f, ShouldNotBeNil)
				So(counterWithLabel(f, "env", "test"), ShouldEqual, 1)
			})
		})

		Convey("When zero values are passed to options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithRefreshInterval(0),
				WithPrometheusRegistry(registry),
			)
			manager.RecordConflict()

			Convey("Then defaults are kept", func() {
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
				So(findFamily(registry, "admit_rsvp_tx_conflicts_total"), ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(WithPrometheusRegistry(registry))

		Convey("When admission outcomes are recorded", func() {
			manager.RecordAdmission(OutcomeConfirmed)
			manager.RecordAdmission(OutcomeConfirmed)
			manager.RecordAdmission(OutcomeWaitlisted)

			Convey("Then each outcome has its own series", func() {
				f := findFamily(registry, "admit_rsvp_admission_decisions_total")
				So(f, ShouldNotBeNil)
				So(counterWithLabel(f, "outcome", OutcomeConfirmed), ShouldEqual, 2)
				So(counterWithLabel(f, "outcome", OutcomeWaitlisted), ShouldEqual, 1)
			})
		})

		Convey("When promotion results are recorded", func() {
			manager.RecordPromotion("promoted")
			manager.RecordNotification("error")

			Convey("Then the labelled counters move", func() {
				So(counterWithLabel(findFamily(registry, "admit_rsvp_promotions_total"), "result", "promoted"), ShouldEqual, 1)
				So(counterWithLabel(findFamily(registry, "admit_rsvp_promotion_notifications_total"), "result", "error"), ShouldEqual, 1)
			})
		})

		Convey("When gauges are updated", func() {
			manager.UpdateQueueSize(7)
			manager.UpdateQueueCapacity(64)

			Convey("Then the last value wins", func() {
				f := findFamily(registry, "admit_rsvp_promotion_queue_size")
				So(f, ShouldNotBeNil)
				So(f.GetMetric()[0].GetGauge().GetValue(), ShouldEqual, 7)
			})
		})
	})

	Convey("Given a disabled manager", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(WithPrometheusRegistry(registry), WithMetricsEnabled(false))

		Convey("When recording", func() {
			manager.RecordAdmission(OutcomeConfirmed)
			manager.RecordConflict()

			Convey("Then nothing is observed", func() {
				So(findFamily(registry, "admit_rsvp_admission_decisions_total"), ShouldBeNil)
				f := findFamily(registry, "admit_rsvp_tx_conflicts_total")
				So(f, ShouldNotBeNil)
				So(f.GetMetric()[0].GetCounter().GetValue(), ShouldEqual, 0)
			})
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Then package helpers do not panic", func() {
			So(func() {
				RecordAdmission(OutcomeDeclined)
				RecordAdmissionLatency(3)
				RecordConflict()
				RecordRetry()
				RecordRetryExhausted()
				RecordCountClamp()
				RecordTierFallback("timeout")
				RecordWaitlistRenumber()
				RecordWaitlistRecalc()
				RecordReconciliation("corrected")
				RecordStoreTxLatency("memory", 0.2)
				RecordSignalEmitted()
				RecordSignalCoalesced()
				RecordQueueDropped()
				UpdateQueueSize(1)
				UpdateQueueCapacity(8)
				UpdateWorkerCount(2)
				RecordWorkerProcessingLatency(1)
				RecordPromotion("empty")
				RecordNotification("ok")
				RecordHTTPRequest("/events", "POST", "201")
				RecordHTTPRequestDuration("/events", "POST", "201", 2)
				RecordErrorByComponent("admission", "conflict")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes the recorded families", func() {
			RecordAdmission(OutcomeUnchanged)
			So(findFamily(GetRegistry(), "admit_rsvp_admission_decisions_total"), ShouldNotBeNil)
			So(RefreshInterval(), ShouldBeGreaterThan, 0)
		})
	})
}
