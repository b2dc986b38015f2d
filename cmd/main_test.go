package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/admit/internal/adapters/http/api"
	app "github.com/okian/admit/internal/app"
	"github.com/okian/admit/internal/config"
	"github.com/okian/admit/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given ADMIT_* environment overrides", t, func() {
		_ = os.Setenv("ADMIT_ADDR", ":8181")
		_ = os.Setenv("ADMIT_PROMOTION_WORKERS", "3")
		_ = os.Setenv("ADMIT_WAITLIST_PLACEMENT", "shift")
		defer func() {
			_ = os.Unsetenv("ADMIT_ADDR")
			_ = os.Unsetenv("ADMIT_PROMOTION_WORKERS")
			_ = os.Unsetenv("ADMIT_WAITLIST_PLACEMENT")
		}()

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
			convey.So(cfg.PromotionWorkers, convey.ShouldEqual, 3)
			convey.So(cfg.WaitlistPlacement, convey.ShouldEqual, config.PlacementShift)
		})
	})

	convey.Convey("Given an unknown store backend", t, func() {
		_ = os.Setenv("ADMIT_STORE", "cassandra")
		defer func() { _ = os.Unsetenv("ADMIT_STORE") }()

		convey.Convey("Then configuration loading should fail", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestMainWiring(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.PromotionWorkers = 2

		store, err := openStore(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		convey.So(store.Backend(), convey.ShouldEqual, "memory")

		svc := newService(cfg, store, logger.Get())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		ts := httptest.NewServer(newHTTPServer(cfg.Addr, api.NewServer(svc, svc).Routes(ctx)).Handler)
		defer ts.Close()

		convey.Convey("When an event is created and someone RSVPs over HTTP", func() {
			resp, err := http.Post(ts.URL+"/events", "application/json", strings.NewReader(`{"id":"launch","name":"Launch","capacity":2}`))
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)

			resp, err = http.Post(ts.URL+"/events/launch/attendees", "application/json", strings.NewReader(`{"subject_id":"u1","status":"confirmed"}`))
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()

			convey.Convey("Then the record is created and the counter moves", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)
				event, err := svc.GetEvent(ctx, "launch")
				convey.So(err, convey.ShouldBeNil)
				convey.So(event.ConfirmedCount, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the service metrics are refreshed", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			convey.So(svc.GetStats()["workerCount"], convey.ShouldEqual, 2)
		})
	})

	convey.Convey("Given a server built from config", t, func() {
		srv := newHTTPServer(":0", http.NotFoundHandler())

		convey.Convey("Then the timeouts are set", func() {
			convey.So(srv.ReadTimeout, convey.ShouldEqual, readTimeout)
			convey.So(srv.WriteTimeout, convey.ShouldEqual, writeTimeout)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})
	})
}

func TestMainMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("Then the system updater returns when its context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		})

		convey.Convey("And the service updater returns when its context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			convey.So(func() { startServiceMetricsUpdater(ctx, app.New()) }, convey.ShouldNotPanic)
		})

		convey.Convey("And a one-off system update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("And an unstarted service can be sampled", func() {
			convey.So(func() { updateServiceMetrics(app.New()) }, convey.ShouldNotPanic)
		})
	})
}
