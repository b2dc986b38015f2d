package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/admit/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"*"})
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.RetryMaxAttempts, convey.ShouldEqual, 2)
			convey.So(cfg.PromotionEnabled, convey.ShouldBeTrue)
			convey.So(cfg.PromotionWorkers, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.WaitlistPlacement, convey.ShouldEqual, config.PlacementAppend)
			convey.So(cfg.DefaultTier, convey.ShouldEqual, "standard")
			convey.So(cfg.TierDivisors["standard"], convey.ShouldEqual, 1)
		})

		convey.Convey("Then millisecond fields convert to durations", func() {
			convey.So(cfg.RetryMinBackoff(), convey.ShouldEqual, 5*time.Millisecond)
			convey.So(cfg.RetryMaxBackoff(), convey.ShouldEqual, 50*time.Millisecond)
			convey.So(cfg.TierLookupTimeout(), convey.ShouldEqual, 200*time.Millisecond)
		})

		convey.Convey("Then the defaults validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Addr = "" }},
		{"unknown store", func(c *config.Config) { c.Store = "redis" }},
		{"postgres without dsn", func(c *config.Config) { c.Store = config.StorePostgres }},
		{"unknown placement", func(c *config.Config) { c.WaitlistPlacement = "random" }},
		{"zero attempts", func(c *config.Config) { c.RetryMaxAttempts = 0 }},
		{"inverted backoff", func(c *config.Config) { c.RetryMinBackoffMS, c.RetryMaxBackoffMS = 10, 5 }},
		{"zero divisor", func(c *config.Config) { c.TierDivisors = map[string]int{"gold": 0} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := config.New()
		cfg.Store = config.StorePostgres
		cfg.PostgresDSN = "postgres://localhost/admit"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
