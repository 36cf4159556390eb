package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration
type Config struct {
	ServiceName  string `env:"SERVICE_NAME" envDefault:"payment-sessions-service"`
	Port         string `env:"PORT" envDefault:"8082"`
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`

	// MpinVerifyURL is the base URL of the upstream MPIN verification API.
	MpinVerifyURL     string        `env:"MPIN_VERIFY_URL" envDefault:"http://localhost:3002"`
	MpinVerifyTimeout time.Duration `env:"MPIN_VERIFY_TIMEOUT" envDefault:"10s"`
	MpinMaxAttempts   int           `env:"MPIN_MAX_ATTEMPTS" envDefault:"3"`
	MpinLockout       time.Duration `env:"MPIN_LOCKOUT" envDefault:"120s"`

	// Session delays were fixed sleeps in the mobile client; here they are
	// tunable. ReloadDelay debounces flaky reconnects before the checkout
	// view is reloaded. MaxPending of 0 disables session expiry.
	ReloadDelay      time.Duration `env:"SESSION_RELOAD_DELAY" envDefault:"1500ms"`
	BannerClearDelay time.Duration `env:"SESSION_BANNER_CLEAR_DELAY" envDefault:"2s"`
	MaxPending       time.Duration `env:"SESSION_MAX_PENDING" envDefault:"10m"`

	// SweepInterval and Retention govern how long terminal sessions stay
	// queryable before the janitor drops them.
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	Retention     time.Duration `env:"SESSION_RETENTION" envDefault:"15m"`

	// ProbeURL enables the server-side connectivity probe when non-empty.
	ProbeURL      string        `env:"CONNECTIVITY_PROBE_URL"`
	ProbeInterval time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"10s"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MpinMaxAttempts <= 0 {
		return nil, fmt.Errorf("MPIN_MAX_ATTEMPTS must be positive, got %d", cfg.MpinMaxAttempts)
	}
	return cfg, nil
}
