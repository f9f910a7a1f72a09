// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Durations are expressed in milliseconds in files and env vars and
//     exposed as time.Duration through accessor methods.
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - External errors are wrapped with this package's sentinel errors.
package config

import (
	"time"
)

// Config contains process configuration for both the settlement server and
// the device client.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabasePath is the SQLite DSN of the settlement store.
	DatabasePath string `koanf:"database_path"`

	// GatewaySecret is the shared secret of the payment gateway. An empty
	// secret makes every settlement fail as misconfigured.
	GatewaySecret string `koanf:"gateway_secret"`

	// RetryCeiling caps client retries of a failed payment attempt.
	RetryCeiling int `koanf:"retry_ceiling"`

	// AnalyticsTTLMS is the freshness window of cached analytics.
	AnalyticsTTLMS int `koanf:"analytics_ttl_ms"`

	// AnalyticsStaleWindowMS is how long past its TTL an aggregate may
	// still be served while it is recomputed.
	AnalyticsStaleWindowMS int `koanf:"analytics_stale_window_ms"`

	// BreakerFailureThreshold trips the analytics breaker after this many
	// consecutive failures; BreakerResetMS is how long it stays open.
	BreakerFailureThreshold int `koanf:"breaker_failure_threshold"`
	BreakerResetMS          int `koanf:"breaker_reset_ms"`

	// BreakerSlowCallMS counts successful but slower analytics queries as
	// breaker failures.
	BreakerSlowCallMS int `koanf:"breaker_slow_call_ms"`

	// QueuePath is the device-local offline queue database file.
	QueuePath string `koanf:"queue_path"`

	// QueueMaxAttempts is the replay ceiling of a queued action.
	QueueMaxAttempts int `koanf:"queue_max_attempts"`

	// Backoff policy applied to each replayed action.
	BackoffInitialMS  int     `koanf:"backoff_initial_ms"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	BackoffMaxMS      int     `koanf:"backoff_max_ms"`

	// Connectivity probe cadence and per-probe timeout.
	ProbeIntervalMS int `koanf:"probe_interval_ms"`
	ProbeTimeoutMS  int `koanf:"probe_timeout_ms"`

	// ServerURL is the settlement server base URL used by the device client.
	ServerURL string `koanf:"server_url"`

	// ParticipantEmail identifies the device user to the server.
	ParticipantEmail string `koanf:"participant_email"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DatabasePath:            "happenin.db",
		RetryCeiling:            3,
		AnalyticsTTLMS:          60_000,
		AnalyticsStaleWindowMS:  120_000,
		BreakerFailureThreshold: 10,
		BreakerResetMS:          45_000,
		BreakerSlowCallMS:       3000,
		QueuePath:               "happenin-queue.db",
		QueueMaxAttempts:        3,
		BackoffInitialMS:        1200,
		BackoffMultiplier:       1.8,
		BackoffMaxMS:            5000,
		ProbeIntervalMS:         5000,
		ProbeTimeoutMS:          4000,
		ServerURL:               "http://localhost:9080",
	}
}

// AnalyticsTTL returns the analytics freshness window.
func (c *Config) AnalyticsTTL() time.Duration { return ms(c.AnalyticsTTLMS) }

// AnalyticsStaleWindow returns how long a stale aggregate stays servable.
func (c *Config) AnalyticsStaleWindow() time.Duration { return ms(c.AnalyticsStaleWindowMS) }

// BreakerSlowCall returns the slow-call threshold of the analytics breaker.
func (c *Config) BreakerSlowCall() time.Duration { return ms(c.BreakerSlowCallMS) }

// BreakerReset returns the open interval of the analytics breaker.
func (c *Config) BreakerReset() time.Duration { return ms(c.BreakerResetMS) }

// BackoffInitial returns the first replay backoff delay.
func (c *Config) BackoffInitial() time.Duration { return ms(c.BackoffInitialMS) }

// BackoffMax returns the replay backoff cap.
func (c *Config) BackoffMax() time.Duration { return ms(c.BackoffMaxMS) }

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration { return ms(c.ProbeIntervalMS) }

// ProbeTimeout returns the timeout of a single probe.
func (c *Config) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
