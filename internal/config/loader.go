package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "HAPPENIN_"
	envConfigPath = "HAPPENIN_CONFIG"
	dotEnvFile    = ".env"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) given by path, or HAPPENIN_CONFIG when path is empty
//  3. env (prefix HAPPENIN_), after loading a .env file if present
func Load(ctx context.Context, path string) (*Config, error) {
	_ = ctx

	// A missing .env is normal; existing process env always wins.
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, dotEnvFile, err)
	}

	base := New()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// HAPPENIN_RETRY_CEILING -> retry_ceiling (flat keys, underscores kept).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make a component misbehave. A missing
// gateway secret is not rejected here: the settlement path reports it per
// request as a server misconfiguration.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DatabasePath == "":
		return fmt.Errorf("%w: database_path must not be empty", ErrInvalidConfig)
	case c.RetryCeiling < 1:
		return fmt.Errorf("%w: retry_ceiling must be >= 1", ErrInvalidConfig)
	case c.AnalyticsTTLMS <= 0:
		return fmt.Errorf("%w: analytics_ttl_ms must be > 0", ErrInvalidConfig)
	case c.AnalyticsStaleWindowMS < 0:
		return fmt.Errorf("%w: analytics_stale_window_ms must be >= 0", ErrInvalidConfig)
	case c.BreakerSlowCallMS < 0:
		return fmt.Errorf("%w: breaker_slow_call_ms must be >= 0", ErrInvalidConfig)
	case c.BreakerFailureThreshold < 1:
		return fmt.Errorf("%w: breaker_failure_threshold must be >= 1", ErrInvalidConfig)
	case c.BreakerResetMS <= 0:
		return fmt.Errorf("%w: breaker_reset_ms must be > 0", ErrInvalidConfig)
	case c.QueueMaxAttempts < 1:
		return fmt.Errorf("%w: queue_max_attempts must be >= 1", ErrInvalidConfig)
	case c.BackoffInitialMS <= 0 || c.BackoffMaxMS < c.BackoffInitialMS:
		return fmt.Errorf("%w: backoff_initial_ms must be > 0 and <= backoff_max_ms", ErrInvalidConfig)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff_multiplier must be >= 1", ErrInvalidConfig)
	case c.ProbeIntervalMS <= 0 || c.ProbeTimeoutMS <= 0:
		return fmt.Errorf("%w: probe_interval_ms and probe_timeout_ms must be > 0", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
