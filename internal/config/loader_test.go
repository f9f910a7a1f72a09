package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/happenin/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.BackoffInitialMS, convey.ShouldEqual, 1200)
				convey.So(cfg.BackoffMultiplier, convey.ShouldEqual, 1.8)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("HAPPENIN_ADDR", ":8080")
			_ = os.Setenv("HAPPENIN_GATEWAY_SECRET", "s3cret")
			_ = os.Setenv("HAPPENIN_RETRY_CEILING", "5")
			_ = os.Setenv("HAPPENIN_BACKOFF_MULTIPLIER", "2.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.GatewaySecret, convey.ShouldEqual, "s3cret")
				convey.So(cfg.RetryCeiling, convey.ShouldEqual, 5)
				convey.So(cfg.BackoffMultiplier, convey.ShouldEqual, 2.5)
			})
		})

		convey.Convey("When loading config with a YAML file passed explicitly", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
database_path: "/var/lib/happenin/store.db"
analytics_ttl_ms: 30000
log_format: json
`)
			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should load from the file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DatabasePath, convey.ShouldEqual, "/var/lib/happenin/store.db")
				convey.So(cfg.AnalyticsTTLMS, convey.ShouldEqual, 30000)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.RetryCeiling, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
queue_max_attempts: 4
`)
			_ = os.Setenv("HAPPENIN_CONFIG", tmpFile)
			_ = os.Setenv("HAPPENIN_ADDR", ":7070")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.QueueMaxAttempts, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)

			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.Load(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When an env var does not parse", func() {
			_ = os.Setenv("HAPPENIN_RETRY_CEILING", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When an env var fails validation", func() {
			_ = os.Setenv("HAPPENIN_RETRY_CEILING", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "retry_ceiling")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"HAPPENIN_CONFIG",
		"HAPPENIN_ADDR",
		"HAPPENIN_GATEWAY_SECRET",
		"HAPPENIN_RETRY_CEILING",
		"HAPPENIN_BACKOFF_MULTIPLIER",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "happenin-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
