package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.RecentWindow, convey.ShouldEqual, 72*time.Hour)
				convey.So(cfg.Dedupe.Thresholds.Overall, convey.ShouldEqual, 0.75)
				convey.So(cfg.Sources, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("GATHER_ADDR", ":8080")
			_ = os.Setenv("GATHER_LOG_FORMAT", "json")
			_ = os.Setenv("GATHER_SPAWNER__MAX_WORKERS", "16")
			_ = os.Setenv("GATHER_SPAWNER__TIMEOUT", "45s")
			_ = os.Setenv("GATHER_DEDUPE__THRESHOLDS__OVERALL", "0.8")
			_ = os.Setenv("GATHER_DEDUPE__ALGORITHMS__STRING_MATCHING", "jaro_winkler")
			_ = os.Setenv("GATHER_METRICS__NAMESPACE", "events")
			_ = os.Setenv("GATHER_METRICS__SUBSYSTEM", "ingest")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.Spawner.MaxWorkers, convey.ShouldEqual, 16)
				convey.So(cfg.Spawner.Timeout, convey.ShouldEqual, 45*time.Second)
				convey.So(cfg.Dedupe.Thresholds.Overall, convey.ShouldEqual, 0.8)
				convey.So(cfg.Dedupe.Algorithms.StringMatching, convey.ShouldEqual, dedupe.MatchJaroWinkler)
				convey.So(cfg.Dedupe.Thresholds.Title, convey.ShouldEqual, 0.6)
				convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "events")
				convey.So(cfg.Metrics.Subsystem, convey.ShouldEqual, "ingest")
				convey.So(cfg.Metrics.Enabled, convey.ShouldBeTrue)
				convey.So(cfg.Metrics.Options(), convey.ShouldHaveLength, 7)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
# pull every 15 minutes
addr: ":9090"
schedule: "*/15 * * * *"
default_timezone: America/Toronto
spawner:
  max_workers: 4
  retry_delay: 250ms
dedupe:
  quality:
    auto_merge_threshold: 0.9
  conflict:
    default: latest_wins
storage:
  driver: postgres
  dsn: postgres://gather@localhost/gather
sources:
  - name: tm
    tag: ticketmaster
    kind: http
    url: https://app.ticketmaster.com/discovery/v2/events.json
    records_path: _embedded.events
    page_param: page
    max_pages: 3
    rate_limit: 5
    timeout: 10s
    headers:
      Accept: application/json
  - name: manual
    tag: manual
    kind: file
    path: /var/lib/gather/manual.json
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GATHER_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Schedule, convey.ShouldEqual, "*/15 * * * *")
				convey.So(cfg.Spawner.MaxWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.Spawner.RetryDelay, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.Spawner.RetryAttempts, convey.ShouldEqual, 3)
				convey.So(cfg.Dedupe.Quality.AutoMergeThreshold, convey.ShouldEqual, 0.9)
				convey.So(cfg.Dedupe.Quality.NoiseFloor, convey.ShouldEqual, 0.6)
				convey.So(cfg.Dedupe.Conflict.Default, convey.ShouldEqual, model.StrategyLatestWins)
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, config.DriverPostgres)
			})

			convey.Convey("Then the sources should be decoded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Sources, convey.ShouldHaveLength, 2)
				tm := cfg.Sources[0]
				convey.So(tm.Kind, convey.ShouldEqual, config.KindHTTP)
				convey.So(tm.RecordsPath, convey.ShouldEqual, "_embedded.events")
				convey.So(tm.MaxPages, convey.ShouldEqual, 3)
				convey.So(tm.RateLimit, convey.ShouldEqual, 5)
				convey.So(tm.Timeout, convey.ShouldEqual, 10*time.Second)
				convey.So(cfg.Sources[1].Path, convey.ShouldEqual, "/var/lib/gather/manual.json")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
spawner:
  max_workers: 4
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GATHER_CONFIG", tmpFile)
			_ = os.Setenv("GATHER_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Spawner.MaxWorkers, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GATHER_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("GATHER_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("GATHER_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "Addr")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("GATHER_SPAWNER__MAX_WORKERS", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When an unknown conflict strategy is configured", func() {
			_ = os.Setenv("GATHER_DEDUPE__CONFLICT__DEFAULT", "coin_flip")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then startup should be refused", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"GATHER_CONFIG",
		"GATHER_ADDR",
		"GATHER_LOG_FORMAT",
		"GATHER_SPAWNER__MAX_WORKERS",
		"GATHER_SPAWNER__TIMEOUT",
		"GATHER_DEDUPE__THRESHOLDS__OVERALL",
		"GATHER_DEDUPE__ALGORITHMS__STRING_MATCHING",
		"GATHER_DEDUPE__CONFLICT__DEFAULT",
		"GATHER_METRICS__NAMESPACE",
		"GATHER_METRICS__SUBSYSTEM",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "gather-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
