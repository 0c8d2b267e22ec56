// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Blocking functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"

	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/pkg/metrics"
)

// Source kinds.
const (
	KindHTTP = "http"
	KindFile = "file"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// DefaultTimezone resolves local times of sources that declare no zone.
	DefaultTimezone string `koanf:"default_timezone" validate:"required"`

	// Schedule is a cron expression for pull runs. Empty disables scheduling.
	Schedule string `koanf:"schedule"`

	// RecentWindow is how far back stored events take part in incremental dedupe.
	RecentWindow time.Duration `koanf:"recent_window" validate:"gte=0"`

	HTTP    HTTP          `koanf:"http"`
	Spawner Spawner       `koanf:"spawner"`
	Dedupe  dedupe.Config `koanf:"dedupe"`
	Storage Storage       `koanf:"storage"`
	Metrics Metrics       `koanf:"metrics"`
	Sources []Source      `koanf:"sources" validate:"dive"`
}

// HTTP bounds the API server.
type HTTP struct {
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"gt=0"`

	// MaxBodyBytes caps POST /ingest bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gt=0"`

	// MaxDecisionsLimit caps GET /decisions?limit.
	MaxDecisionsLimit int `koanf:"max_decisions_limit" validate:"gt=0"`
}

// Spawner tunes the bounded task executor.
type Spawner struct {
	MaxWorkers    int           `koanf:"max_workers" validate:"gte=1"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gte=0"`

	// QueueCapacity bounds waiting tasks; 0 means unbounded.
	QueueCapacity int `koanf:"queue_capacity" validate:"gte=0"`
}

// Storage selects the event store.
type Storage struct {
	Driver   string `koanf:"driver" validate:"oneof=memory postgres"`
	DSN      string `koanf:"dsn" validate:"required_if=Driver postgres"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=0"`

	// Migrate creates the schema on startup.
	Migrate bool `koanf:"migrate"`
}

// Metrics shapes the series served on /metrics.
type Metrics struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace" validate:"required"`
	Subsystem string `koanf:"subsystem"`
	Prefix    string `koanf:"prefix"`

	// Labels are constant labels added to every series.
	Labels map[string]string `koanf:"labels"`

	// Buckets are the latency histogram buckets in milliseconds.
	Buckets []float64 `koanf:"buckets" validate:"dive,gt=0"`

	// RefreshInterval paces gauges refreshed in the background.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`
}

// Options converts the section into metrics manager options.
func (m Metrics) Options() []metrics.Option {
	return []metrics.Option{
		metrics.WithMetricsEnabled(m.Enabled),
		metrics.WithNamespace(m.Namespace),
		metrics.WithSubsystem(m.Subsystem),
		metrics.WithMetricPrefix(m.Prefix),
		metrics.WithCustomLabels(m.Labels),
		metrics.WithHistogramBuckets(m.Buckets),
		metrics.WithRefreshInterval(m.RefreshInterval),
	}
}

// Source configures one inbound adapter.
type Source struct {
	Name string `koanf:"name" validate:"required"`
	Tag  string `koanf:"tag" validate:"oneof=ticketmaster eventbrite yelp manual"`
	Kind string `koanf:"kind" validate:"oneof=http file"`

	// URL is the listing endpoint of an http source.
	URL string `koanf:"url" validate:"required_if=Kind http"`

	// Path is the JSON file of a file source.
	Path string `koanf:"path" validate:"required_if=Kind file"`

	// Timezone is the declared zone of the source's local times.
	Timezone string `koanf:"timezone"`

	// RecordsPath is the gjson path of the records array. Empty means the
	// body itself is the array.
	RecordsPath string `koanf:"records_path"`

	// PageParam enables page-number pagination, starting at 0 or 1 per FirstPage.
	PageParam string `koanf:"page_param"`
	FirstPage int    `koanf:"first_page" validate:"gte=0"`
	MaxPages  int    `koanf:"max_pages" validate:"gte=0"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=0"`

	Timeout time.Duration     `koanf:"timeout" validate:"gte=0"`
	Headers map[string]string `koanf:"headers"`
	Query   map[string]string `koanf:"query"`

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gte=0"`

	Disabled bool `koanf:"disabled"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		DefaultTimezone: "UTC",
		RecentWindow:    72 * time.Hour,
		HTTP: HTTP{
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxBodyBytes:      8 << 20,
			MaxDecisionsLimit: 500,
		},
		Spawner: Spawner{
			MaxWorkers:    runtime.NumCPU() * 2,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Dedupe: dedupe.DefaultConfig(),
		Storage: Storage{
			Driver:   DriverMemory,
			MaxConns: 10,
		},
		Metrics: Metrics{
			Enabled:         true,
			Namespace:       "gather",
			RefreshInterval: 10 * time.Second,
		},
	}
}
