package batcher

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
)

const (
	// DefaultMaxBatchSize flushes a batch once it holds this many requests
	DefaultMaxBatchSize = 10
	// DefaultMaxWaitTime flushes a batch this long after its first request
	DefaultMaxWaitTime = 50 * time.Millisecond
	// DefaultConcurrency bounds the network calls of one flush
	DefaultConcurrency = 5
)

// EndpointConfig controls how requests for a URL path prefix are grouped
type EndpointConfig struct {
	Batchable    bool          `mapstructure:"batchable"`
	MaxBatchSize int           `mapstructure:"max_batch_size" validate:"gte=0"`
	MaxWaitTime  time.Duration `mapstructure:"max_wait_time" validate:"gte=0"`
}

func (e EndpointConfig) withDefaults() EndpointConfig {
	if e.MaxBatchSize <= 0 {
		e.MaxBatchSize = DefaultMaxBatchSize
	}
	if e.MaxWaitTime <= 0 {
		e.MaxWaitTime = DefaultMaxWaitTime
	}
	return e
}

// Config represents configuration for the batcher
type Config struct {
	Default     EndpointConfig            `mapstructure:"default"`
	Endpoints   map[string]EndpointConfig `mapstructure:"endpoints"`
	Concurrency int                       `mapstructure:"concurrency" validate:"gte=0"`
	// CacheTTL is the lifetime of cached GET responses; 0 uses the cache default
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// DefaultConfig returns the default batcher configuration.
// Health checks are never batched.
func DefaultConfig() Config {
	return Config{
		Default: EndpointConfig{
			Batchable:    true,
			MaxBatchSize: DefaultMaxBatchSize,
			MaxWaitTime:  DefaultMaxWaitTime,
		},
		Endpoints: map[string]EndpointConfig{
			"/health":     {Batchable: false},
			"/api/health": {Batchable: false},
		},
		Concurrency: DefaultConcurrency,
	}
}

// Options holds the batcher's collaborators
type Options struct {
	Config     Config
	Cache      *cache.Cache[json.RawMessage]
	Logger     *slog.Logger
	Clock      internal.Clock
	Collectors *metrics.Collectors
}

// Option configures a Batcher
type Option func(*Options)

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithEndpoint sets the configuration for a URL path prefix
func WithEndpoint(prefix string, cfg EndpointConfig) Option {
	return func(o *Options) {
		if o.Config.Endpoints == nil {
			o.Config.Endpoints = make(map[string]EndpointConfig)
		}
		o.Config.Endpoints[prefix] = cfg
	}
}

// WithConcurrency bounds the network calls of one flush
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Config.Concurrency = n
	}
}

// WithCache enables flush-time cache lookups and response caching for GETs
func WithCache(c *cache.Cache[json.RawMessage]) Option {
	return func(o *Options) {
		o.Cache = c
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithClock sets the time source used to stamp arrivals
func WithClock(c internal.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithCollectors reports batch activity to Prometheus
func WithCollectors(c *metrics.Collectors) Option {
	return func(o *Options) {
		o.Collectors = c
	}
}
