package cache

import (
	"log/slog"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/ttl"
)

// Default values for cache configuration
const (
	DefaultMaxSize              = int64(10 * 1024 * 1024) // 10MB
	DefaultMaxEntries           = 1000
	DefaultTTL                  = 5 * time.Minute
	DefaultMaxTTL               = 24 * time.Hour
	DefaultCleanupInterval      = time.Minute
	DefaultCompressionThreshold = 1024

	// SnapshotMaxAge is how old a persisted snapshot may be and still be loaded
	SnapshotMaxAge = 24 * time.Hour

	// headroom is the fraction of MaxSize a size-triggered eviction frees down to
	headroom = 0.8
)

// Config is the immutable configuration of one cache
type Config struct {
	// MaxSize bounds the estimated bytes of all entries
	MaxSize int64 `mapstructure:"max_size" validate:"gt=0"`

	// MaxEntries bounds the number of entries
	MaxEntries int `mapstructure:"max_entries" validate:"gt=0"`

	// DefaultTTL applies to entries stored without a TTL
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"gt=0"`

	// MaxTTL clamps longer TTLs (0 disables the clamp)
	MaxTTL time.Duration `mapstructure:"max_ttl" validate:"gte=0"`

	// CleanupInterval is the period of the expiry sweep (0 disables the sweep)
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gte=0"`

	// Persistent enables snapshots to durable storage
	Persistent bool `mapstructure:"persistent"`

	// Compression gzips large values inside snapshots
	Compression bool `mapstructure:"compression"`

	// CompressionThreshold is the JSON size above which a value is compressed
	CompressionThreshold int `mapstructure:"compression_threshold" validate:"gte=0"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:              DefaultMaxSize,
		MaxEntries:           DefaultMaxEntries,
		DefaultTTL:           DefaultTTL,
		MaxTTL:               DefaultMaxTTL,
		CleanupInterval:      DefaultCleanupInterval,
		Persistent:           true,
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

func (c Config) validate() error {
	if c.MaxSize <= 0 || c.MaxEntries <= 0 || c.DefaultTTL <= 0 ||
		c.MaxTTL < 0 || c.CleanupInterval < 0 || c.CompressionThreshold < 0 {
		return errors.WrapError("New", nil, errors.ErrInvalidConfig)
	}
	return nil
}

func (c Config) ttlConfig() ttl.Config {
	return ttl.Config{DefaultTTL: c.DefaultTTL, MaxTTL: c.MaxTTL}
}

// Options holds everything a cache is constructed from
type Options struct {
	Config         Config
	Storage        storage.Storage
	Logger         *slog.Logger
	Clock          internal.Clock
	Metrics        metrics.MetricsExporter
	MaxSubscribers int
}

// Option is a function that configures cache options
type Option func(*Options)

// DefaultOptions returns the default cache options
func DefaultOptions() *Options {
	return &Options{
		Config: DefaultConfig(),
		Logger: slog.Default(),
		Clock:  internal.SystemClock,
	}
}

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithMaxSize sets the byte bound
func WithMaxSize(size int64) Option {
	return func(o *Options) {
		o.Config.MaxSize = size
	}
}

// WithMaxEntries sets the entry bound
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		o.Config.MaxEntries = n
	}
}

// WithDefaultTTL sets the TTL of entries stored without one
func WithDefaultTTL(d time.Duration) Option {
	return func(o *Options) {
		o.Config.DefaultTTL = d
	}
}

// WithCleanupInterval sets the sweep period
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Options) {
		o.Config.CleanupInterval = d
	}
}

// WithPersistence enables snapshots to s
func WithPersistence(s storage.Storage) Option {
	return func(o *Options) {
		o.Storage = s
		o.Config.Persistent = s != nil
	}
}

// WithStorage sets the durable store without changing the Persistent flag
func WithStorage(s storage.Storage) Option {
	return func(o *Options) {
		o.Storage = s
	}
}

// WithCompression enables snapshot compression above threshold bytes
func WithCompression(threshold int) Option {
	return func(o *Options) {
		o.Config.Compression = true
		o.Config.CompressionThreshold = threshold
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

// WithClock sets the time source used for TTL and LRU bookkeeping
func WithClock(c internal.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithMetrics sets the metrics exporter
func WithMetrics(m metrics.MetricsExporter) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithMaxSubscribers bounds the event subscriber list
func WithMaxSubscribers(n int) Option {
	return func(o *Options) {
		o.MaxSubscribers = n
	}
}

// EntryOptions are the per-entry settings of Set
type EntryOptions struct {
	TTL      time.Duration
	Tags     []string
	Priority Priority
}

// EntryOption configures a single Set
type EntryOption func(*EntryOptions)

// ExpiresIn sets the TTL of the entry; ttl <= 0 uses the default TTL
func ExpiresIn(d time.Duration) EntryOption {
	return func(o *EntryOptions) {
		o.TTL = d
	}
}

// Tagged attaches tags to the entry
func Tagged(tags ...string) EntryOption {
	return func(o *EntryOptions) {
		o.Tags = append(o.Tags, tags...)
	}
}

// Prioritized sets the eviction priority of the entry
func Prioritized(p Priority) EntryOption {
	return func(o *EntryOptions) {
		o.Priority = p
	}
}
