package syncqueue

import (
	"log/slog"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
)

// Config represents configuration for the sync queue
type Config struct {
	Namespace       string              `mapstructure:"namespace" validate:"required"`
	SyncInterval    time.Duration       `mapstructure:"sync_interval" validate:"gte=0"`
	SettleDelay     time.Duration       `mapstructure:"settle_delay" validate:"gte=0"`
	BatchSize       int                 `mapstructure:"batch_size" validate:"gt=0"`
	InterBatchDelay time.Duration       `mapstructure:"inter_batch_delay" validate:"gte=0"`
	MaxRetries      int                 `mapstructure:"max_retries" validate:"gt=0"`
	RetryDelay      time.Duration       `mapstructure:"retry_delay" validate:"gt=0"`
	MaxRetryDelay   time.Duration       `mapstructure:"max_retry_delay" validate:"gtefield=RetryDelay"`
	Endpoints       map[ItemType]string `mapstructure:"endpoints"`
}

// DefaultConfig returns the default sync queue configuration
func DefaultConfig() Config {
	return Config{
		Namespace:       "app",
		SyncInterval:    30 * time.Second,
		SettleDelay:     2 * time.Second,
		BatchSize:       10,
		InterBatchDelay: 100 * time.Millisecond,
		MaxRetries:      5,
		RetryDelay:      time.Second,
		MaxRetryDelay:   time.Minute,
		Endpoints: map[ItemType]string{
			TypeConversation: "/api/conversations",
			TypeMessage:      "/api/messages",
			TypeUserData:     "/api/user-data",
		},
	}
}

// Options holds the queue's collaborators
type Options struct {
	Config         Config
	Storage        storage.Storage
	Logger         *slog.Logger
	Clock          internal.Clock
	Collectors     *metrics.Collectors
	MaxSubscribers int
}

// Option configures a Queue
type Option func(*Options)

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithStorage persists the queue under "<namespace>_sync_queue"
func WithStorage(s storage.Storage) Option {
	return func(o *Options) {
		o.Storage = s
	}
}

// WithNamespace sets the storage namespace
func WithNamespace(ns string) Option {
	return func(o *Options) {
		o.Config.Namespace = ns
	}
}

// WithRetry sets the retry budget and the backoff bounds
func WithRetry(maxRetries int, delay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.Config.MaxRetries = maxRetries
		o.Config.RetryDelay = delay
		o.Config.MaxRetryDelay = maxDelay
	}
}

// WithSettleDelay sets the wait between coming online and draining
func WithSettleDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Config.SettleDelay = d
	}
}

// WithSyncInterval sets the period of background drains
func WithSyncInterval(d time.Duration) Option {
	return func(o *Options) {
		o.Config.SyncInterval = d
	}
}

// WithBatching sets the drain batch size and the pause between batches
func WithBatching(size int, delay time.Duration) Option {
	return func(o *Options) {
		o.Config.BatchSize = size
		o.Config.InterBatchDelay = delay
	}
}

// WithEndpoint sets the API path of an item type
func WithEndpoint(t ItemType, path string) Option {
	return func(o *Options) {
		if o.Config.Endpoints == nil {
			o.Config.Endpoints = make(map[ItemType]string)
		}
		o.Config.Endpoints[t] = path
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

// WithClock sets the time source for timestamps and retry schedules
func WithClock(c internal.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithCollectors reports queue activity to Prometheus
func WithCollectors(c *metrics.Collectors) Option {
	return func(o *Options) {
		o.Collectors = c
	}
}

// WithMaxSubscribers bounds the number of event subscribers
func WithMaxSubscribers(n int) Option {
	return func(o *Options) {
		o.MaxSubscribers = n
	}
}

// AddOption customizes a single item
type AddOption func(*Item)

// WithID replaces any queued item with the same ID
func WithID(id string) AddOption {
	return func(it *Item) {
		if id != "" {
			it.ID = id
		}
	}
}

// WithMaxRetries overrides the retry budget of the item
func WithMaxRetries(n int) AddOption {
	return func(it *Item) {
		if n > 0 {
			it.MaxRetries = n
		}
	}
}

// ScheduledAt defers the first attempt until t
func ScheduledAt(t time.Time) AddOption {
	return func(it *Item) {
		it.ScheduledAt = &t
	}
}
