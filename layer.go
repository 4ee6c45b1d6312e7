package resilience

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nathan-Paranhos/AithosRag-sub003/batcher"
	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/config"
	"github.com/Nathan-Paranhos/AithosRag-sub003/connectivity"
	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/logging"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/syncqueue"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

// APICacheName is the registry name of the response cache used by the batcher
const APICacheName = "api"

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	doer       transport.Doer
	storage    storage.Storage
	clock      internal.Clock
}

// Option configures a Layer
type Option func(*options)

// WithLogger overrides the logger built from the logging section
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer exports cache and component metrics to reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithDoer sets the HTTP executor used for every API call
func WithDoer(d transport.Doer) Option {
	return func(o *options) {
		o.doer = d
	}
}

// WithStorage uses s instead of opening the configured backend. The caller
// keeps ownership and closes it.
func WithStorage(s storage.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithClock sets the time source of every component
func WithClock(c internal.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Layer owns the components and their shared resources
type Layer struct {
	Config     config.Config
	Storage    storage.Storage
	Client     *transport.Client
	Caches     *cache.Registry
	API        *cache.Cache[json.RawMessage]
	Batcher    *batcher.Batcher
	Queue      *syncqueue.Queue
	Monitor    *connectivity.Monitor
	Collectors *metrics.Collectors

	logger      *slog.Logger
	ownsStorage bool
	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

// Status is a snapshot of every component
type Status struct {
	Connectivity connectivity.Status    `json:"connectivity"`
	Sync         syncqueue.Status       `json:"sync"`
	Batcher      batcher.Stats          `json:"batcher"`
	Caches       map[string]cache.Stats `json:"caches"`
}

// New builds the layer from cfg. Nothing runs in the background until Start.
func New(cfg config.Config, opts ...Option) (*Layer, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, errors.WrapError("New", "logging", errors.Join(errors.ErrInvalidConfig, err))
		}
	}

	l := &Layer{Config: cfg, logger: logger}
	if err := l.build(o); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Layer) build(o *options) error {
	cfg := l.Config
	var err error

	l.Storage = o.storage
	if l.Storage == nil {
		if l.Storage, err = storage.Open(cfg.Storage.Config); err != nil {
			return err
		}
		l.ownsStorage = true
	}

	if o.registerer != nil {
		if l.Collectors, err = metrics.NewCollectors(o.registerer); err != nil {
			return err
		}
	}

	clientOpts := []transport.Option{
		transport.WithBaseURL(cfg.API.BaseURL),
		transport.WithTimeout(cfg.API.Timeout),
		transport.WithLogger(l.logger),
	}
	if o.doer != nil {
		clientOpts = append(clientOpts, transport.WithDoer(o.doer))
	}
	l.Client = transport.New(clientOpts...)

	l.Caches = cache.NewRegistry(o.registerer,
		cache.WithConfig(cfg.Cache),
		cache.WithStorage(l.Storage),
		cache.WithLogger(l.logger),
		cache.WithClock(o.clock),
	)
	if l.API, err = cache.Register[json.RawMessage](l.Caches, APICacheName); err != nil {
		return err
	}

	l.Batcher = batcher.New(l.Client,
		batcher.WithConfig(cfg.Batcher),
		batcher.WithCache(l.API),
		batcher.WithLogger(l.logger),
		batcher.WithClock(o.clock),
		batcher.WithCollectors(l.Collectors),
	)

	if l.Queue, err = syncqueue.New(l.Client,
		syncqueue.WithConfig(cfg.Sync),
		syncqueue.WithStorage(l.Storage),
		syncqueue.WithLogger(l.logger),
		syncqueue.WithClock(o.clock),
		syncqueue.WithCollectors(l.Collectors),
	); err != nil {
		return err
	}

	if l.Monitor, err = connectivity.New(l.Client,
		connectivity.WithConfig(cfg.Connectivity),
		connectivity.WithLogger(l.logger),
		connectivity.WithClock(o.clock),
		connectivity.WithCollectors(l.Collectors),
	); err != nil {
		return err
	}

	queue := l.Queue
	l.unsubscribe, err = l.Monitor.Subscribe(func(s connectivity.Status) {
		queue.SetOnline(s.Reachable())
	})
	return err
}

// Start begins background probing and periodic drains
func (l *Layer) Start(ctx context.Context) {
	l.Monitor.Start(ctx)
	l.Queue.Start(ctx)
	l.logger.Info("resilience layer started",
		"storage", l.Config.Storage.Backend,
		"api", l.Config.API.BaseURL)
}

// Status returns a snapshot of every component
func (l *Layer) Status() Status {
	return Status{
		Connectivity: l.Monitor.Status(),
		Sync:         l.Queue.Status(),
		Batcher:      l.Batcher.Stats(),
		Caches:       l.Caches.Stats(),
	}
}

// Close stops the components, writes final cache snapshots and closes the
// storage backend it opened
func (l *Layer) Close() error {
	l.closeOnce.Do(func() {
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		if l.Monitor != nil {
			l.Monitor.Stop()
		}
		if l.Batcher != nil {
			l.Batcher.Stop()
		}
		if l.Queue != nil {
			l.Queue.Stop()
		}
		var errs []error
		if l.Caches != nil {
			errs = append(errs, l.Caches.Close())
		}
		if l.ownsStorage && l.Storage != nil {
			errs = append(errs, l.Storage.Close())
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}
