// Package connectivity tracks whether the API can be reached and how fast,
// and notifies subscribers when that changes.
package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/internal"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

// Quality grades the connection to the API
type Quality string

const (
	// QualityExcellent means the probe answered in under 100ms
	QualityExcellent Quality = "excellent"
	// QualityGood means the probe answered in under 300ms
	QualityGood Quality = "good"
	// QualityPoor means the probe answered slower than that
	QualityPoor Quality = "poor"
	// QualityOffline means the link is down or the API did not answer
	QualityOffline Quality = "offline"
)

const (
	excellentBelow = 100 * time.Millisecond
	goodBelow      = 300 * time.Millisecond
)

// ClassifyLatency grades a successful probe
func ClassifyLatency(latency time.Duration) Quality {
	switch {
	case latency < excellentBelow:
		return QualityExcellent
	case latency < goodBelow:
		return QualityGood
	default:
		return QualityPoor
	}
}

// Status is the last known connectivity state
type Status struct {
	IsOnline     bool          `json:"isOnline"`
	APIAvailable bool          `json:"apiAvailable"`
	Latency      time.Duration `json:"latency"`
	LastCheck    time.Time     `json:"lastCheck"`
	Error        string        `json:"error,omitempty"`
	Quality      Quality       `json:"quality"`
}

// Reachable reports whether requests to the API are expected to succeed
func (s Status) Reachable() bool {
	return s.IsOnline && s.APIAvailable
}

func (s Status) differs(o Status) bool {
	return s.IsOnline != o.IsOnline || s.APIAvailable != o.APIAvailable || s.Quality != o.Quality
}

// Executor performs the health request; *transport.Client satisfies it
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (json.RawMessage, error)
}

// Config represents configuration for the monitor
type Config struct {
	HealthURL string        `mapstructure:"health_url" validate:"required"`
	Method    string        `mapstructure:"method" validate:"oneof=HEAD GET"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries   int           `mapstructure:"retries" validate:"gte=0"`
	// RetryInterval is the first backoff delay between probe attempts
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	Interval      time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		HealthURL:     "/health",
		Method:        http.MethodHead,
		Timeout:       5 * time.Second,
		Retries:       3,
		RetryInterval: 500 * time.Millisecond,
		Interval:      30 * time.Second,
	}
}

var validate = validator.New()

// Option configures a Monitor
type Option func(*Monitor)

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		m.cfg = cfg
	}
}

// WithHealthURL sets the probed URL
func WithHealthURL(u string) Option {
	return func(m *Monitor) {
		m.cfg.HealthURL = u
	}
}

// WithRetries sets how many times a failed probe is retried and the first delay
func WithRetries(n int, interval time.Duration) Option {
	return func(m *Monitor) {
		m.cfg.Retries = n
		m.cfg.RetryInterval = interval
	}
}

// WithInterval sets the period of background probes
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.cfg.Interval = d
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source used for latency and timestamps
func WithClock(c internal.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithCollectors reports probes to Prometheus
func WithCollectors(c *metrics.Collectors) Option {
	return func(m *Monitor) {
		m.collectors = c
	}
}

// WithMaxSubscribers bounds the number of subscribers
func WithMaxSubscribers(n int) Option {
	return func(m *Monitor) {
		m.maxSubscribers = n
	}
}

// Monitor probes the API health endpoint
type Monitor struct {
	cfg            Config
	exec           Executor
	logger         *slog.Logger
	clock          internal.Clock
	collectors     *metrics.Collectors
	maxSubscribers int
	topic          *internal.Topic[Status]

	mu      sync.Mutex
	status  Status
	link    bool
	started bool
	stopped bool

	flight singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. The link is assumed up and the API unknown until
// the first probe.
func New(exec Executor, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		cfg:            DefaultConfig(),
		exec:           exec,
		logger:         slog.Default(),
		maxSubscribers: internal.DefaultMaxSubscribers,
		link:           true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if exec == nil {
		return nil, errors.WrapError("New", nil, errors.Join(errors.ErrInvalidConfig, errors.New("nil executor")))
	}
	if err := validate.Struct(m.cfg); err != nil {
		return nil, errors.WrapError("New", nil, errors.Join(errors.ErrInvalidConfig, err))
	}
	m.clock = m.clock.OrSystem()
	m.logger = m.logger.With("component", "connectivity")
	m.topic = internal.NewTopic[Status](m.maxSubscribers)
	m.status = Status{IsOnline: true, Quality: QualityOffline}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Status returns the last known state
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn for state changes
func (m *Monitor) Subscribe(fn func(Status)) (func(), error) {
	return m.topic.Subscribe(fn)
}

// Check probes the API now. Concurrent callers share one probe.
func (m *Monitor) Check(ctx context.Context) Status {
	v, _, _ := m.flight.Do("check", func() (any, error) {
		return m.check(ctx), nil
	})
	return v.(Status)
}

func (m *Monitor) check(ctx context.Context) Status {
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()

	if !link {
		return m.update(Status{
			IsOnline:  false,
			LastCheck: m.clock(),
			Error:     "link offline",
			Quality:   QualityOffline,
		})
	}

	latency, err := m.probe(ctx)
	m.collectors.HealthCheck(err, latency)
	st := Status{
		IsOnline:     true,
		APIAvailable: err == nil,
		LastCheck:    m.clock(),
	}
	if err != nil {
		st.Quality = QualityOffline
		st.Error = err.Error()
	} else {
		st.Latency = latency
		st.Quality = ClassifyLatency(latency)
	}
	m.logger.Debug("probe finished", "available", st.APIAvailable, "latency", latency, "quality", st.Quality, "error", st.Error)
	return m.update(st)
}

// probe issues the health request with retries and returns the round trip
// of the successful attempt
func (m *Monitor) probe(ctx context.Context) (time.Duration, error) {
	var latency time.Duration
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		start := m.clock()
		_, err := m.exec.Execute(attemptCtx, transport.Request{Method: m.cfg.Method, URL: m.cfg.HealthURL, IgnoreBody: true})
		if err != nil {
			if errors.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		latency = m.clock().Sub(start)
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(m.cfg.Retries))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return 0, errors.Transient("Check", m.cfg.HealthURL, errors.Join(errors.ErrUnreachable, err))
	}
	return latency, nil
}

// update stores st and publishes it when reachability or quality changed.
// A result claiming the link is up is overridden while the link is down.
func (m *Monitor) update(st Status) Status {
	m.mu.Lock()
	if !m.link && st.IsOnline {
		// the link went down while a check was in flight
		st = Status{IsOnline: false, LastCheck: st.LastCheck, Error: "link offline", Quality: QualityOffline}
	}
	prev := m.status
	m.status = st
	m.mu.Unlock()

	m.collectors.Quality(string(st.Quality))
	if st.differs(prev) {
		m.logger.Info("connectivity changed",
			"online", st.IsOnline,
			"api_available", st.APIAvailable,
			"quality", st.Quality)
		m.topic.Publish(st)
	}
	return st
}

// SetLinkOnline records the network link state. Going down marks the API
// offline at once; coming back triggers a probe.
func (m *Monitor) SetLinkOnline(online bool) {
	m.mu.Lock()
	changed := m.link != online
	m.link = online
	m.mu.Unlock()
	if !changed {
		return
	}
	if !online {
		m.update(Status{IsOnline: false, LastCheck: m.clock(), Error: "link offline", Quality: QualityOffline})
		return
	}
	m.spawnCheck()
}

// NotifyForeground re-probes when the application returns to the foreground
func (m *Monitor) NotifyForeground() {
	m.spawnCheck()
}

// Start probes once and then every Interval until Stop
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.Check(m.ctx)
		if m.cfg.Interval <= 0 {
			return
		}
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check(m.ctx)
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Stop ends background probing and waits for running probes
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	m.topic.Close()
}

func (m *Monitor) spawnCheck() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		m.Check(m.ctx)
	}()
}
