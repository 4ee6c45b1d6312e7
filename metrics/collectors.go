package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// Collectors holds the Prometheus collectors of the batcher, the sync queue
// and the connectivity monitor. Every method is safe on a nil receiver so
// components can run without metrics.
type Collectors struct {
	batchFlushes   prometheus.Counter
	batchSize      prometheus.Histogram
	networkCalls   *prometheus.CounterVec
	deduplicated   prometheus.Counter
	batchCacheHits prometheus.Counter

	syncSynced  prometheus.Counter
	syncRetried prometheus.Counter
	syncFailed  *prometheus.CounterVec
	syncPending prometheus.Gauge
	syncDrains  prometheus.Histogram

	checks       *prometheus.CounterVec
	checkLatency prometheus.Gauge
	quality      *prometheus.GaugeVec

	errs *errorCollector
}

// Quality label values, in the order of connectivity quality tiers
var qualityLabels = []string{"offline", "poor", "good", "excellent"}

// NewCollectors creates and registers the component collectors on reg
// (the default registerer when nil)
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{}

	var err error
	if c.batchFlushes, err = register[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batcher_flushes_total", Help: "Total number of flushed batches",
	})); err != nil {
		return nil, err
	}
	if c.batchSize, err = register[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "batcher_batch_size", Help: "Number of requests per flushed batch",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	})); err != nil {
		return nil, err
	}
	if c.networkCalls, err = registerCounterVec(reg, "batcher_network_calls_total",
		"Network calls issued by the batcher", []string{"outcome"}); err != nil {
		return nil, err
	}
	if c.deduplicated, err = register[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batcher_deduplicated_total", Help: "Requests answered by a shared network call",
	})); err != nil {
		return nil, err
	}
	if c.batchCacheHits, err = register[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batcher_cache_hits_total", Help: "Requests answered from the response cache",
	})); err != nil {
		return nil, err
	}

	if c.syncSynced, err = register[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_items_synced_total", Help: "Sync items delivered to the API",
	})); err != nil {
		return nil, err
	}
	if c.syncRetried, err = register[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_items_retried_total", Help: "Sync item attempts that were rescheduled",
	})); err != nil {
		return nil, err
	}
	if c.syncFailed, err = registerCounterVec(reg, "sync_items_failed_total",
		"Sync items dropped without delivery", []string{"reason"}); err != nil {
		return nil, err
	}
	if c.syncPending, err = register[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_items_pending", Help: "Sync items waiting in the queue",
	})); err != nil {
		return nil, err
	}
	if c.syncDrains, err = register[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "sync_drain_seconds", Help: "Duration of sync queue drains",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}

	if c.checks, err = registerCounterVec(reg, "connectivity_checks_total",
		"Health checks by outcome", []string{"outcome"}); err != nil {
		return nil, err
	}
	if c.checkLatency, err = register[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connectivity_latency_seconds", Help: "Round trip of the last successful health check",
	})); err != nil {
		return nil, err
	}
	if c.quality, err = registerGaugeVec(reg, "connectivity_quality",
		"1 for the current connection quality tier", []string{"quality"}); err != nil {
		return nil, err
	}
	if c.errs, err = register(reg, newErrorCollector()); err != nil {
		return nil, err
	}
	return c, nil
}

// errorCollector exports the process-wide counters of the errors package
type errorCollector struct {
	errs   *prometheus.Desc
	panics *prometheus.Desc
}

func newErrorCollector() *errorCollector {
	return &errorCollector{
		errs: prometheus.NewDesc("errors_total",
			"Errors wrapped by the resilience layer, by type", []string{"type"}, nil),
		panics: prometheus.NewDesc("panic_recoveries_total",
			"Panics recovered in subscriber callbacks", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *errorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.errs
	ch <- c.panics
}

// Collect implements prometheus.Collector
func (c *errorCollector) Collect(ch chan<- prometheus.Metric) {
	m := errors.GetErrorMetrics()
	for _, t := range errors.ErrorTypes {
		ch <- prometheus.MustNewConstMetric(c.errs, prometheus.CounterValue, float64(m.Count(t)), string(t))
	}
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(m.PanicRecoveries.Load()))
}

// BatchFlushed records a flushed batch of n requests
func (c *Collectors) BatchFlushed(n int) {
	if c == nil {
		return
	}
	c.batchFlushes.Inc()
	c.batchSize.Observe(float64(n))
}

// NetworkCall records a batcher network call
func (c *Collectors) NetworkCall(err error) {
	if c == nil {
		return
	}
	c.networkCalls.WithLabelValues(outcome(err)).Inc()
}

// Deduplicated records n requests served by a shared call
func (c *Collectors) Deduplicated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.deduplicated.Add(float64(n))
}

// BatchCacheHit records a request answered from the cache
func (c *Collectors) BatchCacheHit() {
	if c == nil {
		return
	}
	c.batchCacheHits.Inc()
}

// SyncSynced records a delivered sync item
func (c *Collectors) SyncSynced() {
	if c == nil {
		return
	}
	c.syncSynced.Inc()
}

// SyncRetried records a rescheduled sync item
func (c *Collectors) SyncRetried() {
	if c == nil {
		return
	}
	c.syncRetried.Inc()
}

// SyncFailed records a dropped sync item
func (c *Collectors) SyncFailed(reason string) {
	if c == nil {
		return
	}
	c.syncFailed.WithLabelValues(reason).Inc()
}

// SyncPending sets the number of queued sync items
func (c *Collectors) SyncPending(n int) {
	if c == nil {
		return
	}
	c.syncPending.Set(float64(n))
}

// SyncDrained records the duration of a drain
func (c *Collectors) SyncDrained(d time.Duration) {
	if c == nil {
		return
	}
	c.syncDrains.Observe(d.Seconds())
}

// HealthCheck records one connectivity check
func (c *Collectors) HealthCheck(err error, latency time.Duration) {
	if c == nil {
		return
	}
	c.checks.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		c.checkLatency.Set(latency.Seconds())
	}
}

// Quality marks quality as the current tier
func (c *Collectors) Quality(quality string) {
	if c == nil {
		return
	}
	for _, q := range qualityLabels {
		v := 0.0
		if q == quality {
			v = 1
		}
		c.quality.WithLabelValues(q).Set(v)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
