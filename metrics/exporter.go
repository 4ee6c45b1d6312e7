package metrics

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExporterType defines the type of metrics exporter
type ExporterType string

const (
	// StandardExporter keeps metrics in process only
	StandardExporter ExporterType = "standard"
	// PrometheusExporterType also exposes metrics to Prometheus
	PrometheusExporterType ExporterType = "prometheus"
)

// MetricsExporter is the sink a cache reports to
type MetricsExporter interface {
	RecordHit()
	RecordMiss()
	RecordSet()
	RecordDelete()
	RecordEviction()
	RecordExpiration()
	RecordAccess(d time.Duration)
	RecordCompression(raw, packed int)
	RecordDecompression()
	RecordPersist(err error)
	UpdateSize(size int64)
	UpdateMemory(bytes int64)
	GetSnapshot() MetricsSnapshot
	Reset()
}

var _ MetricsExporter = (*CacheMetrics)(nil)
var _ MetricsExporter = (*PrometheusMetricsExporter)(nil)

// PrometheusMetricsExporter mirrors CacheMetrics into Prometheus collectors
// labelled by cache name. Exporters of several caches on one registry share
// the same collectors.
type PrometheusMetricsExporter struct {
	*CacheMetrics

	hits        prometheus.Counter
	misses      prometheus.Counter
	sets        prometheus.Counter
	evictions   prometheus.Counter
	expirations prometheus.Counter
	persistErrs prometheus.Counter
	size        prometheus.Gauge
	memory      prometheus.Gauge
	access      prometheus.Observer

	release func()
}

// NewPrometheusMetricsExporter registers the cache collectors on reg (the
// default registerer when nil) and returns an exporter for cacheName
func NewPrometheusMetricsExporter(reg prometheus.Registerer, cacheName string) (*PrometheusMetricsExporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"cache"}

	hits, err := registerCounterVec(reg, "cache_hits_total", "Total number of cache hits", labels)
	if err != nil {
		return nil, err
	}
	misses, err := registerCounterVec(reg, "cache_misses_total", "Total number of cache misses", labels)
	if err != nil {
		return nil, err
	}
	sets, err := registerCounterVec(reg, "cache_sets_total", "Total number of cache writes", labels)
	if err != nil {
		return nil, err
	}
	evictions, err := registerCounterVec(reg, "cache_evictions_total", "Total number of cache evictions", labels)
	if err != nil {
		return nil, err
	}
	expirations, err := registerCounterVec(reg, "cache_expirations_total", "Total number of expired entries removed", labels)
	if err != nil {
		return nil, err
	}
	persistErrs, err := registerCounterVec(reg, "cache_persist_failures_total", "Total number of failed snapshot writes", labels)
	if err != nil {
		return nil, err
	}
	size, err := registerGaugeVec(reg, "cache_size", "Current number of items in the cache", labels)
	if err != nil {
		return nil, err
	}
	memory, err := registerGaugeVec(reg, "cache_memory_bytes", "Current estimated size of the cache in bytes", labels)
	if err != nil {
		return nil, err
	}
	access, err := registerHistogramVec(reg, "cache_access_seconds", "Duration of cache reads",
		prometheus.ExponentialBuckets(1e-6, 4, 8), labels)
	if err != nil {
		return nil, err
	}

	vecs := []interface{ DeleteLabelValues(...string) bool }{
		hits, misses, sets, evictions, expirations, persistErrs, size, memory, access,
	}
	return &PrometheusMetricsExporter{
		CacheMetrics: NewCacheMetrics(),
		release: func() {
			for _, v := range vecs {
				v.DeleteLabelValues(cacheName)
			}
		},
		hits:         hits.WithLabelValues(cacheName),
		misses:       misses.WithLabelValues(cacheName),
		sets:         sets.WithLabelValues(cacheName),
		evictions:    evictions.WithLabelValues(cacheName),
		expirations:  expirations.WithLabelValues(cacheName),
		persistErrs:  persistErrs.WithLabelValues(cacheName),
		size:         size.WithLabelValues(cacheName),
		memory:       memory.WithLabelValues(cacheName),
		access:       access.WithLabelValues(cacheName),
	}, nil
}

// RecordHit implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordHit() {
	e.CacheMetrics.RecordHit()
	e.hits.Inc()
}

// RecordMiss implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordMiss() {
	e.CacheMetrics.RecordMiss()
	e.misses.Inc()
}

// RecordSet implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordSet() {
	e.CacheMetrics.RecordSet()
	e.sets.Inc()
}

// RecordEviction implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordEviction() {
	e.CacheMetrics.RecordEviction()
	e.evictions.Inc()
}

// RecordExpiration implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordExpiration() {
	e.CacheMetrics.RecordExpiration()
	e.expirations.Inc()
}

// RecordAccess implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordAccess(d time.Duration) {
	e.CacheMetrics.RecordAccess(d)
	e.access.Observe(d.Seconds())
}

// RecordPersist implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordPersist(err error) {
	e.CacheMetrics.RecordPersist(err)
	if err != nil {
		e.persistErrs.Inc()
	}
}

// UpdateSize implements MetricsExporter
func (e *PrometheusMetricsExporter) UpdateSize(size int64) {
	e.CacheMetrics.UpdateSize(size)
	e.size.Set(float64(size))
}

// UpdateMemory implements MetricsExporter
func (e *PrometheusMetricsExporter) UpdateMemory(bytes int64) {
	e.CacheMetrics.UpdateMemory(bytes)
	e.memory.Set(float64(bytes))
}

// Reset clears the in-process counters. Prometheus counters stay cumulative.
func (e *PrometheusMetricsExporter) Reset() {
	e.CacheMetrics.Reset()
}

// Release drops the series of this cache from the shared collectors so the
// name can be exported again from zero
func (e *PrometheusMetricsExporter) Release() {
	e.release()
}

// NewMetricsExporter creates a new metrics exporter based on the specified type
func NewMetricsExporter(exporterType ExporterType, reg prometheus.Registerer, cacheName string) (MetricsExporter, error) {
	switch exporterType {
	case PrometheusExporterType:
		return NewPrometheusMetricsExporter(reg, cacheName)
	default:
		return NewCacheMetrics(), nil
	}
}

// register registers c, returning the already registered collector when an
// equal one exists so that several instances can share a registry
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, name, help string, labels []string) (*prometheus.CounterVec, error) {
	return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
}

func registerGaugeVec(reg prometheus.Registerer, name, help string, labels []string) (*prometheus.GaugeVec, error) {
	return register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels))
}

func registerHistogramVec(reg prometheus.Registerer, name, help string, buckets []float64, labels []string) (*prometheus.HistogramVec, error) {
	return register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels))
}
