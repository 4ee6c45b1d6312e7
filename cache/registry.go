package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/metrics"
)

// Instance is the type-independent view of a registered cache
type Instance interface {
	Name() string
	Stats() Stats
	Entries() []EntryInfo
	Close() error
}

var _ Instance = (*Cache[any])(nil)

// Registry holds one cache per name. Caches registered on it share the
// registry's base options (storage, logger, clock) and, when a registerer
// is set, report to Prometheus under their name.
type Registry struct {
	mu         sync.Mutex
	caches     map[string]Instance
	exporters  map[string]*metrics.PrometheusMetricsExporter
	base       []Option
	registerer prometheus.Registerer
}

// NewRegistry creates a registry; reg may be nil to disable Prometheus export
func NewRegistry(reg prometheus.Registerer, base ...Option) *Registry {
	return &Registry{
		caches:     make(map[string]Instance),
		exporters:  make(map[string]*metrics.PrometheusMetricsExporter),
		base:       base,
		registerer: reg,
	}
}

// Register returns the cache called name, creating it on first use. Asking
// for an existing name with a different value type is an error.
func Register[V any](r *Registry, name string, opts ...Option) (*Cache[V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.caches[name]; ok {
		c, ok := existing.(*Cache[V])
		if !ok {
			return nil, errors.WrapError("Register", name,
				fmt.Errorf("%w: cache registered with value type %T", errors.ErrInvalidConfig, existing))
		}
		return c, nil
	}

	all := make([]Option, 0, len(r.base)+len(opts)+1)
	all = append(all, r.base...)
	var exporter *metrics.PrometheusMetricsExporter
	if r.registerer != nil {
		var err error
		exporter, err = metrics.NewPrometheusMetricsExporter(r.registerer, name)
		if err != nil {
			return nil, errors.WrapError("Register", name, err)
		}
		all = append(all, WithMetrics(exporter))
	}
	all = append(all, opts...)

	c, err := New[V](name, all...)
	if err != nil {
		if exporter != nil {
			exporter.Release()
		}
		return nil, err
	}
	r.caches[name] = c
	if exporter != nil {
		r.exporters[name] = exporter
	}
	return c, nil
}

// Lookup returns the cache called name
func (r *Registry) Lookup(name string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[name]
	return c, ok
}

// Names returns the registered cache names, sorted
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the statistics of every registered cache
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.caches))
	for name, c := range r.caches {
		out[name] = c.Stats()
	}
	return out
}

// Remove closes the cache called name and drops its Prometheus series.
// It reports whether the name was registered.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[name]
	if !ok {
		return false, nil
	}
	return true, r.removeLocked(name, c)
}

// Close closes every registered cache
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, c := range r.caches {
		if err := r.removeLocked(name, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) removeLocked(name string, c Instance) error {
	err := c.Close()
	delete(r.caches, name)
	if exporter, ok := r.exporters[name]; ok {
		exporter.Release()
		delete(r.exporters, name)
	}
	return err
}
