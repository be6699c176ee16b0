package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittostore/pkg/cache"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics interface.
//
// One instance serves every storage; the storage name is a label.
type cacheMetrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	entries   *prometheus.GaugeVec
	bytes     *prometheus.GaugeVec
}

// NewCacheMetrics creates a new Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the cache to use the built-in no-op implementation.
func NewCacheMetrics() cache.Metrics {
	if !IsEnabled() {
		return nil // Cache will use noopMetrics
	}
	return newCacheMetrics(GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		hits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"storage"},
		),
		misses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"storage"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_cache_evictions_total",
				Help: "Total number of cache evictions by reason (capacity, expired)",
			},
			[]string{"storage", "reason"},
		),
		entries: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittostore_cache_entries",
				Help: "Current number of cached entries",
			},
			[]string{"storage"},
		),
		bytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittostore_cache_size_bytes",
				Help: "Current payload bytes held by the cache",
			},
			[]string{"storage"},
		),
	}
}

func (m *cacheMetrics) Hit(storage string)  { m.hits.WithLabelValues(storage).Inc() }
func (m *cacheMetrics) Miss(storage string) { m.misses.WithLabelValues(storage).Inc() }

func (m *cacheMetrics) Evicted(storage, reason string) {
	m.evictions.WithLabelValues(storage, reason).Inc()
}

func (m *cacheMetrics) Size(storage string, entries int, bytes int64) {
	m.entries.WithLabelValues(storage).Set(float64(entries))
	m.bytes.WithLabelValues(storage).Set(float64(bytes))
}
