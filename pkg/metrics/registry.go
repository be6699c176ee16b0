// Package metrics exposes the Prometheus collectors of dittostore and the
// admin HTTP server that serves them together with /health and /stats.
//
// Collectors are optional. Every NewXMetrics constructor returns nil until
// InitRegistry has been called, and the instrumented packages fall back to
// their own no-op implementations.
//
//	metrics.InitRegistry()
//	f := facade.New(reg, facade.Options{Metrics: metrics.NewFacadeMetrics()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry, pre-loaded with the Go
// runtime and process collectors. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the process-wide registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
