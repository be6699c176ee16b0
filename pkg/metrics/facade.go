package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittostore/pkg/facade"
	"github.com/marmos91/dittostore/pkg/storage"
)

// facadeMetrics is the Prometheus implementation of facade.Metrics interface.
type facadeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	dedupTotal        *prometheus.CounterVec
	dedupBytesSaved   *prometheus.CounterVec
	versionsTotal     *prometheus.CounterVec
}

// NewFacadeMetrics creates a new Prometheus-backed facade.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFacadeMetrics() facade.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newFacadeMetrics(GetRegistry())
}

func newFacadeMetrics(reg prometheus.Registerer) *facadeMetrics {
	return &facadeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_operations_total",
				Help: "Total number of storage operations by storage, operation and status",
			},
			[]string{"storage", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittostore_operation_duration_seconds",
				Help: "Duration of storage operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"storage", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_bytes_total",
				Help: "Total payload bytes by storage and direction (in, out)",
			},
			[]string{"storage", "direction"},
		),
		dedupTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_dedup_writes_total",
				Help: "Writes on deduplicating storages by result (hit, miss)",
			},
			[]string{"storage", "result"},
		),
		dedupBytesSaved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_dedup_bytes_saved_total",
				Help: "Bytes not written because identical content was already stored",
			},
			[]string{"storage"},
		),
		versionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_versions_total",
				Help: "Explicit version events by kind (created, restored)",
			},
			[]string{"storage", "kind"},
		),
	}
}

// statusOf labels an outcome with its error code.
func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ReplaceAll(storage.CodeOf(err).String(), " ", "_")
}

func (m *facadeMetrics) ObserveOperation(storageName, operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(storageName, operation, statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(storageName, operation).Observe(duration.Seconds())
}

func (m *facadeMetrics) RecordBytes(storageName, direction string, bytes int64) {
	m.bytesTotal.WithLabelValues(storageName, direction).Add(float64(bytes))
}

func (m *facadeMetrics) RecordDedup(storageName string, duplicate bool, bytesSaved int64) {
	result := "miss"
	if duplicate {
		result = "hit"
	}
	m.dedupTotal.WithLabelValues(storageName, result).Inc()
	if bytesSaved > 0 {
		m.dedupBytesSaved.WithLabelValues(storageName).Add(float64(bytesSaved))
	}
}

func (m *facadeMetrics) RecordVersion(storageName, kind string) {
	m.versionsTotal.WithLabelValues(storageName, kind).Inc()
}
