package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittostore/pkg/backend/s3"
)

// s3Metrics instruments the calls the S3 backend makes to the bucket.
type s3Metrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	payload  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewS3Metrics returns the S3 backend collector, or nil when metrics are
// disabled.
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() {
		return nil
	}
	return newS3Metrics(GetRegistry())
}

func newS3Metrics(reg prometheus.Registerer) *s3Metrics {
	f := promauto.With(reg)
	return &s3Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dittostore_s3_operations_total",
			Help: "S3 calls by operation and outcome",
		}, []string{"operation", "status"}),
		// 10ms .. ~20s
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dittostore_s3_operation_duration_seconds",
			Help:    "Latency of S3 calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		payload: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dittostore_s3_bytes_transferred_total",
			Help: "Object payload bytes moved to or from the bucket",
		}, []string{"operation"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dittostore_s3_errors_total",
			Help: "Failed S3 calls by operation and error code",
		}, []string{"operation", "code"}),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := statusOf(err)
	if err != nil {
		m.failures.WithLabelValues(operation, status).Inc()
		status = "error"
	}
	m.calls.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.payload.WithLabelValues(operation).Add(float64(bytes))
}
