package s3

import "time"

// S3Metrics receives one observation per bucket call. A nil S3Metrics in
// S3BackendConfig disables collection.
type S3Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes counts object payload bytes, not request overhead
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
