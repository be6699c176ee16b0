package facade

import "time"

// Metrics provides observability for facade operations.
//
// If not provided, metrics collection is skipped. Implementations must be
// safe for concurrent use and must never block.
type Metrics interface {
	// ObserveOperation records one operation and its outcome
	ObserveOperation(storage, operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes; direction is "in" or "out"
	RecordBytes(storage, direction string, bytes int64)

	// RecordDedup records the placement of one write
	RecordDedup(storage string, duplicate bool, bytesSaved int64)

	// RecordVersion records a version event; kind is "created" or "restored"
	RecordVersion(storage, kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, string, int64)                     {}
func (noopMetrics) RecordDedup(string, bool, int64)                       {}
func (noopMetrics) RecordVersion(string, string)                          {}
