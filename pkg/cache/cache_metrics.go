package cache

// Metrics provides observability for cache operations.
//
// If not provided, metrics collection is skipped. Implementations must be
// cheap: Size is reported under the cache lock.
type Metrics interface {
	Hit(storage string)
	Miss(storage string)

	// Evicted records one removal; reason is "capacity" or "expired"
	Evicted(storage, reason string)

	// Size records the current entry count and payload bytes
	Size(storage string, entries int, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) Hit(string)              {}
func (noopMetrics) Miss(string)             {}
func (noopMetrics) Evicted(string, string)  {}
func (noopMetrics) Size(string, int, int64) {}
