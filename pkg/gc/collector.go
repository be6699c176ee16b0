// Package gc provides garbage collection for orphaned deduplicated content.
//
// The garbage collector identifies and removes blobs that no live version
// record references (orphaned content) and repairs index records whose
// ref_count drifted from the version records. Drift can occur due to:
//   - Process crashes between placing content and committing a version
//   - Failed rollbacks after an aborted write
//   - Records edited or removed outside the store
//
// The collector walks every storage of a registry.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
)

// compactor is implemented by backends that can reclaim space after deletes.
type compactor interface {
	Compact(ctx context.Context) error
}

// Collector performs periodic garbage collection on the storages of a registry.
//
// Thread Safety: Safe for concurrent use. Runs never overlap.
type Collector struct {
	reg    *registry.Registry
	config Config

	runMu    sync.Mutex
	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether periodic collection is active (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0" yaml:"interval"`

	// DryRun mode logs what would be deleted without actually deleting (default: false)
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Interval: 24 * time.Hour}
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
func NewCollector(reg *registry.Registry, config Config) *Collector {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &Collector{
		reg:    reg,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background garbage collection.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting garbage collector: interval=%s dry_run=%v", c.config.Interval, c.config.DryRun)
	go c.worker()
}

// Stop stops the garbage collector and waits for it to finish. Safe to call
// multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.runMu.Lock()
	started := c.started
	c.runMu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate collection of every storage and blocks until
// it completes or ctx is cancelled.
func (c *Collector) RunNow(ctx context.Context) ([]*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collectAll(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			_, err := c.collectAll(ctx)
			cancel()
			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			}

		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collectAll(ctx context.Context) ([]*Stats, error) {
	var out []*Stats
	for _, s := range c.reg.Storages() {
		stats, err := c.Collect(ctx, s)
		if err != nil {
			return out, fmt.Errorf("storage %s: %w", s.Name, err)
		}
		logger.Info("Garbage collection completed: %s", stats.Summary())
		out = append(out, stats)
	}
	return out, nil
}

// Collect performs a single collection run on s:
//  1. Count live references per content hash from the version records
//  2. List every blob physically present
//  3. Repair index records whose ref_count drifted
//  4. Delete blobs nothing references
//  5. Compact the backend when it supports it
//
// Steps 1-4 run inside Chain.Reconcile: writes that take or drop content
// references wait for them.
func (c *Collector) Collect(ctx context.Context, s *registry.Storage) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{Storage: s.Name, StartTime: time.Now(), DryRun: c.config.DryRun}
	defer func() { stats.EndTime = time.Now() }()

	err := s.Chain.Reconcile(ctx, func(ctx context.Context, refs map[string]uint64) error {
		return c.reconcile(ctx, s, refs, stats)
	})
	if err != nil || c.config.DryRun {
		return stats, err
	}

	if comp, ok := s.Backend.(compactor); ok {
		if err := comp.Compact(ctx); err != nil {
			logger.Warn("GC: compaction of %s failed: %v", s.Name, err)
		}
	}

	return stats, nil
}

// reconcile repairs the index and deletes orphan blobs of s. refs stay exact
// while it runs.
func (c *Collector) reconcile(ctx context.Context, s *registry.Storage, refs map[string]uint64, stats *Stats) error {
	stats.ReferencedCount = uint64(len(refs))

	blobs, err := s.Index.Blobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list blobs: %w", err)
	}
	stats.ExistingCount = uint64(len(blobs))

	var orphaned []string
	for _, hash := range blobs {
		if refs[hash] == 0 {
			orphaned = append(orphaned, hash)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if c.config.DryRun {
		for hash, want := range refs {
			rec, err := s.Index.Record(ctx, hash)
			if err != nil || rec.RefCount != want {
				stats.RepairedCount++
			}
		}
		for i, hash := range orphaned {
			if i == 10 {
				logger.Info("GC: DRY RUN ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("GC: DRY RUN would delete blob %s", hash)
		}
		return nil
	}

	report, err := s.Index.Rebuild(ctx, refs)
	if err != nil {
		return fmt.Errorf("failed to repair index: %w", err)
	}
	stats.RepairedCount = uint64(len(report.Updated) + len(report.Created) + len(report.Removed))
	stats.MissingCount = uint64(len(report.Missing))

	for _, hash := range orphaned {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Rebuild already destroys blobs whose record fell to zero.
		if err := s.Index.DeleteBlob(ctx, hash); err != nil && !storage.IsNotFound(err) {
			logger.Debug("GC: failed to delete blob %s: %v", hash, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}
	return nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	Storage         string    `json:"storage"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DryRun          bool      `json:"dry_run"`
	ReferencedCount uint64    `json:"referenced"` // distinct hashes referenced by version records
	ExistingCount   uint64    `json:"existing"`   // blobs physically present
	OrphanedCount   uint64    `json:"orphaned"`   // blobs nothing references
	DeletedCount    uint64    `json:"deleted"`
	FailedCount     uint64    `json:"failed"`
	RepairedCount   uint64    `json:"repaired"` // index records corrected, created or removed
	MissingCount    uint64    `json:"missing"`  // referenced hashes whose blob is gone
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("storage=%s referenced=%d existing=%d orphaned=%d deleted=%d failed=%d repaired=%d missing=%d dry_run=%v duration=%s",
		s.Storage, s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.RepairedCount, s.MissingCount, s.DryRun, s.Duration())
}
