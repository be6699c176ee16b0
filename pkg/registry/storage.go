package registry

import (
	"context"
	"fmt"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/version"
)

// Where the content index keeps its records.
const (
	// IndexMemory keeps records in process memory. They are rebuilt from the
	// version records when the storage is opened.
	IndexMemory = "memory"

	// IndexBackend persists records next to the blobs under i/<hash>.
	IndexBackend = "backend"
)

// Storage represents one configured named storage that binds together:
// - A backend (the physical substrate)
// - The version chain writing records into it
// - The content index deduplicating its bytes
// - The read cache in front of it
//
// Every component is created once at startup and shared by all callers.
type Storage struct {
	Name    string
	Backend storage.Backend
	Chain   *version.Chain
	Index   *dedup.Index
	Cache   *cache.Cache

	Versioning    bool
	Deduplication bool
	IndexKind     string
}

// StorageConfig contains everything needed to assemble a Storage around an
// already opened backend.
type StorageConfig struct {
	Name          string
	Versioning    bool
	Deduplication bool

	// IndexKind is IndexMemory or IndexBackend (default: IndexBackend)
	IndexKind string

	Cache        cache.Config
	CacheMetrics cache.Metrics
}

// NewStorage wires the chain, index and cache around backend. A memory index
// is reconciled with the version records already present in the backend.
func NewStorage(ctx context.Context, cfg StorageConfig, backend storage.Backend) (*Storage, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("cannot create storage with empty name")
	}
	if backend == nil {
		return nil, fmt.Errorf("storage %q: nil backend", cfg.Name)
	}

	var records dedup.RecordStore
	switch cfg.IndexKind {
	case IndexMemory:
		records = dedup.NewMemoryRecordStore()
	case IndexBackend, "":
		cfg.IndexKind = IndexBackend
		records = dedup.NewBackendRecordStore(backend)
	default:
		return nil, fmt.Errorf("storage %q: unknown index kind %q", cfg.Name, cfg.IndexKind)
	}

	index := dedup.NewIndex(cfg.Name, backend, records)
	chain := version.NewChain(cfg.Name, backend, index, version.Options{
		Versioning:    cfg.Versioning,
		Deduplication: cfg.Deduplication,
	})

	s := &Storage{
		Name:          cfg.Name,
		Backend:       backend,
		Chain:         chain,
		Index:         index,
		Cache:         cache.New(cfg.Name, cfg.Cache, cfg.CacheMetrics),
		Versioning:    cfg.Versioning,
		Deduplication: cfg.Deduplication,
		IndexKind:     cfg.IndexKind,
	}

	if cfg.IndexKind == IndexMemory {
		if _, err := s.RebuildIndex(ctx); err != nil {
			return nil, fmt.Errorf("storage %q: rebuild index: %w", cfg.Name, err)
		}
	}

	logger.Info("Storage ready: name=%s backend=%s versioning=%t deduplication=%t index=%s",
		cfg.Name, backend.Type(), cfg.Versioning, cfg.Deduplication, cfg.IndexKind)
	return s, nil
}

// RebuildIndex recomputes every ref_count from the live version records.
// Writes to the storage that take or drop content references wait until it
// is done.
func (s *Storage) RebuildIndex(ctx context.Context) (*dedup.RebuildReport, error) {
	var report *dedup.RebuildReport
	err := s.Chain.Reconcile(ctx, func(ctx context.Context, refs map[string]uint64) error {
		var err error
		report, err = s.Index.Rebuild(ctx, refs)
		return err
	})
	return report, err
}

// Close releases the backend.
func (s *Storage) Close() error {
	return s.Backend.Close()
}
