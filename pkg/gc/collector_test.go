package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/backend/memory"
	storetesting "github.com/marmos91/dittostore/pkg/backend/testing"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/version"
)

// newDrifted returns a storage holding two files that share content, a
// leaked reference on that content and one blob nothing references.
func newDrifted(t *testing.T) (*registry.Registry, *registry.Storage, string, string) {
	t.Helper()
	ctx := context.Background()

	mem, err := memory.NewMemoryBackend(ctx)
	require.NoError(t, err)
	s, err := registry.NewStorage(ctx, registry.StorageConfig{
		Name:          "docs",
		Versioning:    true,
		Deduplication: true,
		Cache:         cache.DefaultConfig(),
	}, mem)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(s))

	shared := []byte("shared content")
	_, _, err = s.Chain.Put(ctx, "a.txt", shared, version.Overrides{})
	require.NoError(t, err)
	_, _, err = s.Chain.Put(ctx, "b.txt", shared, version.Overrides{})
	require.NoError(t, err)

	// A reference taken by a write that never committed its version.
	_, dup, err := s.Index.Acquire(ctx, shared)
	require.NoError(t, err)
	require.True(t, dup)

	orphan := []byte("orphan")
	orphanHash := dedup.Hash(orphan)
	_, err = mem.Put(ctx, dedup.BlobKey(orphanHash), orphan, &storage.FileMetadata{
		Storage: "docs",
		Name:    dedup.BlobKey(orphanHash),
		Size:    int64(len(orphan)),
	})
	require.NoError(t, err)

	return reg, s, dedup.Hash(shared), orphanHash
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	reg, s, sharedHash, orphanHash := newDrifted(t)

	c := NewCollector(reg, Config{Enabled: true})
	stats, err := c.Collect(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, "docs", stats.Storage)
	assert.Equal(t, uint64(1), stats.ReferencedCount)
	assert.Equal(t, uint64(2), stats.ExistingCount)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.Equal(t, uint64(1), stats.RepairedCount)
	assert.Zero(t, stats.FailedCount)

	rec, err := s.Index.Record(ctx, sharedHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.RefCount)

	exists, err := s.Backend.Exists(ctx, dedup.BlobKey(orphanHash))
	require.NoError(t, err)
	assert.False(t, exists)

	// Live content is untouched.
	data, _, err := s.Chain.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared content"), data)

	// A second run finds nothing to do.
	stats, err = c.Collect(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, stats.OrphanedCount)
	assert.Zero(t, stats.RepairedCount)
}

func TestCollectDryRun(t *testing.T) {
	ctx := context.Background()
	reg, s, sharedHash, orphanHash := newDrifted(t)

	c := NewCollector(reg, Config{Enabled: true, DryRun: true})
	stats, err := c.Collect(ctx, s)
	require.NoError(t, err)

	assert.True(t, stats.DryRun)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Equal(t, uint64(1), stats.RepairedCount)
	assert.Zero(t, stats.DeletedCount)

	rec, err := s.Index.Record(ctx, sharedHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.RefCount)

	exists, err := s.Backend.Exists(ctx, dedup.BlobKey(orphanHash))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunNow(t *testing.T) {
	reg, _, _, _ := newDrifted(t)

	c := NewCollector(reg, Config{Enabled: true})
	all, err := c.RunNow(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint64(1), all[0].DeletedCount)
	assert.NotEmpty(t, all[0].Summary())
}

func TestStartStop(t *testing.T) {
	reg := registry.NewRegistry()

	disabled := NewCollector(reg, Config{})
	disabled.Start()
	require.NoError(t, disabled.Stop(context.Background()))

	c := NewCollector(reg, Config{Enabled: true, Interval: time.Hour})
	c.Start()
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestCollectKeepsBlobOfConcurrentWrite(t *testing.T) {
	ctx := context.Background()

	mem, err := memory.NewMemoryBackend(ctx)
	require.NoError(t, err)
	hooked := storetesting.NewHookBackend(mem)
	s, err := registry.NewStorage(ctx, registry.StorageConfig{
		Name:          "docs",
		Versioning:    true,
		Deduplication: true,
		Cache:         cache.DefaultConfig(),
	}, hooked)
	require.NoError(t, err)
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(s))

	_, _, err = s.Chain.Put(ctx, "a.txt", []byte("existing"), version.Overrides{})
	require.NoError(t, err)

	// Start a write once the collector has counted references and is about
	// to list blobs.
	written := make(chan error, 1)
	hooked.OnList(dedup.BlobPrefix(), func() {
		go func() {
			_, _, err := s.Chain.Put(ctx, "late.txt", []byte("payload"), version.Overrides{})
			written <- err
		}()
		time.Sleep(50 * time.Millisecond)
	})

	stats, err := NewCollector(reg, Config{Enabled: true}).Collect(ctx, s)
	require.NoError(t, err)
	require.NoError(t, <-written)
	assert.Zero(t, stats.DeletedCount)

	data, _, err := s.Chain.Get(ctx, "late.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	rec, err := s.Index.Record(ctx, dedup.Hash([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.RefCount)
}
