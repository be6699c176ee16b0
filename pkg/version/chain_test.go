package version

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/backend/memory"
	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T, opts Options) (*Chain, *dedup.Index, storage.Backend) {
	t.Helper()
	b, err := memory.NewMemoryBackend(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	index := dedup.NewIndex("docs", b, dedup.NewMemoryRecordStore())
	return NewChain("docs", b, index, opts), index, b
}

func versioned() Options { return Options{Versioning: true} }

func TestKeys(t *testing.T) {
	assert.Equal(t, "v/a/b.txt/0000000007", RecordKey("a/b.txt", 7))
	assert.Equal(t, "v/a/b.txt/", RecordPrefix("a/b.txt"))
	assert.Equal(t, "x/abc", PointerKey("abc"))

	name, v, ok := parseRecordKey("v/a/b.txt/0000000007")
	require.True(t, ok)
	assert.Equal(t, "a/b.txt", name)
	assert.Equal(t, uint32(7), v)

	for _, bad := range []string{"x/abc", "v/a", "v/a/12", "v/a/00000000zz", "v//0000000001"} {
		_, _, ok := parseRecordKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestChain_VersionsAreGapFree(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		meta, _, err := c.Put(ctx, "notes.txt", []byte(fmt.Sprintf("rev %d", i)), Overrides{})
		require.NoError(t, err)
		assert.Equal(t, uint32(i), meta.Version)
	}

	versions, err := c.ListVersions(ctx, "notes.txt")
	require.NoError(t, err)
	require.Len(t, versions, 5)

	for i, v := range versions {
		assert.Equal(t, uint32(i+1), v.Version)
		if i == 0 {
			assert.Empty(t, v.ParentVersionID)
		} else {
			assert.Equal(t, versions[i-1].VersionID, v.ParentVersionID)
		}
	}

	data, head, err := c.Get(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("rev 5"), data)
	assert.Equal(t, uint32(5), head.Version)
}

// Scenario: c.txt at v1, create_version gives v2, restoring v1 gives v3 whose
// parent is v2.
func TestChain_RestoreAppendsNewHead(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	v1, _, err := c.Put(ctx, "c.txt", []byte("first"), Overrides{Tags: []string{"draft"}})
	require.NoError(t, err)

	v2, _, err := c.CreateVersion(ctx, "c.txt", []byte("second"), v1, Overrides{Tags: []string{"final"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v2.Version)
	assert.Equal(t, v1.VersionID, v2.ParentVersionID)

	v3, _, err := c.RestoreVersion(ctx, "c.txt", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v3.Version)
	assert.Equal(t, v2.VersionID, v3.ParentVersionID)
	assert.Equal(t, []string{"draft"}, v3.Tags)

	data, _, err := c.Get(ctx, "c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Earlier versions are untouched.
	versions, err := c.ListVersions(ctx, "c.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	old, _, err := c.GetVersion(ctx, "c.txt", v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), old)
}

func TestChain_CreateVersionCopiesForward(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	v1, _, err := c.Put(ctx, "doc", []byte("a"), Overrides{
		ContentType: "text/plain",
		Tags:        []string{"b", "a", "a"},
		Custom:      map[string]string{"owner": "ops"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v1.Tags)

	v2, _, err := c.CreateVersion(ctx, "doc", []byte("bb"), v1, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", v2.ContentType)
	assert.Equal(t, []string{"a", "b"}, v2.Tags)
	assert.Equal(t, map[string]string{"owner": "ops"}, v2.Custom)
	assert.Equal(t, int64(2), v2.Size)

	v3, _, err := c.CreateVersion(ctx, "doc", []byte("c"), v2, Overrides{ContentType: "text/markdown", Tags: []string{"z"}})
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", v3.ContentType)
	assert.Equal(t, []string{"z"}, v3.Tags)
	assert.Equal(t, map[string]string{"owner": "ops"}, v3.Custom)
}

func TestChain_CreateVersionRequiresHeadAsBase(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	v1, _, err := c.CreateVersion(ctx, "f", []byte("1"), nil, Overrides{})
	require.NoError(t, err)

	_, _, err = c.CreateVersion(ctx, "f", []byte("x"), nil, Overrides{})
	assert.True(t, storage.IsConflict(err))

	_, _, err = c.CreateVersion(ctx, "f", []byte("2"), v1, Overrides{})
	require.NoError(t, err)

	// v1 is no longer the head.
	_, _, err = c.CreateVersion(ctx, "f", []byte("3"), v1, Overrides{})
	assert.True(t, storage.IsConflict(err))

	_, _, err = c.CreateVersion(ctx, "missing", []byte("3"), v1, Overrides{})
	assert.True(t, storage.IsConflict(err))
}

func TestChain_RacingCreateVersionFailsClosed(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	base, _, err := c.Put(ctx, "race", []byte("0"), Overrides{})
	require.NoError(t, err)

	const writers = 12
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := c.CreateVersion(ctx, "race", []byte(fmt.Sprint(i)), base, Overrides{})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case storage.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	versions, err := c.ListVersions(ctx, "race")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestChain_VersioningDisabled(t *testing.T) {
	c, _, b := newTestChain(t, Options{})
	ctx := context.Background()

	v1, _, err := c.Put(ctx, "cfg", []byte("one"), Overrides{Tags: []string{"x"}})
	require.NoError(t, err)

	replaced, _, err := c.Put(ctx, "cfg", []byte("two"), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), replaced.Version)
	assert.NotEqual(t, v1.VersionID, replaced.VersionID)
	assert.Equal(t, []string{"x"}, replaced.Tags)
	assert.True(t, v1.CreatedAt.Equal(replaced.CreatedAt))

	versions, err := c.ListVersions(ctx, "cfg")
	require.NoError(t, err)
	require.Len(t, versions, 1)

	data, _, err := c.Get(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	exists, err := b.Exists(ctx, PointerKey(v1.VersionID))
	require.NoError(t, err)
	assert.False(t, exists, "stale pointer removed")

	_, _, err = c.CreateVersion(ctx, "cfg", []byte("three"), replaced, Overrides{})
	assert.True(t, storage.IsUnsupported(err))

	_, _, err = c.RestoreVersion(ctx, "cfg", replaced.VersionID)
	assert.True(t, storage.IsUnsupported(err))
}

func TestChain_DeduplicatedContent(t *testing.T) {
	c, index, b := newTestChain(t, Options{Versioning: true, Deduplication: true})
	ctx := context.Background()

	a, dup, err := c.Put(ctx, "a.txt", []byte("hello"), Overrides{})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, dedup.Hash([]byte("hello")), a.ContentHash)

	bm, dup, err := c.Put(ctx, "b.txt", []byte("hello"), Overrides{})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, a.ContentHash, bm.ContentHash)

	rec, err := index.Record(ctx, a.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.RefCount)

	// Bytes are not stored inline when deduplicated.
	inline, _, err := b.Get(ctx, RecordKey("a.txt", 1))
	require.NoError(t, err)
	assert.Empty(t, inline)

	data, _, err := c.Get(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	keys, err := c.FindByHash(ctx, a.ContentHash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []storage.FileKey{{Storage: "docs", Name: "a.txt"}, {Storage: "docs", Name: "b.txt"}}, keys)

	refs, err := c.References(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{a.ContentHash: 2}, refs)

	_, err = c.Purge(ctx, "a.txt")
	require.NoError(t, err)
	rec, err = index.Record(ctx, a.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.RefCount)

	_, err = c.Purge(ctx, "b.txt")
	require.NoError(t, err)
	_, err = index.Record(ctx, a.ContentHash)
	assert.True(t, storage.IsNotFound(err))

	exists, err := b.Exists(ctx, dedup.BlobKey(a.ContentHash))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChain_DeleteVersion(t *testing.T) {
	c, index, _ := newTestChain(t, Options{Versioning: true, Deduplication: true})
	ctx := context.Background()

	v1, _, err := c.Put(ctx, "d", []byte("same"), Overrides{})
	require.NoError(t, err)
	v2, _, err := c.Put(ctx, "d", []byte("same"), Overrides{})
	require.NoError(t, err)

	rec, err := index.Record(ctx, v1.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.RefCount)

	require.NoError(t, c.DeleteVersion(ctx, "d", v1.VersionID))

	_, _, err = c.GetVersion(ctx, "d", v1.VersionID)
	assert.True(t, storage.IsNotFound(err))

	versions, err := c.ListVersions(ctx, "d")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, v2.VersionID, versions[0].VersionID)

	rec, err = index.Record(ctx, v1.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.RefCount)

	err = c.DeleteVersion(ctx, "other", v2.VersionID)
	assert.True(t, storage.IsNotFound(err))
}

func TestChain_UpdateHead(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	_, _, err := c.Put(ctx, "t", []byte("body"), Overrides{})
	require.NoError(t, err)

	updated, err := c.UpdateHead(ctx, "t", func(meta *storage.FileMetadata, now time.Time) error {
		meta.MarkDeleted(now)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.IsDeleted)
	assert.NotNil(t, updated.DeletedAt)

	data, head, err := c.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), data, "bytes untouched")
	assert.True(t, head.IsDeleted)
	assert.Equal(t, uint32(1), head.Version, "no version created")

	_, err = c.UpdateHead(ctx, "missing", func(*storage.FileMetadata, time.Time) error { return nil })
	assert.True(t, storage.IsNotFound(err))
}

func TestChain_HeadsAndNestedNames(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	for _, name := range []string{"a", "a/b", "b/c.txt", "a"} {
		_, _, err := c.Put(ctx, name, []byte(name), Overrides{})
		require.NoError(t, err)
	}

	versions, err := c.ListVersions(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, versions, 2, "nested file is not a version of its parent")

	heads, err := c.Heads(ctx, "")
	require.NoError(t, err)
	require.Len(t, heads, 3)
	assert.Equal(t, "a", heads[0].Name)
	assert.Equal(t, uint32(2), heads[0].Version)
	assert.Equal(t, "a/b", heads[1].Name)
	assert.Equal(t, "b/c.txt", heads[2].Name)

	heads, err = c.Heads(ctx, "b/")
	require.NoError(t, err)
	require.Len(t, heads, 1)
}

func TestChain_Lookup(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	v1, _, err := c.Put(ctx, "l", []byte("x"), Overrides{})
	require.NoError(t, err)

	meta, err := c.Lookup(ctx, v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "l", meta.Name)
	assert.Equal(t, uint32(1), meta.Version)

	_, err = c.Lookup(ctx, "nope")
	assert.True(t, storage.IsNotFound(err))
}

func TestChain_InvalidInput(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	_, _, err := c.Put(ctx, "../escape", []byte("x"), Overrides{})
	assert.True(t, storage.IsInvalidInput(err))

	_, _, err = c.Put(ctx, "ok", []byte("x"), Overrides{Tags: []string{" padded"}})
	assert.True(t, storage.IsInvalidInput(err))

	// Would land on the path of version 1 of "a".
	_, _, err = c.Put(ctx, "a/0000000001", []byte("x"), Overrides{})
	assert.True(t, storage.IsInvalidInput(err))

	_, err = c.ListVersions(ctx, "")
	assert.True(t, storage.IsInvalidInput(err))

	_, err = c.ListVersions(ctx, "absent")
	assert.True(t, storage.IsNotFound(err))
}

func TestChain_DeleteTrashedHeadKeepsFileInTrash(t *testing.T) {
	c, _, _ := newTestChain(t, versioned())
	ctx := context.Background()

	_, _, err := c.Put(ctx, "f", []byte("one"), Overrides{})
	require.NoError(t, err)
	v2, _, err := c.Put(ctx, "f", []byte("two"), Overrides{})
	require.NoError(t, err)

	trashed, err := c.UpdateHead(ctx, "f", func(meta *storage.FileMetadata, now time.Time) error {
		meta.MarkDeleted(now)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.DeleteVersion(ctx, "f", v2.VersionID))

	data, head, err := c.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	assert.Equal(t, uint32(1), head.Version)
	assert.True(t, head.IsDeleted)
	require.NotNil(t, head.DeletedAt)
	assert.True(t, trashed.DeletedAt.Equal(*head.DeletedAt))
}

func TestChain_ReconcileHoldsOffWrites(t *testing.T) {
	c, index, _ := newTestChain(t, Options{Versioning: true, Deduplication: true})
	ctx := context.Background()

	_, _, err := c.Put(ctx, "a", []byte("shared"), Overrides{})
	require.NoError(t, err)

	written := make(chan error, 1)
	err = c.Reconcile(ctx, func(ctx context.Context, refs map[string]uint64) error {
		go func() {
			_, _, err := c.Put(ctx, "b", []byte("shared"), Overrides{})
			written <- err
		}()

		select {
		case err := <-written:
			t.Errorf("write completed during reconcile: %v", err)
			written <- err
		case <-time.After(50 * time.Millisecond):
		}

		assert.Equal(t, map[string]uint64{dedup.Hash([]byte("shared")): 1}, refs)
		_, err := index.Rebuild(ctx, refs)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, <-written)

	rec, err := index.Record(ctx, dedup.Hash([]byte("shared")))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.RefCount)
}
