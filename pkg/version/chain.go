// Package version manages the append-only version history of the files of
// one storage.
//
// Every version of a file is an independent record addressable both by
// (name, version number) and by its version_id. Numbers start at 1 and grow
// by one; each version's parent_version_id names its predecessor. History is
// only ever appended to: restoring an old version creates a new head whose
// parent is the previous head.
package version

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/marmos91/dittostore/internal/keylock"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Options are the per-storage toggles that shape the chain.
type Options struct {
	// Versioning appends a new version on every put. When off, a put on an
	// existing file replaces version 1 in place.
	Versioning bool

	// Deduplication stores new content once per hash through the index.
	Deduplication bool
}

// Overrides replace fields that are otherwise copied forward from the base
// version. Zero values mean "copy".
type Overrides struct {
	ContentType string
	Tags        []string
	Custom      map[string]string
}

// Chain is the version manager of one storage.
//
// Thread Safety:
// All mutations of a file (allocate next number, commit, rewrite head, purge)
// run under that file's lock. Writes that take or drop a content reference
// also hold the reference gate shared, so Reconcile can exclude them while it
// compares records with the index. Reads take no lock.
type Chain struct {
	storage string
	backend storage.Backend
	index   *dedup.Index
	opts    Options
	locks   *keylock.Table
	gate    sync.RWMutex
	now     func() time.Time
}

// NewChain creates the chain for storage name. index may be nil only when
// deduplication is off and no existing record carries a content hash.
func NewChain(name string, backend storage.Backend, index *dedup.Index, opts Options) *Chain {
	return &Chain{
		storage: name,
		backend: backend,
		index:   index,
		opts:    opts,
		locks:   keylock.New(),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (c *Chain) Options() Options { return c.opts }

// lockWrite takes the reference gate, then the file lock. The gate comes
// first so a writer never waits on it while holding a file lock.
func (c *Chain) lockWrite(name string) func() {
	c.gate.RLock()
	unlock := c.locks.Lock(name)
	return func() {
		unlock()
		c.gate.RUnlock()
	}
}

// Reconcile counts the live references per content hash and passes them to
// fn. No write that takes or drops a reference runs until fn returns, so the
// counts stay exact for its whole duration.
func (c *Chain) Reconcile(ctx context.Context, fn func(ctx context.Context, refs map[string]uint64) error) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	refs, err := c.References(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, refs)
}

// ============================================================================
// Writes
// ============================================================================

// Put stores data as the new content of name. The first put creates version
// 1. Later puts append a version when versioning is on and replace version 1
// otherwise. dup reports whether the bytes were already stored.
func (c *Chain) Put(ctx context.Context, name string, data []byte, ov Overrides) (*storage.FileMetadata, bool, error) {
	if err := validate(name, ov); err != nil {
		return nil, false, storage.Wrap("put", name, err)
	}

	unlock := c.lockWrite(name)
	defer unlock()

	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, false, storage.Wrap("put", name, err)
	}

	if len(versions) == 0 {
		return c.commit(ctx, "put", name, data, nil, 1, ov)
	}
	head := versions[len(versions)-1]
	if !c.opts.Versioning {
		return c.replace(ctx, name, data, head, ov)
	}
	return c.commit(ctx, "put", name, data, head, head.Version+1, ov)
}

// CreateVersion appends a version built on base, which must be the current
// head. A nil base creates version 1 and requires the file to be absent. If
// another writer advanced the head first, the call fails with ErrConflict.
func (c *Chain) CreateVersion(ctx context.Context, name string, data []byte, base *storage.FileMetadata, ov Overrides) (*storage.FileMetadata, bool, error) {
	const op = "create_version"

	if !c.opts.Versioning {
		return nil, false, storage.NewError(storage.ErrUnsupported, op, name, nil)
	}
	if err := validate(name, ov); err != nil {
		return nil, false, storage.Wrap(op, name, err)
	}

	unlock := c.lockWrite(name)
	defer unlock()

	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, false, storage.Wrap(op, name, err)
	}

	var head *storage.FileMetadata
	if len(versions) > 0 {
		head = versions[len(versions)-1]
	}

	switch {
	case base == nil && head != nil:
		return nil, false, storage.Errorf(storage.ErrConflict, op, name, "file already has version %d", head.Version)
	case base != nil && head == nil:
		return nil, false, storage.Errorf(storage.ErrConflict, op, name, "base %s is not the head: file has no versions", base.VersionID)
	case base != nil && base.VersionID != head.VersionID:
		return nil, false, storage.Errorf(storage.ErrConflict, op, name, "base %s is not the head %s", base.VersionID, head.VersionID)
	}

	next := uint32(1)
	if head != nil {
		next = head.Version + 1
	}
	return c.commit(ctx, op, name, data, head, next, ov)
}

// RestoreVersion appends a new head carrying the bytes, content type, tags
// and custom fields of versionID. The new head's parent is the previous head.
func (c *Chain) RestoreVersion(ctx context.Context, name, versionID string) (*storage.FileMetadata, bool, error) {
	const op = "restore_version"

	if !c.opts.Versioning {
		return nil, false, storage.NewError(storage.ErrUnsupported, op, name, nil)
	}

	data, target, err := c.GetVersion(ctx, name, versionID)
	if err != nil {
		return nil, false, storage.Wrap(op, name, err)
	}

	unlock := c.lockWrite(name)
	defer unlock()

	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, false, storage.Wrap(op, name, err)
	}
	if len(versions) == 0 {
		return nil, false, storage.NewError(storage.ErrNotFound, op, name, nil)
	}
	head := versions[len(versions)-1]

	// Non-nil overrides so the target's fields win even when empty.
	custom := cloneMap(target.Custom)
	if custom == nil {
		custom = map[string]string{}
	}
	meta, dup, err := c.commit(ctx, op, name, data, head, head.Version+1, Overrides{
		ContentType: target.ContentType,
		Tags:        append([]string{}, target.Tags...),
		Custom:      custom,
	})
	if err != nil {
		return nil, false, err
	}
	logger.Debug("restored %s/%s version %d as version %d", c.storage, name, target.Version, meta.Version)
	return meta, dup, nil
}

// commit writes version number next of name. Must be called with the file
// lock held. The content reference taken by placement is released again if
// the record cannot be written.
func (c *Chain) commit(ctx context.Context, op, name string, data []byte, base *storage.FileMetadata, next uint32, ov Overrides) (*storage.FileMetadata, bool, error) {
	key := RecordKey(name, next)
	exists, err := c.backend.Exists(ctx, key)
	if err != nil {
		return nil, false, storage.Wrap(op, name, err)
	}
	if exists {
		return nil, false, storage.Errorf(storage.ErrConflict, op, name, "version %d already exists", next)
	}

	now := c.now()
	meta := &storage.FileMetadata{
		Storage:   c.storage,
		Name:      name,
		Version:   next,
		VersionID: uuid.NewString(),
		Size:      int64(len(data)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if base != nil {
		meta.ParentVersionID = base.VersionID
		meta.ContentType = base.ContentType
		meta.Tags = append([]string(nil), base.Tags...)
		meta.Custom = cloneMap(base.Custom)
	}
	applyOverrides(meta, ov)

	dup, err := c.write(ctx, op, key, data, meta)
	if err != nil {
		return nil, false, err
	}
	return meta, dup, nil
}

// replace overwrites version 1 in place when versioning is off. The record
// gets a fresh version_id; the previous content reference is released once
// the new record is durable.
func (c *Chain) replace(ctx context.Context, name string, data []byte, head *storage.FileMetadata, ov Overrides) (*storage.FileMetadata, bool, error) {
	const op = "put"

	meta := &storage.FileMetadata{
		Storage:     c.storage,
		Name:        name,
		Version:     head.Version,
		VersionID:   uuid.NewString(),
		Size:        int64(len(data)),
		ContentType: head.ContentType,
		Tags:        append([]string(nil), head.Tags...),
		Custom:      cloneMap(head.Custom),
		CreatedAt:   head.CreatedAt,
		UpdatedAt:   c.now(),
	}
	applyOverrides(meta, ov)

	dup, err := c.write(ctx, op, RecordKey(name, head.Version), data, meta)
	if err != nil {
		return nil, false, err
	}

	if err := c.backend.Delete(ctx, PointerKey(head.VersionID)); err != nil && !storage.IsNotFound(err) {
		logger.Warn("failed to remove stale pointer %s: %v", head.VersionID, err)
	}
	if err := c.release(ctx, op, head); err != nil {
		return meta, dup, err
	}
	return meta, dup, nil
}

// write places the content, then persists the record and its pointer. On
// failure everything it did is undone.
func (c *Chain) write(ctx context.Context, op, key string, data []byte, meta *storage.FileMetadata) (bool, error) {
	inline := data
	dup := false

	if c.opts.Deduplication {
		if c.index == nil {
			return false, storage.Errorf(storage.ErrInternal, op, meta.Name, "deduplication enabled without an index")
		}
		rec, hit, err := c.index.Acquire(ctx, data)
		if err != nil {
			return false, storage.Wrap(op, meta.Name, err)
		}
		meta.ContentHash = rec.Hash
		inline = []byte{}
		dup = hit
	}

	if _, err := c.backend.Put(ctx, key, inline, meta); err != nil {
		c.rollback(ctx, meta)
		return false, storage.Wrap(op, meta.Name, err)
	}

	pointer := &storage.FileMetadata{
		Storage:   meta.Storage,
		Name:      meta.Name,
		Version:   meta.Version,
		VersionID: meta.VersionID,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}
	if _, err := c.backend.Put(ctx, PointerKey(meta.VersionID), []byte{}, pointer); err != nil {
		if derr := c.backend.Delete(ctx, key); derr != nil && !storage.IsNotFound(derr) {
			logger.Warn("failed to remove version record %s after pointer failure: %v", key, derr)
		}
		c.rollback(ctx, meta)
		return false, storage.Wrap(op, meta.Name, err)
	}

	return dup, nil
}

func (c *Chain) rollback(ctx context.Context, meta *storage.FileMetadata) {
	if meta.ContentHash == "" || c.index == nil {
		return
	}
	if _, err := c.index.Release(ctx, meta.ContentHash); err != nil {
		logger.Warn("failed to release content %s after aborted write: %v", meta.ContentHash, err)
	}
}

// release drops the content reference held by meta, if any.
func (c *Chain) release(ctx context.Context, op string, meta *storage.FileMetadata) error {
	if meta.ContentHash == "" {
		return nil
	}
	if c.index == nil {
		return storage.Errorf(storage.ErrInternal, op, meta.Name, "record references %s but no index is configured", meta.ContentHash)
	}
	if _, err := c.index.Release(ctx, meta.ContentHash); err != nil {
		return storage.Wrap(op, meta.Name, err)
	}
	return nil
}

// UpdateHead rewrites the metadata of the current head in place without
// creating a version. fn receives a copy and the mutation timestamp.
func (c *Chain) UpdateHead(ctx context.Context, name string, fn func(meta *storage.FileMetadata, now time.Time) error) (*storage.FileMetadata, error) {
	const op = "update"

	unlock := c.locks.Lock(name)
	defer unlock()

	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, storage.Wrap(op, name, err)
	}
	if len(versions) == 0 {
		return nil, storage.NewError(storage.ErrNotFound, op, name, nil)
	}
	return c.rewrite(ctx, op, versions[len(versions)-1], fn)
}

// rewrite replaces the metadata stored for the version meta, keeping its
// inline bytes. It must be called with the file lock held.
func (c *Chain) rewrite(ctx context.Context, op string, meta *storage.FileMetadata, fn func(meta *storage.FileMetadata, now time.Time) error) (*storage.FileMetadata, error) {
	key := RecordKey(meta.Name, meta.Version)

	inline, _, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, storage.Wrap(op, meta.Name, err)
	}

	now := c.now()
	updated := meta.Clone()
	if err := fn(updated, now); err != nil {
		return nil, storage.Wrap(op, meta.Name, err)
	}
	updated.UpdatedAt = now

	if _, err := c.backend.Put(ctx, key, inline, updated); err != nil {
		return nil, storage.Wrap(op, meta.Name, err)
	}
	return updated, nil
}

// DeleteVersion purges one version and releases its content reference.
// Deleting the head of a file in the trash leaves the file in the trash: the
// new head takes over the deletion mark.
func (c *Chain) DeleteVersion(ctx context.Context, name, versionID string) error {
	const op = "delete_version"

	unlock := c.lockWrite(name)
	defer unlock()

	meta, err := c.resolve(ctx, op, name, versionID)
	if err != nil {
		return err
	}
	versions, err := c.versions(ctx, name)
	if err != nil {
		return storage.Wrap(op, name, err)
	}
	if err := c.purge(ctx, op, meta); err != nil {
		return err
	}

	n := len(versions)
	if !meta.IsDeleted || n < 2 || versions[n-1].Version != meta.Version {
		return nil
	}
	_, err = c.rewrite(ctx, op, versions[n-2], func(head *storage.FileMetadata, now time.Time) error {
		deletedAt := now
		if meta.DeletedAt != nil {
			deletedAt = *meta.DeletedAt
		}
		head.MarkDeleted(deletedAt)
		return nil
	})
	return err
}

// Purge permanently removes every version of name and returns how many were
// removed. Failures on individual versions do not stop the others.
func (c *Chain) Purge(ctx context.Context, name string) (int, error) {
	const op = "purge"

	unlock := c.lockWrite(name)
	defer unlock()

	versions, err := c.versions(ctx, name)
	if err != nil {
		return 0, storage.Wrap(op, name, err)
	}
	if len(versions) == 0 {
		return 0, storage.NewError(storage.ErrNotFound, op, name, nil)
	}

	removed := 0
	var errs error
	for _, meta := range versions {
		if err := c.purge(ctx, op, meta); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

// purge must be called with the file lock held.
func (c *Chain) purge(ctx context.Context, op string, meta *storage.FileMetadata) error {
	if err := c.backend.Delete(ctx, RecordKey(meta.Name, meta.Version)); err != nil {
		return storage.Wrap(op, meta.Name, err)
	}
	if err := c.backend.Delete(ctx, PointerKey(meta.VersionID)); err != nil && !storage.IsNotFound(err) {
		logger.Warn("failed to remove pointer %s: %v", meta.VersionID, err)
	}
	return c.release(ctx, op, meta)
}

// ============================================================================
// Reads
// ============================================================================

// Head returns the metadata of the latest version of name.
func (c *Chain) Head(ctx context.Context, name string) (*storage.FileMetadata, error) {
	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, storage.Wrap("head", name, err)
	}
	if len(versions) == 0 {
		return nil, storage.NewError(storage.ErrNotFound, "head", name, nil)
	}
	return versions[len(versions)-1], nil
}

// Get returns the bytes and metadata of the latest version of name.
func (c *Chain) Get(ctx context.Context, name string) ([]byte, *storage.FileMetadata, error) {
	head, err := c.Head(ctx, name)
	if err != nil {
		return nil, nil, storage.Wrap("get", name, err)
	}
	return c.read(ctx, "get", head)
}

// ListVersions returns every stored version of name in ascending order,
// soft-deleted ones included.
func (c *Chain) ListVersions(ctx context.Context, name string) ([]*storage.FileMetadata, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, storage.Wrap("list_versions", name, err)
	}
	versions, err := c.versions(ctx, name)
	if err != nil {
		return nil, storage.Wrap("list_versions", name, err)
	}
	if len(versions) == 0 {
		return nil, storage.NewError(storage.ErrNotFound, "list_versions", name, nil)
	}
	return versions, nil
}

// GetVersion returns the bytes and metadata of one version of name.
func (c *Chain) GetVersion(ctx context.Context, name, versionID string) ([]byte, *storage.FileMetadata, error) {
	meta, err := c.resolve(ctx, "get_version", name, versionID)
	if err != nil {
		return nil, nil, err
	}
	return c.read(ctx, "get_version", meta)
}

// Lookup finds a version by version_id alone.
func (c *Chain) Lookup(ctx context.Context, versionID string) (*storage.FileMetadata, error) {
	pointer, err := c.backend.Head(ctx, PointerKey(versionID))
	if err != nil {
		return nil, storage.Wrap("lookup", versionID, err)
	}
	meta, err := c.backend.Head(ctx, RecordKey(pointer.Name, pointer.Version))
	if err != nil {
		return nil, storage.Wrap("lookup", versionID, err)
	}
	if meta.VersionID != versionID {
		return nil, storage.NewError(storage.ErrNotFound, "lookup", versionID, nil)
	}
	return meta, nil
}

// Heads returns the latest version of every file whose name starts with
// prefix, sorted by name.
func (c *Chain) Heads(ctx context.Context, prefix string) ([]*storage.FileMetadata, error) {
	entries, err := c.backend.List(ctx, versionPrefix+prefix)
	if err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	heads := make(map[string]*storage.FileMetadata)
	for _, e := range entries {
		name, v, ok := parseRecordKey(e.Key)
		if !ok || e.Metadata == nil {
			continue
		}
		if cur, seen := heads[name]; !seen || v > cur.Version {
			heads[name] = e.Metadata
		}
	}

	out := make([]*storage.FileMetadata, 0, len(heads))
	for _, meta := range heads {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// References counts live version records per content hash. Soft-deleted
// versions hold their reference until purged.
func (c *Chain) References(ctx context.Context) (map[string]uint64, error) {
	entries, err := c.backend.List(ctx, versionPrefix)
	if err != nil {
		return nil, storage.Wrap("references", "", err)
	}
	refs := make(map[string]uint64)
	for _, e := range entries {
		if _, _, ok := parseRecordKey(e.Key); !ok || e.Metadata == nil {
			continue
		}
		if e.Metadata.ContentHash != "" {
			refs[e.Metadata.ContentHash]++
		}
	}
	return refs, nil
}

// FindByHash returns every file that has at least one version whose content
// hash equals hash.
func (c *Chain) FindByHash(ctx context.Context, hash string) ([]storage.FileKey, error) {
	entries, err := c.backend.List(ctx, versionPrefix)
	if err != nil {
		return nil, storage.Wrap("find_duplicates", hash, err)
	}

	seen := make(map[string]bool)
	var keys []storage.FileKey
	for _, e := range entries {
		name, _, ok := parseRecordKey(e.Key)
		if !ok || e.Metadata == nil || e.Metadata.ContentHash != hash || seen[name] {
			continue
		}
		seen[name] = true
		keys = append(keys, storage.FileKey{Storage: c.storage, Name: name})
	}
	return keys, nil
}

// resolve maps (name, versionID) to the version's metadata.
func (c *Chain) resolve(ctx context.Context, op, name, versionID string) (*storage.FileMetadata, error) {
	meta, err := c.Lookup(ctx, versionID)
	if err != nil {
		return nil, storage.Wrap(op, name, err)
	}
	if meta.Name != name {
		return nil, storage.Errorf(storage.ErrNotFound, op, name, "version %s belongs to another file", versionID)
	}
	return meta, nil
}

// read loads the bytes of the version described by meta.
func (c *Chain) read(ctx context.Context, op string, meta *storage.FileMetadata) ([]byte, *storage.FileMetadata, error) {
	inline, stored, err := c.backend.Get(ctx, RecordKey(meta.Name, meta.Version))
	if err != nil {
		return nil, nil, storage.Wrap(op, meta.Name, err)
	}
	if stored.ContentHash == "" {
		return inline, stored, nil
	}
	if c.index == nil {
		return nil, nil, storage.Errorf(storage.ErrInternal, op, meta.Name, "record references %s but no index is configured", stored.ContentHash)
	}
	data, err := c.index.Resolve(ctx, stored.ContentHash)
	if err != nil {
		return nil, nil, storage.Wrap(op, meta.Name, err)
	}
	return data, stored, nil
}

// versions lists the records of exactly name, ascending.
func (c *Chain) versions(ctx context.Context, name string) ([]*storage.FileMetadata, error) {
	entries, err := c.backend.List(ctx, RecordPrefix(name))
	if err != nil {
		return nil, err
	}

	out := make([]*storage.FileMetadata, 0, len(entries))
	for _, e := range entries {
		n, _, ok := parseRecordKey(e.Key)
		if !ok || n != name || e.Metadata == nil {
			continue
		}
		out = append(out, e.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func validate(name string, ov Overrides) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	if ov.Tags != nil {
		return storage.ValidateTags(ov.Tags)
	}
	return nil
}

func applyOverrides(meta *storage.FileMetadata, ov Overrides) {
	if ov.ContentType != "" {
		meta.ContentType = ov.ContentType
	}
	if ov.Tags != nil {
		meta.Tags = storage.NormalizeTags(ov.Tags)
	}
	if ov.Custom != nil {
		meta.Custom = cloneMap(ov.Custom)
	}
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
