package facade

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/version"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// errUnchanged aborts a head rewrite that would not change anything.
var errUnchanged = errors.New("unchanged")

// PutOptions carries the metadata supplied with new content. Zero values
// keep what the previous version had.
type PutOptions struct {
	ContentType string
	Tags        []string
	Custom      map[string]string
}

func (o PutOptions) overrides() version.Overrides {
	return version.Overrides{ContentType: o.ContentType, Tags: o.Tags, Custom: o.Custom}
}

// PutResult describes a stored write.
type PutResult struct {
	Metadata  *storage.FileMetadata `json:"metadata"`
	Duplicate bool                  `json:"is_duplicate"`
}

// Put stores data as the new content of key. The first put creates version
// 1; later puts append a version when versioning is enabled and replace the
// content otherwise. A put on a file in the trash brings it back.
func (f *Facade) Put(ctx context.Context, key storage.FileKey, data []byte, opts PutOptions) (*PutResult, error) {
	c := f.begin("put", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	meta, dup, err := s.Chain.Put(ctx, key.Name, data, opts.overrides())
	s.Cache.Invalidate(key.Name)
	if err != nil {
		return nil, c.done(err)
	}

	f.afterWrite(s, meta, dup)
	f.publish(ctx, webhook.Uploaded, key, meta)
	return &PutResult{Metadata: meta, Duplicate: dup}, c.done(nil)
}

// afterWrite reports bytes and placement of a committed write.
func (f *Facade) afterWrite(s *registry.Storage, meta *storage.FileMetadata, dup bool) {
	f.metrics.RecordBytes(s.Name, "in", meta.Size)
	if s.Deduplication {
		saved := int64(0)
		if dup {
			saved = meta.Size
		}
		f.metrics.RecordDedup(s.Name, dup, saved)
	}
}

type object struct {
	data []byte
	meta *storage.FileMetadata
}

// Get returns the bytes and metadata of the head of key. Files in the trash
// are reported as NotFound.
func (f *Facade) Get(ctx context.Context, key storage.FileKey) ([]byte, *storage.FileMetadata, error) {
	c := f.begin("get", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, nil, c.done(err)
	}

	if data, meta, ok := s.Cache.Get(key.Name); ok {
		f.metrics.RecordBytes(s.Name, "out", int64(len(data)))
		f.publish(ctx, webhook.Downloaded, key, meta)
		return data, meta, c.done(nil)
	}

	ticket := s.Cache.Reserve(key.Name)
	obj, err := read(ctx, f, c.op, func(ctx context.Context) (object, error) {
		data, meta, err := s.Chain.Get(ctx, key.Name)
		return object{data, meta}, err
	})
	if err != nil {
		return nil, nil, c.done(err)
	}
	if obj.meta.IsDeleted {
		return nil, nil, c.done(storage.Errorf(storage.ErrNotFound, c.op, key.Name, "file is in the trash"))
	}

	s.Cache.Fill(key.Name, ticket, obj.data, obj.meta)
	f.metrics.RecordBytes(s.Name, "out", int64(len(obj.data)))
	f.publish(ctx, webhook.Downloaded, key, obj.meta)
	return obj.data, obj.meta, c.done(nil)
}

// Head returns the metadata of the head of key, including files in the trash.
func (f *Facade) Head(ctx context.Context, key storage.FileKey) (*storage.FileMetadata, error) {
	c := f.begin("head", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	if _, meta, ok := s.Cache.Get(key.Name); ok {
		return meta, c.done(nil)
	}

	meta, err := read(ctx, f, c.op, func(ctx context.Context) (*storage.FileMetadata, error) {
		return s.Chain.Head(ctx, key.Name)
	})
	return meta, c.done(err)
}

// Exists reports whether key has a head that is not in the trash.
func (f *Facade) Exists(ctx context.Context, key storage.FileKey) (bool, error) {
	meta, err := f.Head(ctx, key)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !meta.IsDeleted, nil
}

// Delete is the default delete: a soft delete.
func (f *Facade) Delete(ctx context.Context, key storage.FileKey) (*storage.FileMetadata, error) {
	return f.SoftDelete(ctx, key)
}

// SoftDelete moves key to the trash. Bytes, versions and content references
// are kept. Deleting a file already in the trash is a no-op.
func (f *Facade) SoftDelete(ctx context.Context, key storage.FileKey) (*storage.FileMetadata, error) {
	return f.setDeleted(ctx, "soft_delete", key, true)
}

// Restore takes key out of the trash. Restoring an active file is a no-op.
func (f *Facade) Restore(ctx context.Context, key storage.FileKey) (*storage.FileMetadata, error) {
	return f.setDeleted(ctx, "restore", key, false)
}

func (f *Facade) setDeleted(ctx context.Context, op string, key storage.FileKey, deleted bool) (*storage.FileMetadata, error) {
	c := f.begin(op, key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var current *storage.FileMetadata
	meta, err := s.Chain.UpdateHead(ctx, key.Name, func(m *storage.FileMetadata, now time.Time) error {
		if m.IsDeleted == deleted {
			current = m
			return errUnchanged
		}
		if deleted {
			m.MarkDeleted(now)
		} else {
			m.ClearDeleted(now)
		}
		return nil
	})
	s.Cache.Invalidate(key.Name)
	if errors.Is(err, errUnchanged) {
		return current, c.done(nil)
	}
	if err != nil {
		return nil, c.done(err)
	}

	kind := webhook.Restored
	if deleted {
		kind = webhook.Deleted
	}
	f.publish(ctx, kind, key, meta)
	return meta, c.done(nil)
}

// PermanentDelete purges every version of key, whether or not it is in the
// trash, and releases the content references they held.
func (f *Facade) PermanentDelete(ctx context.Context, key storage.FileKey) (int, error) {
	c := f.begin("permanent_delete", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return 0, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	head, _ := s.Chain.Head(ctx, key.Name)
	removed, err := s.Chain.Purge(ctx, key.Name)
	s.Cache.Invalidate(key.Name)
	if removed > 0 {
		f.publish(ctx, webhook.Deleted, key, head)
	}
	return removed, c.done(err)
}

// UpdateTags replaces the tag set of the head of key in place. No version is
// created.
func (f *Facade) UpdateTags(ctx context.Context, key storage.FileKey, tags []string) (*storage.FileMetadata, error) {
	c := f.begin("update_tags", key.Storage)

	if err := storage.ValidateTags(tags); err != nil {
		return nil, c.done(storage.Wrap(c.op, key.Name, err))
	}
	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	normalized := storage.NormalizeTags(tags)
	meta, err := s.Chain.UpdateHead(ctx, key.Name, func(m *storage.FileMetadata, _ time.Time) error {
		m.Tags = normalized
		return nil
	})
	s.Cache.Invalidate(key.Name)
	if err != nil {
		return nil, c.done(err)
	}
	return meta, c.done(nil)
}
