package facade

import (
	"context"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// CreateVersionOptions carries the metadata of an explicitly created version.
type CreateVersionOptions struct {
	PutOptions

	// BaseVersionID is the version the caller built on. It must still be the
	// head when the version is committed, otherwise the call fails with
	// Conflict. Empty means "whatever the head is now".
	BaseVersionID string
}

// CreateVersion appends a version to key. Tags and custom fields are copied
// forward from the head unless overridden. Concurrent creators built on the
// same head race; exactly one wins and the others get Conflict.
func (f *Facade) CreateVersion(ctx context.Context, key storage.FileKey, data []byte, opts CreateVersionOptions) (*PutResult, error) {
	c := f.begin("create_version", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var base *storage.FileMetadata
	if opts.BaseVersionID != "" {
		base = &storage.FileMetadata{Storage: key.Storage, Name: key.Name, VersionID: opts.BaseVersionID}
	} else {
		head, err := s.Chain.Head(ctx, key.Name)
		if err != nil && !storage.IsNotFound(err) {
			return nil, c.done(err)
		}
		base = head
	}

	meta, dup, err := s.Chain.CreateVersion(ctx, key.Name, data, base, opts.overrides())
	s.Cache.Invalidate(key.Name)
	if err != nil {
		return nil, c.done(err)
	}

	f.afterWrite(s, meta, dup)
	f.metrics.RecordVersion(s.Name, "created")
	f.publish(ctx, webhook.VersionCreated, key, meta)
	return &PutResult{Metadata: meta, Duplicate: dup}, c.done(nil)
}

// ListVersions returns every stored version of key in ascending order,
// soft-deleted heads included.
func (f *Facade) ListVersions(ctx context.Context, key storage.FileKey) ([]*storage.FileMetadata, error) {
	c := f.begin("list_versions", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	versions, err := read(ctx, f, c.op, func(ctx context.Context) ([]*storage.FileMetadata, error) {
		return s.Chain.ListVersions(ctx, key.Name)
	})
	return versions, c.done(err)
}

// GetVersion returns the bytes and metadata of one version of key.
func (f *Facade) GetVersion(ctx context.Context, key storage.FileKey, versionID string) ([]byte, *storage.FileMetadata, error) {
	c := f.begin("get_version", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, nil, c.done(err)
	}

	obj, err := read(ctx, f, c.op, func(ctx context.Context) (object, error) {
		data, meta, err := s.Chain.GetVersion(ctx, key.Name, versionID)
		return object{data, meta}, err
	})
	if err != nil {
		return nil, nil, c.done(err)
	}

	f.metrics.RecordBytes(s.Name, "out", int64(len(obj.data)))
	f.publish(ctx, webhook.Downloaded, key, obj.meta)
	return obj.data, obj.meta, c.done(nil)
}

// RestoreVersion makes the content of versionID current again by appending
// a new head whose parent is the previous head. No history is rewritten.
func (f *Facade) RestoreVersion(ctx context.Context, key storage.FileKey, versionID string) (*PutResult, error) {
	c := f.begin("restore_version", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	meta, dup, err := s.Chain.RestoreVersion(ctx, key.Name, versionID)
	s.Cache.Invalidate(key.Name)
	if err != nil {
		return nil, c.done(err)
	}

	f.afterWrite(s, meta, dup)
	f.metrics.RecordVersion(s.Name, "restored")
	f.publish(ctx, webhook.VersionCreated, key, meta)
	return &PutResult{Metadata: meta, Duplicate: dup}, c.done(nil)
}

// DeleteVersion permanently removes one version of key and releases its
// content reference. Deleting the head makes the previous version current.
func (f *Facade) DeleteVersion(ctx context.Context, key storage.FileKey, versionID string) error {
	c := f.begin("delete_version", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	target, _ := s.Chain.Lookup(ctx, versionID)
	err = s.Chain.DeleteVersion(ctx, key.Name, versionID)
	s.Cache.Invalidate(key.Name)
	if err != nil {
		return c.done(err)
	}

	f.publish(ctx, webhook.Deleted, key, target)
	return c.done(nil)
}
