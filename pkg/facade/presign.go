package facade

import (
	"context"
	"time"

	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/version"
)

// DefaultPresignTTL is used when a caller passes no expiry.
const DefaultPresignTTL = time.Hour

// PresignDownload issues a direct download URL for the head of key. Only
// backends implementing storage.Presigner support it; others return
// Unsupported.
func (f *Facade) PresignDownload(ctx context.Context, key storage.FileKey, ttl time.Duration) (*storage.PresignedURL, error) {
	c := f.begin("presign_download", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	head, err := read(ctx, f, c.op, func(ctx context.Context) (*storage.FileMetadata, error) {
		return s.Chain.Head(ctx, key.Name)
	})
	if err != nil {
		return nil, c.done(err)
	}
	if head.IsDeleted {
		return nil, c.done(storage.Errorf(storage.ErrNotFound, c.op, key.Name, "file is in the trash"))
	}

	physical := version.RecordKey(head.Name, head.Version)
	if head.ContentHash != "" {
		physical = dedup.BlobKey(head.ContentHash)
	}
	url, err := storage.PresignGet(ctx, s.Backend, physical, ttl)
	return url, c.done(storage.Wrap(c.op, key.Name, err))
}

// PresignUpload issues a direct upload URL into the staging area of key
// (u/<name>). Bytes uploaded there are outside the version chain until
// ingested with Put.
func (f *Facade) PresignUpload(ctx context.Context, key storage.FileKey, ttl time.Duration) (*storage.PresignedURL, error) {
	c := f.begin("presign_upload", key.Storage)

	s, err := f.open(c.op, key)
	if err != nil {
		return nil, c.done(err)
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	url, err := storage.PresignPut(ctx, s.Backend, version.StagingKey(key.Name), ttl)
	return url, c.done(storage.Wrap(c.op, key.Name, err))
}
