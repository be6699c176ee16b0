package facade

import (
	"context"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Trash lists the files of storageName currently in the trash.
func (f *Facade) Trash(ctx context.Context, storageName string) ([]*storage.FileMetadata, error) {
	c := f.begin("list_trash", storageName)

	heads, err := f.scan(ctx, c.op, storageName, SearchQuery{IncludeDeleted: true})
	if err != nil {
		return nil, c.done(err)
	}
	out := heads[:0]
	for _, meta := range heads {
		if meta.IsDeleted {
			out = append(out, meta)
		}
	}
	return out, c.done(nil)
}

// EmptyTrash permanently deletes every file of storageName in the trash.
// Each file is purged independently; failures are reported per file.
func (f *Facade) EmptyTrash(ctx context.Context, storageName string) (*BulkResult, error) {
	trash, err := f.Trash(ctx, storageName)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(trash))
	for i, meta := range trash {
		names[i] = meta.Name
	}
	return each(ctx, names, func(ctx context.Context, i int) error {
		_, err := f.PermanentDelete(ctx, storage.FileKey{Storage: storageName, Name: names[i]})
		return err
	}), nil
}
