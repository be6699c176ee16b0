package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"github.com/marmos91/dittostore/pkg/storage"
)

// objectModel is one stored object.
type objectModel struct {
	bun.BaseModel `bun:"table:objects"`

	Key         string `bun:"key,pk"`
	Data        []byte `bun:"data"`
	Metadata    string `bun:"metadata,notnull"`
	ContentType string `bun:"content_type"`
	Size        int64  `bun:"size,notnull"`
	CreatedAt   int64  `bun:"created_at,notnull"`
	UpdatedAt   int64  `bun:"updated_at,notnull"`
}

func (b *SQLBackend) Put(ctx context.Context, key string, data []byte, meta *storage.FileMetadata) (string, error) {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", storage.Wrap("put", key, err)
	}

	now := time.Now().Unix()
	model := &objectModel{
		Key:       key,
		Data:      data,
		Metadata:  string(encoded),
		Size:      int64(len(data)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if meta != nil {
		model.ContentType = meta.ContentType
	}
	if model.Data == nil {
		model.Data = []byte{}
	}

	_, err = b.db.NewInsert().
		Model(model).
		On("CONFLICT (key) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("metadata = EXCLUDED.metadata").
		Set("content_type = EXCLUDED.content_type").
		Set("size = EXCLUDED.size").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return "", storage.Wrap("put", key, err)
	}

	return b.driver + "://objects/" + key, nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	var model objectModel
	err := b.db.NewSelect().
		Model(&model).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		return nil, nil, translate("get", key, err)
	}

	meta, err := decodeMeta("get", key, model.Metadata)
	if err != nil {
		return nil, nil, err
	}
	if model.Data == nil {
		model.Data = []byte{}
	}
	return model.Data, meta, nil
}

func (b *SQLBackend) Head(ctx context.Context, key string) (*storage.FileMetadata, error) {
	var model objectModel
	err := b.db.NewSelect().
		Model(&model).
		Column("key", "metadata").
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		return nil, translate("head", key, err)
	}
	return decodeMeta("head", key, model.Metadata)
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	res, err := b.db.NewDelete().
		Model((*objectModel)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return storage.Wrap("delete", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap("delete", key, err)
	}
	if n == 0 {
		return storage.NewError(storage.ErrNotFound, "delete", key, nil)
	}
	return nil
}

func (b *SQLBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := b.db.NewSelect().
		Model((*objectModel)(nil)).
		Where("key = ?", key).
		Exists(ctx)
	if err != nil {
		return false, storage.Wrap("exists", key, err)
	}
	return exists, nil
}

// List selects metadata only; payloads are never loaded for listings.
// substr() is used instead of LIKE so prefixes need no wildcard escaping.
func (b *SQLBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	var models []objectModel
	q := b.db.NewSelect().
		Model(&models).
		Column("key", "metadata").
		Order("key ASC")
	if prefix != "" {
		q = q.Where("substr(key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	entries := make([]storage.Entry, 0, len(models))
	for _, m := range models {
		meta, err := decodeMeta("list", m.Key, m.Metadata)
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.Entry{Key: m.Key, Metadata: meta})
	}
	return entries, nil
}

func decodeMeta(op, key, raw string) (*storage.FileMetadata, error) {
	var meta storage.FileMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, storage.Wrap(op, key, err)
	}
	return &meta, nil
}

func translate(op, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NewError(storage.ErrNotFound, op, key, nil)
	}
	return storage.Wrap(op, key, err)
}
