package badger

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittostore/pkg/storage"
)

func (b *BadgerBackend) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if b.ttl > 0 {
		e = e.WithTTL(b.ttl)
	}
	return e
}

func (b *BadgerBackend) Put(ctx context.Context, key string, data []byte, meta *storage.FileMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Wrap("put", key, err)
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", storage.Wrap("put", key, err)
	}

	// Empty values are legal in badger, but copy so the caller may reuse data.
	value := make([]byte, len(data))
	copy(value, data)

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(b.entry([]byte(prefixData+key), value)); err != nil {
			return err
		}
		return txn.SetEntry(b.entry([]byte(prefixMeta+key), encoded))
	})
	if err != nil {
		return "", translate("put", key, err)
	}

	return "badger://" + key, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Wrap("get", key, err)
	}

	var data []byte
	var meta *storage.FileMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		if meta, err = readMeta(txn, key); err != nil {
			return err
		}
		item, err := txn.Get([]byte(prefixData + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, translate("get", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, meta, nil
}

func (b *BadgerBackend) Head(ctx context.Context, key string) (*storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("head", key, err)
	}

	var meta *storage.FileMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = readMeta(txn, key)
		return err
	})
	if err != nil {
		return nil, translate("head", key, err)
	}
	return meta, nil
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("delete", key, err)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixMeta + key)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixMeta + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixData + key))
	})
	return translate("delete", key, err)
}

func (b *BadgerBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.Wrap("exists", key, err)
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixMeta + key))
		return err
	})
	if err == nil {
		return true, nil
	}
	if storage.IsNotFound(translate("exists", key, err)) {
		return false, nil
	}
	return false, translate("exists", key, err)
}

// List iterates metadata keys under prefix. Badger iterates in byte order,
// so results are already sorted by key.
func (b *BadgerBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	var entries []storage.Entry
	scanned := 0

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixMeta + prefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			// Check for cancellation periodically
			scanned++
			if scanned%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			key := strings.TrimPrefix(string(item.KeyCopy(nil)), prefixMeta)

			var meta storage.FileMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			entries = append(entries, storage.Entry{Key: key, Metadata: &meta})
		}
		return nil
	})
	if err != nil {
		return nil, translate("list", prefix, err)
	}
	return entries, nil
}

func readMeta(txn *badger.Txn, key string) (*storage.FileMetadata, error) {
	item, err := txn.Get([]byte(prefixMeta + key))
	if err != nil {
		return nil, err
	}
	var meta storage.FileMetadata
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	}); err != nil {
		return nil, err
	}
	return &meta, nil
}
