package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittostore/pkg/storage"
)

func (b *S3Backend) Put(ctx context.Context, key string, data []byte, meta *storage.FileMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Wrap("put", key, err)
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", storage.Wrap("put", key, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dataKey(key)),
		Body:   bytes.NewReader(data),
	}
	if meta != nil && meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}

	start := time.Now()
	_, err = b.client.PutObject(ctx, input)
	if err = b.observe("PutObject", start, err); err != nil {
		return "", storage.Wrap("put", key, err)
	}
	b.metrics.RecordBytes("write", int64(len(data)))

	start = time.Now()
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.metaKey(key)),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/json"),
	})
	if err = b.observe("PutObject", start, err); err != nil {
		return "", storage.Wrap("put", key, err)
	}

	return "s3://" + b.bucket + "/" + b.dataKey(key), nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Wrap("get", key, err)
	}

	meta, err := b.readMeta(ctx, "get", key)
	if err != nil {
		return nil, nil, err
	}

	data, err := b.readObject(ctx, b.dataKey(key))
	if err != nil {
		return nil, nil, translate("get", key, err)
	}
	b.metrics.RecordBytes("read", int64(len(data)))

	return data, meta, nil
}

func (b *S3Backend) Head(ctx context.Context, key string) (*storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("head", key, err)
	}
	return b.readMeta(ctx, "head", key)
}

// Delete removes the sidecar first, then the data object. S3 deletes are
// idempotent, so existence is checked up front to report NotFound.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NewError(storage.ErrNotFound, "delete", key, nil)
	}

	for _, objectKey := range []string{b.metaKey(key), b.dataKey(key)} {
		start := time.Now()
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey),
		})
		if err = b.observe("DeleteObject", start, err); err != nil {
			return storage.Wrap("delete", key, err)
		}
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.Wrap("exists", key, err)
	}

	start := time.Now()
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.metaKey(key)),
	})
	_ = b.observe("HeadObject", start, err)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, storage.Wrap("exists", key, err)
}

// List pages through sidecars under prefix and decodes each one.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.keyPrefix + metaDir + prefix),
	})

	var entries []storage.Entry
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		if err = b.observe("ListObjectsV2", start, err); err != nil {
			return nil, storage.Wrap("list", prefix, err)
		}

		for _, obj := range page.Contents {
			key, ok := b.keyFromMeta(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			meta, err := b.readMeta(ctx, "list", key)
			if storage.IsNotFound(err) {
				// Deleted between the listing and the read.
				continue
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, storage.Entry{Key: key, Metadata: meta})
		}
	}

	// S3 lists sidecar keys in byte order, but the ".json" suffix can reorder
	// keys that share a prefix ("a" vs "a/b"), so sort on the logical key.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *S3Backend) readMeta(ctx context.Context, op, key string) (*storage.FileMetadata, error) {
	raw, err := b.readObject(ctx, b.metaKey(key))
	if err != nil {
		return nil, translate(op, key, err)
	}
	var meta storage.FileMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, storage.Wrap(op, key, err)
	}
	return &meta, nil
}

func (b *S3Backend) readObject(ctx context.Context, objectKey string) ([]byte, error) {
	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err = b.observe("GetObject", start, err); err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
