// Package s3 implements a storage.Backend on Amazon S3 or S3-compatible storage.
//
// Object Layout:
//
//	<prefix>data/<key>       raw bytes
//	<prefix>meta/<key>.json  JSON encoded storage.FileMetadata
//
// The metadata sidecar is written after the data object and removed before
// it, so a listing (which walks sidecars) never names an object whose data
// is missing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittostore/pkg/storage"
)

const (
	dataDir = "data/"
	metaDir = "meta/"
	metaExt = ".json"
)

// S3BackendConfig contains configuration for the S3 backend.
type S3BackendConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "dittostore/docs/" results in keys like "dittostore/docs/data/v/a.txt/0000000001"
	KeyPrefix string

	// Metrics is optional. A nil value disables S3 metrics.
	Metrics S3Metrics
}

// S3Backend implements storage.Backend using S3.
//
// Thread Safety:
// The S3 client is safe for concurrent use. Concurrent writes to the same key
// are last-write-wins; callers serialize per key above this layer.
type S3Backend struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
	metrics   S3Metrics
}

// NewS3Backend creates a new S3 backend and verifies bucket access. The bucket
// must already exist.
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &S3Backend{
		client:    cfg.Client,
		presign:   s3.NewPresignClient(cfg.Client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   metrics,
	}, nil
}

func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op; the S3 client holds no resources that need releasing.
func (b *S3Backend) Close() error { return nil }

func (b *S3Backend) dataKey(key string) string {
	return b.keyPrefix + dataDir + key
}

func (b *S3Backend) metaKey(key string) string {
	return b.keyPrefix + metaDir + key + metaExt
}

// keyFromMeta inverts metaKey. ok is false for objects that are not sidecars.
func (b *S3Backend) keyFromMeta(objectKey string) (string, bool) {
	rest, ok := strings.CutPrefix(objectKey, b.keyPrefix+metaDir)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, metaExt)
}

// observe records one S3 call and returns err unchanged.
func (b *S3Backend) observe(op string, start time.Time, err error) error {
	b.metrics.ObserveOperation(op, time.Since(start), err)
	return err
}

// isNotFound reports whether err is S3's way of saying the object is absent.
// GetObject returns NoSuchKey while HeadObject returns a bare 404 NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func translate(op, key string, err error) error {
	if isNotFound(err) {
		return storage.NewError(storage.ErrNotFound, op, key, nil)
	}
	return storage.Wrap(op, key, err)
}
