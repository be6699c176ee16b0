package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend/badger"
	"github.com/marmos91/dittostore/pkg/backend/fs"
	"github.com/marmos91/dittostore/pkg/backend/memory"
	"github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/backend/sql"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/storage"
)

// decode copies a type-specific option map into out, converting duration
// strings such as "30s".
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateBackend creates a backend based on storage configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration from
// the corresponding map and passes it to the backend's constructor.
//
// Supported types:
//   - "memory": pkg/backend/memory (ephemeral)
//   - "filesystem": pkg/backend/fs (local directory)
//   - "s3": pkg/backend/s3 (Amazon S3 or compatible storage)
//   - "sql": pkg/backend/sql (libsql/SQLite or PostgreSQL)
//   - "badger": pkg/backend/badger (embedded key-value store with expiry)
func CreateBackend(ctx context.Context, cfg StorageConfig, s3Metrics s3.S3Metrics) (storage.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return memory.NewMemoryBackend(ctx)
	case "filesystem":
		return createFilesystemBackend(ctx, cfg.Filesystem)
	case "s3":
		return createS3Backend(ctx, cfg.S3, s3Metrics)
	case "sql":
		return createSQLBackend(ctx, cfg.SQL)
	case "badger":
		return createBadgerBackend(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown backend type: %q (supported: memory, filesystem, s3, sql, badger)", cfg.Type)
	}
}

// createFilesystemBackend creates a filesystem-based backend.
func createFilesystemBackend(ctx context.Context, options map[string]any) (storage.Backend, error) {
	type FilesystemBackendOptions struct {
		Path string `mapstructure:"path"`
	}

	var opts FilesystemBackendOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem backend config: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem backend: path is required")
	}

	backend, err := fs.NewFSBackend(ctx, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem backend: %w", err)
	}
	return backend, nil
}

// s3Options is the s3 section of a storage.
type s3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// createS3Backend creates an S3-based backend.
func createS3Backend(ctx context.Context, options map[string]any, metrics s3.S3Metrics) (storage.Backend, error) {
	var opts s3Options
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 backend: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 backend: region is required")
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	backend, err := s3.NewS3Backend(ctx, s3.S3BackendConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)
	return backend, nil
}

// newS3Client builds an S3 client from the AWS default chain plus the
// configured overrides.
func newS3Client(ctx context.Context, opts s3Options) (*awss3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// createSQLBackend creates a relational backend.
func createSQLBackend(ctx context.Context, options map[string]any) (storage.Backend, error) {
	var opts sql.SQLBackendConfig
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode sql backend config: %w", err)
	}

	backend, err := sql.NewSQLBackend(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql backend: %w", err)
	}
	return backend, nil
}

// createBadgerBackend creates a BadgerDB backend.
func createBadgerBackend(ctx context.Context, options map[string]any) (storage.Backend, error) {
	var opts badger.BadgerBackendConfig
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}
	if opts.Path == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger backend: path is required")
	}

	backend, err := badger.NewBadgerBackend(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return backend, nil
}

// storageCache resolves the cache configuration of one storage: the global
// section with the storage's overrides applied on top.
func storageCache(global cache.Config, overrides map[string]any) (cache.Config, error) {
	out := global
	if len(overrides) == 0 {
		return out, nil
	}
	if err := decode(overrides, &out); err != nil {
		return cache.Config{}, fmt.Errorf("invalid cache override: %w", err)
	}
	if out.TTL < 0 {
		return cache.Config{}, fmt.Errorf("invalid cache override: negative ttl %s", out.TTL)
	}
	return out, nil
}
