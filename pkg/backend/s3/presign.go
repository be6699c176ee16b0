package s3

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittostore/pkg/storage"
)

// PresignGet returns a time-limited URL for downloading the data object.
func (b *S3Backend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*storage.PresignedURL, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dataKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, storage.Wrap("presign_get", key, err)
	}
	return toPresignedURL(req.URL, req.Method, req.SignedHeader, ttl), nil
}

// PresignPut returns a time-limited URL for uploading the data object.
// The uploader only writes bytes; metadata still has to be committed
// through a regular put.
func (b *S3Backend) PresignPut(ctx context.Context, key string, ttl time.Duration) (*storage.PresignedURL, error) {
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dataKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, storage.Wrap("presign_put", key, err)
	}
	return toPresignedURL(req.URL, req.Method, req.SignedHeader, ttl), nil
}

func toPresignedURL(url, method string, signed http.Header, ttl time.Duration) *storage.PresignedURL {
	headers := make(map[string]string, len(signed))
	for k, v := range signed {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &storage.PresignedURL{
		URL:       url,
		Method:    method,
		Headers:   headers,
		ExpiresAt: time.Now().Add(ttl),
	}
}
