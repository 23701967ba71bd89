package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tgasco/portfolio-sync/internal/digest"
)

const digestMetadataKey = "digest"

// Config holds the connection settings for a bucket store.
type Config struct {
	// Endpoint is the S3 host, e.g. "s3.eu-west-2.amazonaws.com" or a
	// local store's "localhost:9000".
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	// Secure selects HTTPS transport to the endpoint.
	Secure bool
}

// BucketStore is a Store backed by a single S3-compatible bucket.
type BucketStore struct {
	client *minio.Client
	bucket string
}

// New connects a BucketStore to the configured endpoint.
func New(cfg Config) (*BucketStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name must not be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Region: cfg.Region,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &BucketStore{client: client, bucket: cfg.Bucket}, nil
}

// NewWithClient wraps an existing minio client; used by tests and by
// callers that need custom client options.
func NewWithClient(client *minio.Client, bucket string) *BucketStore {
	return &BucketStore{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *BucketStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StoreError{Op: "bucket-exists", Key: s.bucket, Err: err}
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return &StoreError{Op: "make-bucket", Key: s.bucket, Err: err}
		}
		slog.Info("Created bucket", "bucket", s.bucket)
	}
	return nil
}

func (s *BucketStore) ExistsAndCurrent(ctx context.Context, key string, dgst string) (bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &StoreError{Op: "stat", Key: key, Err: err}
	}

	stored := info.UserMetadata["Digest"]
	if stored == "" {
		stored = info.UserMetadata[digestMetadataKey]
	}
	return stored == dgst && stored != "", nil
}

func (s *BucketStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	dgst := digest.Sum(data)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{digestMetadataKey: dgst},
	})
	if err != nil {
		return "", &StoreError{Op: "put", Key: key, Err: err}
	}

	slog.Debug("Uploaded object", "key", key, "size", len(data), "digest", dgst)
	return s.URLFor(key), nil
}

func (s *BucketStore) Get(ctx context.Context, key string) (Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, &StoreError{Op: "get", Key: key, Err: err}
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("get %q: %w", key, ErrNotFound)
		}
		return Object{}, &StoreError{Op: "get", Key: key, Err: err}
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, &StoreError{Op: "get", Key: key, Err: err}
	}

	return Object{Data: data, ContentType: stat.ContentType}, nil
}

func (s *BucketStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *BucketStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", &StoreError{Op: "presign", Key: key, Err: err}
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", &StoreError{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

func (s *BucketStore) URLFor(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key)
}

// isNotFound reports whether err is the store's "no such object or
// bucket" response rather than a transport failure.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
}
