// Package miniostore implements the blob store port on MinIO / any
// S3-compatible object store. Ciphertext bytes are opaque octets keyed by the
// file id; retrieval hands out short-lived presigned GET URLs or streams.
package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"securedrop/internal/domain"
)

// Config holds the object-store connection settings.
type Config struct {
	Endpoint  string // "minio:9000" or "https://minio:9000"
	AccessKey string
	SecretKey string
	Bucket    string
}

// Store is the MinIO-backed blob adapter. Safe for concurrent use.
type Store struct {
	mc     *minio.Client
	bucket string
}

// New connects to the object store and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s", cfg.Bucket)
	}

	return &Store{mc: mc, bucket: cfg.Bucket}, nil
}

// Put writes the ciphertext under the file id. The advisory content type
// from the client stays in metadata only; the object itself is always stored
// as opaque octets.
func (s *Store) Put(ctx context.Context, id domain.FileID, r io.Reader, size int64, _ string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, id.String(), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// Get opens a stream over the object. Absence is reported as
// domain.ErrNotFound; the Stat call forces the error early instead of on the
// first Read.
func (s *Store) Get(ctx context.Context, id domain.FileID) (io.ReadCloser, int64, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, id.String(), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, mapMinioErr(err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, mapMinioErr(err)
	}
	return obj, st.Size, nil
}

// Delete removes the object. S3 delete is idempotent, so an already-absent
// key is success without special handling.
func (s *Store) Delete(ctx context.Context, id domain.FileID) error {
	err := s.mc.RemoveObject(ctx, s.bucket, id.String(), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

// PresignGet mints a time-limited URL for direct ciphertext download. The
// object existence is checked first so orphaned metadata surfaces as not
// found instead of a signed URL that 404s later.
func (s *Store) PresignGet(ctx context.Context, id domain.FileID, ttl time.Duration, filename string) (string, error) {
	if _, err := s.mc.StatObject(ctx, s.bucket, id.String(), minio.StatObjectOptions{}); err != nil {
		return "", mapMinioErr(err)
	}

	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	u, err := s.mc.PresignedGetObject(ctx, s.bucket, id.String(), ttl, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func mapMinioErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return domain.ErrNotFound
	}
	return err
}

// normaliseEndpoint accepts either "host:port" or a scheme-prefixed URL and
// returns the bare endpoint plus whether TLS should be used.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}
