// Package app contains the file lifecycle engine: upload, retrieval and
// deletion orchestration, the abuse rate limiter, and the expiry reaper that
// keeps the metadata and blob stores convergent. It depends only on the
// capability ports declared here; the Redis/Postgres/MinIO adapters live in
// internal/store.
package app

import (
	"context"
	"io"
	"time"

	"securedrop/internal/domain"
)

// RemovalOrigin says why a metadata record went away. The reaper behaves
// identically either way; the origin is kept for observability.
type RemovalOrigin string

const (
	// RemovalExpired marks a system-initiated TTL expiry.
	RemovalExpired RemovalOrigin = "expired"
	// RemovalDeleted marks a caller-initiated explicit or destructive delete.
	RemovalDeleted RemovalOrigin = "deleted"
)

// RemovalEvent is one message on the metadata store's removal feed: a record
// with this id no longer exists.
type RemovalEvent struct {
	ID     domain.FileID
	Origin RemovalOrigin
}

// MetadataStore is the capability port over the key-value store holding
// FileRecords and rate-limit counters. Implementations must be safe for
// concurrent use and must expire records past expires_at and counters past
// their window on their own.
type MetadataStore interface {
	// Put persists a record. The record must be durable when Put returns.
	Put(ctx context.Context, rec domain.FileRecord) error

	// Get returns the record for id, or domain.ErrNotFound if it is absent
	// or already physically expired.
	Get(ctx context.Context, id domain.FileID) (domain.FileRecord, error)

	// Delete removes the record and reports whether it existed. A removal
	// event for the id is emitted on the feed when it did.
	Delete(ctx context.Context, id domain.FileID) (bool, error)

	// IncrementCounter atomically bumps the per-identity request counter,
	// creating it with the given window on first observation, and returns
	// the post-increment count. Concurrent callers on the same identity
	// must not lose updates.
	IncrementCounter(ctx context.Context, identity string, window time.Duration) (int64, error)

	// Removals returns the feed of removed records. The channel is closed
	// when ctx is cancelled. Exactly one event is delivered per removal;
	// updates to live records never appear here.
	Removals(ctx context.Context) (<-chan RemovalEvent, error)
}

// BlobStore is the capability port over the object store holding ciphertext
// bytes keyed by file id. The server never interprets the bytes.
type BlobStore interface {
	// Put writes the ciphertext for id.
	Put(ctx context.Context, id domain.FileID, r io.Reader, size int64, contentType string) error

	// Get opens a stream over the ciphertext, returning domain.ErrNotFound
	// if the object is absent (the orphaned-metadata case included).
	Get(ctx context.Context, id domain.FileID) (io.ReadCloser, int64, error)

	// Delete removes the object. An already-absent object is success.
	Delete(ctx context.Context, id domain.FileID) error

	// PresignGet mints a time-limited direct-access URL for the object,
	// returning domain.ErrNotFound if the object does not exist.
	PresignGet(ctx context.Context, id domain.FileID, ttl time.Duration, filename string) (string, error)
}

// Clock abstracts wall-clock time so expiry logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
