package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"securedrop/internal/domain"
)

// RetrievalMode selects how ciphertext access is granted.
type RetrievalMode int

const (
	// ModePresign hands the client a short-lived direct-access URL. The
	// "download" event for destroy-on-download is the URL issuance, not
	// the actual fetch: a client that never follows the URL still burns
	// the file. Simpler, and matches object-store deployments.
	ModePresign RetrievalMode = iota
	// ModeStream proxies the ciphertext through the server. Destruction
	// fires once the stream has been fully handed off (reader closed), so
	// "download" means the bytes actually left the server.
	ModeStream
)

// UploadRequest carries one upload. Data is the whole ciphertext; the
// transport layer has already bounded the body size, the service enforces
// the cap again before touching any store.
type UploadRequest struct {
	Data              []byte
	Nonce             []byte
	Filename          string
	ContentType       string
	ExpiresInHours    int
	DestroyOnDownload bool
	Identity          string
}

// UploadResult is echoed to the uploader: the share id plus the nonce the
// client needs to build the decryption link.
type UploadResult struct {
	ID    domain.FileID
	Nonce []byte
}

// RetrieveResult grants ciphertext access. Exactly one of URL (presign mode)
// or Body (stream mode) is set.
type RetrieveResult struct {
	URL               string
	Body              io.ReadCloser
	Size              int64
	Nonce             []byte
	Filename          string
	ContentType       string
	DestroyOnDownload bool
}

// DeletionOutcome is the result of an explicit delete request.
type DeletionOutcome string

const (
	OutcomeDeleted     DeletionOutcome = "deleted"
	OutcomeKept        DeletionOutcome = "kept"
	OutcomeAlreadyGone DeletionOutcome = "already_gone"
)

// Config holds the service tunables.
type Config struct {
	MaxUploadBytes int64
	PresignTTL     time.Duration
	Mode           RetrievalMode
}

// Service orchestrates the file lifecycle over the injected stores. The
// synchronous guarantee of Upload is metadata durability; the blob write and
// destructive cleanup run on the background Runner after the response.
type Service struct {
	meta     MetadataStore
	blobs    BlobStore
	clock    Clock
	tasks    *Runner
	uploads  *Limiter
	download *Limiter
	log      *slog.Logger
	cfg      Config
}

// NewService wires the lifecycle engine.
func NewService(meta MetadataStore, blobs BlobStore, clock Clock, tasks *Runner, uploads, downloads *Limiter, log *slog.Logger, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 5 * time.Minute
	}
	return &Service{
		meta:     meta,
		blobs:    blobs,
		clock:    clock,
		tasks:    tasks,
		uploads:  uploads,
		download: downloads,
		log:      log,
		cfg:      cfg,
	}
}

// Upload validates the request, persists the metadata record, schedules the
// deferred blob write, and returns the share id. The caller gets a success
// as soon as metadata is durable; a blob write failure afterwards leaves an
// orphaned record that retrieval reports as not found and operators see in
// the logs.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return UploadResult{}, domain.ErrTooLarge
	}
	if err := domain.ValidateNonce(req.Nonce); err != nil {
		return UploadResult{}, err
	}
	if err := domain.ValidateExpiryHours(req.ExpiresInHours); err != nil {
		return UploadResult{}, err
	}

	// Fail-closed: an unreachable counter store blocks uploads.
	if err := s.uploads.Admit(ctx, req.Identity); err != nil {
		return UploadResult{}, err
	}

	id := domain.NewFileID()
	rec := domain.FileRecord{
		ID:                id,
		Nonce:             req.Nonce,
		Filename:          domain.SanitizeFilename(req.Filename),
		ContentType:       req.ContentType,
		ExpiresAt:         s.clock.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour),
		DestroyOnDownload: req.DestroyOnDownload,
	}

	if err := s.meta.Put(ctx, rec); err != nil {
		s.log.Error("metadata write failed", "file_id", id, "err", err)
		return UploadResult{}, fmt.Errorf("metadata put: %w", domain.ErrStoreUnavailable)
	}

	// Metadata is durable; the ciphertext write happens after the response.
	data := req.Data
	contentType := rec.ContentType
	s.tasks.Submit("blob_write", id.String(), func(ctx context.Context) error {
		return s.blobs.Put(ctx, id, bytes.NewReader(data), int64(len(data)), contentType)
	})

	s.log.Info("upload accepted",
		"file_id", id,
		"size_bytes", len(req.Data),
		"expires_in_hours", req.ExpiresInHours,
		"destroy_on_download", req.DestroyOnDownload,
	)
	return UploadResult{ID: id, Nonce: req.Nonce}, nil
}

// Retrieve grants access to a stored ciphertext. Records past expires_at are
// reported absent even before the store reaps them, and orphaned metadata
// (blob write never landed) surfaces as not found rather than a broken link.
func (s *Service) Retrieve(ctx context.Context, idStr, identity string) (RetrieveResult, error) {
	// Identifier shape is checked before any store access, including the
	// rate counter, to keep junk out of the keyspace.
	id, err := domain.ParseFileID(idStr)
	if err != nil {
		return RetrieveResult{}, err
	}

	// The download limiter is wired fail-open, so a counter store outage
	// comes back as nil here and reads stay available.
	if err := s.download.Admit(ctx, identity); err != nil {
		return RetrieveResult{}, err
	}

	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return RetrieveResult{}, domain.ErrNotFound
		}
		s.log.Error("metadata read failed", "file_id", id, "err", err)
		return RetrieveResult{}, fmt.Errorf("metadata get: %w", domain.ErrStoreUnavailable)
	}
	if rec.Expired(s.clock.Now()) {
		return RetrieveResult{}, domain.ErrNotFound
	}

	res := RetrieveResult{
		Nonce:             rec.Nonce,
		Filename:          rec.Filename,
		ContentType:       rec.ContentType,
		DestroyOnDownload: rec.DestroyOnDownload,
	}

	switch s.cfg.Mode {
	case ModeStream:
		rc, size, err := s.blobs.Get(ctx, id)
		if err != nil {
			return RetrieveResult{}, s.blobAccessError(id, err)
		}
		res.Size = size
		if rec.DestroyOnDownload {
			// Destruction fires when the transport finishes copying and
			// closes the body, exactly once.
			res.Body = &destroyOnClose{rc: rc, fire: func() { s.scheduleDestroy(id) }}
		} else {
			res.Body = rc
		}
	default:
		url, err := s.blobs.PresignGet(ctx, id, s.cfg.PresignTTL, rec.Filename)
		if err != nil {
			return RetrieveResult{}, s.blobAccessError(id, err)
		}
		res.URL = url
		if rec.DestroyOnDownload {
			// URL issuance is the download event in this mode.
			s.scheduleDestroy(id)
		}
	}

	s.log.Info("access granted", "file_id", id, "destroy_on_download", rec.DestroyOnDownload)
	return res, nil
}

// Delete handles an explicit deletion request. Only records flagged
// destroy-on-download are honored; everything else is kept. Missing records
// are reported already gone, not errors.
func (s *Service) Delete(ctx context.Context, idStr string) (DeletionOutcome, error) {
	id, err := domain.ParseFileID(idStr)
	if err != nil {
		return "", err
	}

	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeAlreadyGone, nil
		}
		return "", fmt.Errorf("metadata get: %w", domain.ErrStoreUnavailable)
	}
	if !rec.DestroyOnDownload {
		return OutcomeKept, nil
	}

	// Metadata first, blob second: a crash in between leaves an orphaned
	// blob the reaper cleans up, never a phantom record.
	existed, err := s.meta.Delete(ctx, id)
	if err != nil {
		s.log.Error("metadata delete failed", "file_id", id, "err", err)
		return "", fmt.Errorf("metadata delete: %w", domain.ErrStoreUnavailable)
	}
	if !existed {
		return OutcomeAlreadyGone, nil
	}
	if err := s.blobs.Delete(ctx, id); err != nil {
		// The removal event already reached the reaper; log and move on.
		s.log.Error("blob delete failed", "file_id", id, "err", err)
	}
	s.log.Info("file deleted", "file_id", id)
	return OutcomeDeleted, nil
}

// scheduleDestroy queues the destructive cleanup for a single-use record:
// metadata record first, then the blob, off the response path.
func (s *Service) scheduleDestroy(id domain.FileID) {
	s.tasks.Submit("destroy", id.String(), func(ctx context.Context) error {
		existed, err := s.meta.Delete(ctx, id)
		if err != nil {
			// Blob stays put so no phantom record can appear; the record
			// still expires by TTL and the reaper cleans the blob then.
			return fmt.Errorf("metadata delete: %w", err)
		}
		if !existed {
			return nil
		}
		if err := s.blobs.Delete(ctx, id); err != nil {
			return fmt.Errorf("blob delete: %w", err)
		}
		return nil
	})
}

func (s *Service) blobAccessError(id domain.FileID, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		// Orphaned metadata: the deferred blob write never landed.
		s.log.Warn("metadata without blob", "file_id", id)
		return domain.ErrNotFound
	}
	s.log.Error("blob access failed", "file_id", id, "err", err)
	return fmt.Errorf("blob access: %w", domain.ErrStoreUnavailable)
}

// destroyOnClose triggers destructive cleanup the first time the stream is
// closed, after the ciphertext has been handed off.
type destroyOnClose struct {
	rc   io.ReadCloser
	fire func()
	once sync.Once
}

func (d *destroyOnClose) Read(p []byte) (int, error) { return d.rc.Read(p) }

func (d *destroyOnClose) Close() error {
	err := d.rc.Close()
	d.once.Do(d.fire)
	return err
}
