package app

import (
	"context"
	"log/slog"
)

// Reaper closes the dual-store consistency gap: whenever the metadata store
// drops a record, whether by TTL expiry or explicit deletion, the matching
// blob is removed too. It is the only component allowed to see blobs whose
// record is already gone.
type Reaper struct {
	blobs BlobStore
	log   *slog.Logger
}

// NewReaper builds a Reaper deleting blobs through the given store.
func NewReaper(blobs BlobStore, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{blobs: blobs, log: log}
}

// Run consumes the removal feed until ctx is cancelled or the feed closes.
func (r *Reaper) Run(ctx context.Context, events <-chan RemovalEvent) {
	r.log.Info("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped", "reason", "context_cancel")
			return
		case ev, ok := <-events:
			if !ok {
				r.log.Info("reaper stopped", "reason", "feed_closed")
				return
			}
			r.HandleRemoval(ctx, ev)
		}
	}
}

// HandleRemoval deletes the blob for one removed record. The delete is
// idempotent: destructive retrieval usually removed the blob already, and an
// already-absent object counts as success. Failures are logged only; the
// record is gone either way, so the blob is unreachable through the API.
func (r *Reaper) HandleRemoval(ctx context.Context, ev RemovalEvent) {
	if err := r.blobs.Delete(ctx, ev.ID); err != nil {
		r.log.Error("reap blob delete failed", "file_id", ev.ID, "origin", ev.Origin, "err", err)
		return
	}
	r.log.Info("blob reaped", "file_id", ev.ID, "origin", ev.Origin)
}
