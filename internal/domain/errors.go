// Package domain holds the core data model and validation rules for stored
// files: the metadata record, the canonical file identifier, and the sentinel
// errors shared by every layer above. No I/O belongs here.
package domain

import "errors"

// Sentinel errors. The HTTP layer maps these to coarse outward statuses;
// internal detail stays in logs.
var (
	// ErrInvalidID indicates a file id that does not match the canonical
	// lowercase 8-4-4-4-12 hex shape. Rejected before any store access.
	ErrInvalidID = errors.New("invalid file id")

	// ErrInvalidNonce indicates a nonce that is not exactly 12 bytes.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrExpiryOutOfRange indicates an expires_in_hours outside 1..720.
	ErrExpiryOutOfRange = errors.New("expiry out of range")

	// ErrTooLarge indicates a ciphertext payload above the configured cap.
	ErrTooLarge = errors.New("file too large")

	// ErrNotFound covers missing, expired, and orphaned records alike so
	// callers cannot probe for existence.
	ErrNotFound = errors.New("file not found")

	// ErrRateLimited indicates the client identity exhausted its window.
	ErrRateLimited = errors.New("rate limited")

	// ErrForbidden indicates a failed bot-verification challenge.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable indicates an underlying metadata or blob store
	// failure on the synchronous path.
	ErrStoreUnavailable = errors.New("storage unavailable")
)
