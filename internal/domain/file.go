package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// NonceLength is the only nonce size the server accepts. The nonce itself is
// opaque: it is stored verbatim and echoed back to the retriever.
const NonceLength = 12

// FileRecord is the metadata row for one uploaded ciphertext blob. The blob
// bytes live in object storage under the same FileID.
type FileRecord struct {
	ID                FileID    `json:"file_id"`
	Nonce             []byte    `json:"nonce"`
	Filename          string    `json:"filename"`
	ContentType       string    `json:"content_type"`
	ExpiresAt         time.Time `json:"expires_at"`
	DestroyOnDownload bool      `json:"destroy_on_download"`
}

// Expired reports whether the record must be treated as absent at time now,
// regardless of whether the store has physically reaped it yet.
func (r FileRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ValidateNonce enforces the fixed 12-byte nonce rule.
func ValidateNonce(nonce []byte) error {
	if len(nonce) != NonceLength {
		return ErrInvalidNonce
	}
	return nil
}

// ValidateExpiryHours enforces the 1 hour .. 30 day retention bounds.
func ValidateExpiryHours(hours int) error {
	if hours < 1 || hours > 720 {
		return ErrExpiryOutOfRange
	}
	return nil
}

// SanitizeFilename strips any path component from a client-supplied display
// name. Both separator styles are handled since the client OS is unknown.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file.enc"
	}
	return name
}
