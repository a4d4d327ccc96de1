package domain

import "github.com/google/uuid"

// FileID is the canonical identifier of a stored file: a random 128-bit
// value rendered as a lowercase hyphenated hex string (8-4-4-4-12). The same
// value keys both the metadata record and the blob, so the shape is enforced
// strictly to keep arbitrary strings out of the store keyspace.
type FileID string

// NewFileID mints a fresh random FileID.
func NewFileID() FileID {
	return FileID(uuid.New().String())
}

// ParseFileID validates s and returns it as a FileID. Anything that is not
// the canonical lowercase hyphenated form is rejected with ErrInvalidID,
// including uppercase and non-hyphenated variants that uuid.Parse would
// otherwise accept.
func ParseFileID(s string) (FileID, error) {
	if !isCanonicalID(s) {
		return "", ErrInvalidID
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", ErrInvalidID
	}
	return FileID(s), nil
}

// String returns the string form of the id.
func (id FileID) String() string { return string(id) }

// isCanonicalID checks the 8-4-4-4-12 lowercase hex shape without allocating.
func isCanonicalID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
