package server

import (
	"errors"
	"net/http"

	"securedrop/internal/domain"
)

// writeDomainError maps a domain error onto a stable, coarse outward status.
// Internal detail (store error strings, ids) never leaves the process; it is
// already in the logs by the time we get here.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		writeJSON(w, http.StatusBadRequest, errBody("invalid file id"))
	case errors.Is(err, domain.ErrInvalidNonce):
		writeJSON(w, http.StatusBadRequest, errBody("invalid nonce"))
	case errors.Is(err, domain.ErrExpiryOutOfRange):
		writeJSON(w, http.StatusBadRequest, errBody("expiration must be between 1 hour and 30 days"))
	case errors.Is(err, domain.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errBody("file too large"))
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errBody("too many requests, try again later"))
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errBody("verification failed"))
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody("file not found"))
	default:
		writeJSON(w, http.StatusInternalServerError, errBody("internal error"))
	}
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
