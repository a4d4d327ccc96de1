package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"

	"securedrop/internal/app"
)

// uploadResp is echoed to the uploader; the nonce comes back verbatim so the
// client can build the share link without keeping local state.
type uploadResp struct {
	FileID string `json:"file_id"`
	Nonce  string `json:"nonce"`
}

// upload handles POST /upload. Multipart form fields: file (ciphertext),
// nonce (base64 of exactly 12 bytes), filename, expires_in_hours,
// destroy_on_download ("true"/"false"), cf_turnstile_token (when the
// challenge is enabled).
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	// Cap the whole body: ciphertext limit plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+(64<<10))

	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes + (64 << 10)); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errBody("file too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errBody("bad multipart form"))
		return
	}

	identity := clientIP(r)

	if h.cfg.Turnstile != nil {
		if err := h.cfg.Turnstile.Verify(r.Context(), r.FormValue("cf_turnstile_token"), identity); err != nil {
			h.log.Warn("turnstile verification failed",
				"request_id", RequestIDFromContext(r.Context()), "ip", identity, "err", err)
			writeDomainError(w, err)
			return
		}
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("missing file"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("unreadable file"))
		return
	}

	nonceB64 := r.FormValue("nonce")
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid nonce"))
		return
	}

	hours := 24
	if raw := r.FormValue("expires_in_hours"); raw != "" {
		hours, err = strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid expires_in_hours"))
			return
		}
	}

	res, err := h.core.Upload(r.Context(), app.UploadRequest{
		Data:              data,
		Nonce:             nonce,
		Filename:          r.FormValue("filename"),
		ContentType:       fileHeader.Header.Get("Content-Type"),
		ExpiresInHours:    hours,
		DestroyOnDownload: r.FormValue("destroy_on_download") == "true",
		Identity:          identity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResp{
		FileID: res.ID.String(),
		Nonce:  base64.StdEncoding.EncodeToString(res.Nonce),
	})
}
