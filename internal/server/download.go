package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"securedrop/internal/app"
)

// downloadResp is the presign-mode response: the client fetches the
// ciphertext straight from object storage and decrypts locally.
type downloadResp struct {
	DownloadURL       string `json:"download_url"`
	Nonce             string `json:"nonce"`
	Filename          string `json:"filename"`
	DestroyOnDownload bool   `json:"destroy_on_download"`
}

// download handles GET /download/{file_id}. In presign mode it returns a
// JSON envelope with a short-lived URL; in stream mode it serves the
// ciphertext directly with the decryption metadata in headers.
func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	res, err := h.core.Retrieve(r.Context(), r.PathValue("file_id"), clientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.cfg.Mode == app.ModeStream {
		h.streamBody(w, res)
		return
	}

	writeJSON(w, http.StatusOK, downloadResp{
		DownloadURL:       res.URL,
		Nonce:             base64.StdEncoding.EncodeToString(res.Nonce),
		Filename:          res.Filename,
		DestroyOnDownload: res.DestroyOnDownload,
	})
}

// streamBody proxies the ciphertext through the server. Closing the body is
// what fires destroy-on-download in this mode, so it must happen even when
// the copy fails midway.
func (h *handlers) streamBody(w http.ResponseWriter, res app.RetrieveResult) {
	defer func() { _ = res.Body.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	if res.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	w.Header().Set("X-Nonce", base64.StdEncoding.EncodeToString(res.Nonce))
	w.Header().Set("X-Filename", res.Filename)
	w.Header().Set("X-Destroy-On-Download", strconv.FormatBool(res.DestroyOnDownload))

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, res.Body)
}
