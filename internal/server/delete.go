package server

import "net/http"

// deleteFile handles DELETE /file/{file_id}. The outcome reflects what was
// actually done: "deleted", "kept" (record not flagged destroy-on-download),
// or "already_gone".
func (h *handlers) deleteFile(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.core.Delete(r.Context(), r.PathValue("file_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
