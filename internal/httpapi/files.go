package httpapi

import (
	"net/http"

	"downloaderd/internal/validate"
)

// handleFiles is GET /files/<path>: serves media, thumbnails, and sidecars
// from the storage root only. Any path whose real location escapes root is
// rejected with 403 before any file is opened or served (spec §6.2, §8.6).
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Path
	if len(rel) > len("/files/") {
		rel = rel[len("/files/"):]
	} else {
		rel = ""
	}

	full, err := validate.SafeJoin(s.cfg.BaseDownloadDir, rel)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "path_outside_root"})
		return
	}

	http.ServeFile(w, r, full)
}
