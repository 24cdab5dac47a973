package httpapi

import (
	"encoding/json"
	"net/http"

	"downloaderd/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an apperr.AppError's Code onto the right HTTP status and
// error body; anything else not produced by the validate/storage layer is a
// 500. Validation errors never reach the Store (spec §7).
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*apperr.AppError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal_error"})
		return
	}

	code := appErr.Code
	if code == "" {
		code = "internal_error"
	}

	status := http.StatusBadRequest
	switch {
	case apperr.IsNotFound(appErr):
		status = http.StatusNotFound
	case apperr.IsInvalidState(appErr):
		status = http.StatusConflict
	case appErr.Code == "path_outside_root" || appErr.Code == "invalid_filename":
		status = http.StatusForbidden
	}

	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}
