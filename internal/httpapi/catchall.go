package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"downloaderd/internal/ratelimit"
)

// handleCatchAll is GET /<raw>: lets a bare URL be pasted after the host
// (e.g. host/https://youtu.be/xyz) and enqueues it with the default preset.
// Grounded on main.py's catch_all/_normalize_external_url.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not_found"})
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/")
	for _, prefix := range []string{"api/", "download", "healthz", "readyz", "metrics", "files/"} {
		if strings.HasPrefix(raw, prefix) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not_found"})
			return
		}
	}

	if !ratelimit.EnqueueLimiter.Allow("GET /<raw>") {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate_limited"})
		return
	}

	candidate := normalizeExternalURL(raw, r.URL.RawQuery)
	if candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid_url"})
		return
	}

	s.enqueue(w, candidate, "best")
}

func normalizeExternalURL(raw, rawQuery string) string {
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}

	if rawQuery != "" {
		sep := "?"
		if strings.Contains(decoded, "?") {
			sep = "&"
		}
		decoded = decoded + sep + rawQuery
	}

	if strings.HasPrefix(decoded, "http:/") && !strings.HasPrefix(decoded, "http://") {
		decoded = "http://" + strings.TrimPrefix(decoded, "http:/")
	}
	if strings.HasPrefix(decoded, "https:/") && !strings.HasPrefix(decoded, "https://") {
		decoded = "https://" + strings.TrimPrefix(decoded, "https:/")
	}

	if strings.HasPrefix(decoded, "http://") || strings.HasPrefix(decoded, "https://") {
		return decoded
	}
	return ""
}
