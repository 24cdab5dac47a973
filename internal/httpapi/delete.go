package httpapi

import (
	"os"
	"path/filepath"
	"strings"

	"downloaderd/internal/logger"
	"downloaderd/internal/storage"
	"downloaderd/internal/validate"
)

// deleteLocalFiles removes the media file, its info.json/thumbnail siblings,
// and the standalone thumbnail path, all resolved through validate.SafeJoin
// so a corrupted or adversarial row can never walk outside the storage root.
// Grounded on queue_manager.py's _delete_local_files/_safe_storage_path.
func deleteLocalFiles(baseDir string, job *storage.Job) {
	candidates := map[string]struct{}{}

	if job.MediaLocalPath != "" {
		candidates[job.MediaLocalPath] = struct{}{}
		noExt := strings.TrimSuffix(job.MediaLocalPath, filepath.Ext(job.MediaLocalPath))
		for _, suffix := range []string{".info.json", ".jpg", ".webp", ".png"} {
			candidates[noExt+suffix] = struct{}{}
		}
	}
	if job.ThumbnailLocalPath != "" {
		candidates[job.ThumbnailLocalPath] = struct{}{}
	}

	for candidate := range candidates {
		full, err := validate.SafeJoin(baseDir, candidate)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(full); err != nil {
			logger.Log.Error().Err(err).Str("path", candidate).Msg("file_delete_failed")
		}
	}
}
