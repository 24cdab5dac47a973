package worker

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"downloaderd/internal/extractor"
	"downloaderd/internal/validate"
)

// sidecarExtensions are produced alongside the media file by yt-dlp and must
// never be mistaken for the media file itself during the glob fallback.
var sidecarExtensions = map[string]bool{
	".json": true, ".part": true, ".ytdl": true, ".tmp": true,
	".jpg": true, ".webp": true, ".png": true,
}

var thumbnailExtensions = []string{".jpg", ".webp", ".png"}

// resolveMediaPath implements spec §4.3.2 steps 1-3: prefer the extractor's
// own reported path, fall back to a glob by video id, and always return a
// path relative to baseDir with containment verified.
func resolveMediaPath(baseDir string, info extractor.Info) (string, bool) {
	for _, rd := range info.RequestedDownloads {
		if rel, ok := relativeExisting(baseDir, rd.Filepath); ok {
			return rel, true
		}
		if rel, ok := relativeExisting(baseDir, rd.Filename); ok {
			return rel, true
		}
	}

	for _, candidate := range []string{info.Filepath, info.Filename} {
		if rel, ok := relativeExisting(baseDir, candidate); ok {
			return rel, true
		}
	}

	if info.ID == "" {
		return "", false
	}
	return globNewestByVideoID(baseDir, info.ID)
}

// resolveThumbnailPath implements spec §4.3.2 step 4: same base name as the
// media file, trying extensions in order.
func resolveThumbnailPath(baseDir, mediaRelPath string) (string, bool) {
	base := strings.TrimSuffix(mediaRelPath, filepath.Ext(mediaRelPath))
	for _, ext := range thumbnailExtensions {
		candidate := base + ext
		if rel, ok := relativeExisting(baseDir, candidate); ok {
			return rel, true
		}
	}
	return "", false
}

// relativeExisting turns an absolute-or-relative candidate path into a
// root-relative path, but only if it's contained in baseDir and the file
// actually exists — the traversal defence spec §4.3.2 requires.
func relativeExisting(baseDir, candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	rel, ok := validate.RelativeWithinRoot(baseDir, candidate)
	if !ok {
		return "", false
	}
	full := filepath.Join(baseDir, rel)
	fi, err := os.Stat(full)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return rel, true
}

// globNewestByVideoID globs baseDir for *[<videoID>].* excluding sidecar
// extensions, and picks the newest by mtime.
func globNewestByVideoID(baseDir, videoID string) (string, bool) {
	// "[[]" matches a literal '['; a bare '[' would open a character class.
	pattern := filepath.Join(baseDir, "*[[]"+videoID+"].*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}

	type candidate struct {
		relPath string
		modTime int64
	}
	var candidates []candidate
	for _, m := range matches {
		if strings.HasSuffix(m, ".info.json") {
			continue
		}
		if sidecarExtensions[strings.ToLower(filepath.Ext(m))] {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		rel, ok := validate.RelativeWithinRoot(baseDir, m)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{relPath: rel, modTime: fi.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })
	return candidates[0].relPath, true
}
