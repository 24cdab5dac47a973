// Package validate provides input validation functions for URLs, paths, and
// other control-plane inputs. All public-facing inputs are validated before
// they reach the store.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"downloaderd/internal/apperr"
)

// URL validates a submitted download URL. The only requirement at this layer
// is an http:// or https:// prefix; the host is not checked. The extractor is
// the authority on whether the URL is actually fetchable.
func URL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", apperr.NewWithCode("validate.URL", apperr.ErrInvalidURL, "invalid_url", "url must not be empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", apperr.NewWithCode("validate.URL", apperr.ErrInvalidURL, "invalid_url", "url must start with http:// or https://")
	}
	return rawURL, nil
}

// Preset checks membership in a closed set of allowed preset ids.
func Preset(preset string, allowed []string) (string, error) {
	preset = strings.TrimSpace(preset)
	for _, p := range allowed {
		if preset == p {
			return preset, nil
		}
	}
	return "", apperr.NewWithCode("validate.Preset", apperr.ErrInvalidPreset, "invalid_preset",
		fmt.Sprintf("unknown preset: %q", preset))
}

// Filename rejects a legacy-route filename containing path separators or
// traversal sequences. Modeled on the original Python route's flat check
// ("/", "\\", "..") rather than the fuller SafeJoin containment check, since
// the legacy route only ever receives a bare filename, never a path.
func Filename(name string) error {
	if name == "" {
		return apperr.NewWithCode("validate.Filename", apperr.ErrPathOutsideRoot, "invalid_filename", "filename must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return apperr.NewWithCode("validate.Filename", apperr.ErrPathOutsideRoot, "invalid_filename", "filename must not contain path separators")
	}
	return nil
}

// SafeJoin joins a user-supplied relative path onto root and verifies the
// resolved, symlink-evaluated location is still contained within root. It is
// the containment check used both by GET /files/<path> and by the control
// plane's delete cleanup (httpapi.deleteLocalFiles); neither the candidate path nor its eventual symlink
// target may escape root.
func SafeJoin(root, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", apperr.NewWithCode("validate.SafeJoin", apperr.ErrPathOutsideRoot, "path_outside_root", "invalid path")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.Wrap("validate.SafeJoin", err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", apperr.Wrap("validate.SafeJoin", err)
	}

	candidate := filepath.Join(rootAbs, rel)
	if !isWithin(rootReal, candidate) {
		return "", apperr.NewWithCode("validate.SafeJoin", apperr.ErrPathOutsideRoot, "path_outside_root", "path escapes storage root")
	}

	// Resolve symlinks on whatever portion of the path exists; a dangling
	// tail (file not yet created) is fine, a symlink that hops outside root
	// partway through is not.
	real, err := realpathTolerant(candidate)
	if err != nil {
		return "", apperr.Wrap("validate.SafeJoin", err)
	}
	if !isWithin(rootReal, real) {
		return "", apperr.NewWithCode("validate.SafeJoin", apperr.ErrPathOutsideRoot, "path_outside_root", "path escapes storage root")
	}

	return candidate, nil
}

// RelativeWithinRoot normalises path (absolute or relative, possibly with
// backslashes from a Windows extractor) against root and returns it as a
// root-relative path, or ok=false if its real location escapes root. Used by
// the worker's extracted-file path resolution (spec §4.3.2) to turn whatever
// the extractor reports into a safe, storable relative path.
func RelativeWithinRoot(root, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	normalized := strings.ReplaceAll(path, "\\", "/")

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", false
	}

	var candidate string
	if filepath.IsAbs(normalized) {
		candidate = filepath.Clean(normalized)
	} else {
		candidate = filepath.Join(rootAbs, strings.TrimLeft(normalized, "/"))
	}

	real, err := realpathTolerant(candidate)
	if err != nil || !isWithin(rootReal, real) {
		return "", false
	}

	rel, err := filepath.Rel(rootReal, real)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// isWithin reports whether candidate is root itself or a descendant of root.
func isWithin(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && !strings.HasPrefix(rel, string(filepath.Separator)+"..")
}

// realpathTolerant evaluates symlinks on the longest existing prefix of path,
// then reattaches the non-existent suffix. Mirrors os.path.realpath's
// behaviour on a path whose final component doesn't exist yet.
func realpathTolerant(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return filepath.EvalSymlinks(path)
	}
	parent, base := filepath.Split(filepath.Clean(path))
	if parent == "" || parent == path {
		return path, nil
	}
	realParent, err := realpathTolerant(filepath.Clean(parent))
	if err != nil {
		return "", err
	}
	return filepath.Join(realParent, base), nil
}

// PositiveInt ensures an integer is positive, returning a default if not.
func PositiveInt(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
