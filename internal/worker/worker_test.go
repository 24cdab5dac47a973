package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"downloaderd/internal/extractor"
	"downloaderd/internal/storage"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		profile    storage.RuntimeProfile
		attemptNo  int
		attemptMax int
		want       bool
	}{
		{"403 on primary with attempts left", "HTTP Error 403: Forbidden", storage.ProfilePrimary, 1, 2, true},
		{"sabr token matches", "Missing a url, SABR streaming detected", storage.ProfilePrimary, 1, 2, true},
		{"last attempt never retries", "403 forbidden", storage.ProfilePrimary, 2, 2, false},
		{"fallback profile never retries", "403 forbidden", storage.ProfileFallback, 1, 2, false},
		{"unmatched token", "video unavailable in your country", storage.ProfilePrimary, 1, 2, false},
		{"case insensitive", "FORBIDDEN by server", storage.ProfilePrimary, 1, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRetryable(tt.message, tt.profile, tt.attemptNo, tt.attemptMax)
			if got != tt.want {
				t.Errorf("isRetryable(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"HTTP Error 403: Forbidden", "forbidden"},
		{"access forbidden by uploader", "forbidden"},
		{"network unreachable", "network"},
		{"this video is not available in your country", "unavailable"},
		{"some other yt-dlp error", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := failureReason(tt.message); got != tt.want {
				t.Errorf("failureReason(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc123", true},
		{"https://youtu.be/abc123", true},
		{"https://m.youtube.com/watch?v=abc", true},
		{"https://vimeo.com/12345", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := isYouTubeURL(tt.url); got != tt.want {
				t.Errorf("isYouTubeURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestResolveMediaPath_FromRequestedDownloads(t *testing.T) {
	dir := t.TempDir()
	mediaFile := filepath.Join(dir, "A Title [abc123].mp4")
	if err := os.WriteFile(mediaFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info := extractor.Info{
		ID: "abc123",
		RequestedDownloads: []extractor.RequestedDownload{
			{Filepath: mediaFile},
		},
	}

	rel, ok := resolveMediaPath(dir, info)
	if !ok {
		t.Fatal("expected a resolved media path")
	}
	if rel != "A Title [abc123].mp4" {
		t.Errorf("rel = %q", rel)
	}
}

func TestResolveMediaPath_GlobFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Some Title [xyz987].mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Some Title [xyz987].info.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info := extractor.Info{ID: "xyz987"}
	rel, ok := resolveMediaPath(dir, info)
	if !ok {
		t.Fatal("expected glob fallback to find the media file")
	}
	if rel != "Some Title [xyz987].mp4" {
		t.Errorf("rel = %q, want the .mp4 not the sidecar", rel)
	}
}

func TestResolveMediaPath_NoMatch(t *testing.T) {
	dir := t.TempDir()
	info := extractor.Info{ID: "nope"}
	if _, ok := resolveMediaPath(dir, info); ok {
		t.Error("expected no match in an empty directory")
	}
}

func TestResolveThumbnailPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Title [id1].webp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rel, ok := resolveThumbnailPath(dir, "Title [id1].mp4")
	if !ok {
		t.Fatal("expected thumbnail to resolve")
	}
	if rel != "Title [id1].webp" {
		t.Errorf("rel = %q", rel)
	}
}

func TestResolveThumbnailPath_NoneFound(t *testing.T) {
	dir := t.TempDir()
	if _, ok := resolveThumbnailPath(dir, "Title [id1].mp4"); ok {
		t.Error("expected no thumbnail match")
	}
}

func TestProgressHook_RateLimitsDownloadingEvents(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := &Worker{store: store, cfg: testConfig()}
	hook := w.progressHook(contextBackground(), job.ID)

	total := int64(1000)
	if err := hook(extractor.Event{Status: "downloading", DownloadedBytes: 100, TotalBytes: &total}); err != nil {
		t.Fatalf("hook: %v", err)
	}
	// Immediately-following event should be rate-limited (no error, just a no-op).
	if err := hook(extractor.Event{Status: "downloading", DownloadedBytes: 200, TotalBytes: &total}); err != nil {
		t.Fatalf("hook: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DownloadedBytes != 100 {
		t.Errorf("DownloadedBytes = %d, want 100 (second event should have been rate-limited)", got.DownloadedBytes)
	}
}

func TestProgressHook_FinishedAlwaysFlushes(t *testing.T) {
	store := newTestStore(t)
	job, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := &Worker{store: store, cfg: testConfig()}
	hook := w.progressHook(contextBackground(), job.ID)

	total := int64(1000)
	if err := hook(extractor.Event{Status: "finished", DownloadedBytes: 1000, TotalBytes: &total}); err != nil {
		t.Fatalf("hook: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ProgressPercent == nil || *got.ProgressPercent != 100.0 {
		t.Errorf("ProgressPercent = %v, want 100.0", got.ProgressPercent)
	}
}
