package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildArgs_VideoPreset(t *testing.T) {
	e := &YtDlpExtractor{YtDlpPath: "yt-dlp"}
	opts := Options{OutputDir: "/data/out", Preset: Presets["best"], Retries: 1}
	args := e.buildArgs("https://youtube.com/watch?v=abc", opts)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f bestvideo+bestaudio/best") {
		t.Errorf("missing format selector: %s", joined)
	}
	if !strings.Contains(joined, "--merge-output-format mp4") {
		t.Errorf("expected merge-output-format for video preset: %s", joined)
	}
	if !strings.Contains(joined, "--retries 3") {
		t.Errorf("expected retries floored to 3: %s", joined)
	}
	if args[len(args)-1] != "https://youtube.com/watch?v=abc" {
		t.Errorf("expected url as last arg, got %q", args[len(args)-1])
	}
}

func TestBuildArgs_AudioOnlyPreset(t *testing.T) {
	e := &YtDlpExtractor{YtDlpPath: "yt-dlp"}
	opts := Options{OutputDir: "/data/out", Preset: Presets["audio_only"]}
	args := e.buildArgs("https://example.com/v", opts)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-x --audio-format m4a") {
		t.Errorf("expected audio extraction flags: %s", joined)
	}
	if strings.Contains(joined, "--merge-output-format") {
		t.Errorf("audio-only preset should not set merge-output-format: %s", joined)
	}
}

func TestBuildArgs_FallbackPlayerClients(t *testing.T) {
	e := &YtDlpExtractor{YtDlpPath: "yt-dlp"}
	opts := Options{
		OutputDir:     "/data/out",
		Preset:        Presets["best"],
		PlayerClients: []string{"android_vr", "android", "ios", "tv"},
	}
	args := e.buildArgs("https://youtube.com/watch?v=abc", opts)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--extractor-args youtube:player_client=android_vr,android,ios,tv") {
		t.Errorf("expected player_client extractor-args: %s", joined)
	}
}

func TestReadInfoJSON(t *testing.T) {
	dir := t.TempDir()
	started := time.Now()

	path := filepath.Join(dir, "A Title [abc123].info.json")
	if err := os.WriteFile(path, []byte(`{"id":"abc123","title":"A Title","duration":42}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info, err := readInfoJSON(dir, started.Add(-time.Second))
	if err != nil {
		t.Fatalf("readInfoJSON: %v", err)
	}
	if info.ID != "abc123" || info.Title != "A Title" {
		t.Fatalf("info = %+v", info)
	}
}

func TestReadInfoJSON_NoneFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := readInfoJSON(dir, time.Now()); err == nil {
		t.Fatal("expected error when no info.json present")
	}
}
