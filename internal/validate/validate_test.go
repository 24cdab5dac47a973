package validate_test

import (
	"os"
	"path/filepath"
	"testing"

	"downloaderd/internal/validate"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https URL", "https://youtube.com/watch?v=123", false},
		{"valid http URL", "http://example.com", false},
		{"empty URL", "", true},
		{"no scheme", "youtube.com/watch", true},
		{"ftp scheme rejected", "ftp://example.com", true},
		{"whitespace only", "   ", true},
		{"URL with spaces trimmed", "  https://example.com  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate.URL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("URL(%q) error = %v, wantErr = %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestPreset(t *testing.T) {
	allowed := []string{"best", "best_1080p", "audio_only"}

	tests := []struct {
		name    string
		preset  string
		wantErr bool
	}{
		{"best", "best", false},
		{"best_1080p", "best_1080p", false},
		{"audio_only", "audio_only", false},
		{"unknown preset rejected", "not_a_preset", true},
		{"empty rejected", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate.Preset(tt.preset, allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("Preset(%q) error = %v, wantErr = %v", tt.preset, err, tt.wantErr)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"normal filename", "video.mp4", false},
		{"empty rejected", "", true},
		{"forward slash rejected", "a/b.mp4", true},
		{"backslash rejected", "a\\b.mp4", true},
		{"traversal rejected", "../../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Filename(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Filename(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"plain file under root", "video.mp4", false},
		{"nested under root", "sub/video.mp4", false},
		{"traversal escapes root", "../../etc/passwd", true},
		{"traversal via subdir", "sub/../../outside", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate.SafeJoin(root, tt.rel)
			if (err != nil) != tt.wantErr {
				t.Errorf("SafeJoin(%q) error = %v, wantErr = %v", tt.rel, err, tt.wantErr)
			}
		})
	}
}

func TestSafeJoin_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := validate.SafeJoin(root, "escape/file.txt"); err == nil {
		t.Error("SafeJoin followed a symlink outside root without error")
	}
}

func TestRelativeWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "video.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantOK  bool
		wantRel string
	}{
		{"relative under root", "sub/video.mp4", true, "sub/video.mp4"},
		{"absolute under root", filepath.Join(root, "sub", "video.mp4"), true, "sub/video.mp4"},
		{"absolute outside root", "/etc/passwd", false, ""},
		{"backslash path normalised", `sub\video.mp4`, true, "sub/video.mp4"},
		{"empty", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, ok := validate.RelativeWithinRoot(root, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("RelativeWithinRoot(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && rel != tt.wantRel {
				t.Errorf("RelativeWithinRoot(%q) = %q, want %q", tt.path, rel, tt.wantRel)
			}
		})
	}
}

func TestPositiveInt(t *testing.T) {
	tests := []struct {
		name         string
		value        int
		defaultValue int
		expected     int
	}{
		{"negative uses default", -5, 10, 10},
		{"zero uses default", 0, 10, 10},
		{"positive uses value", 5, 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate.PositiveInt(tt.value, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("PositiveInt(%d, %d) = %d, want %d", tt.value, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		value    int
		lo, hi   int
		expected int
	}{
		{"below range", -1, 1, 100, 1},
		{"above range", 500, 1, 100, 100},
		{"within range", 20, 1, 100, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate.Clamp(tt.value, tt.lo, tt.hi)
			if result != tt.expected {
				t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.value, tt.lo, tt.hi, result, tt.expected)
			}
		})
	}
}
