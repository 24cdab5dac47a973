package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"downloaderd/internal/config"
	"downloaderd/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewStore(db)
}

func testConfig() *config.Config {
	return &config.Config{
		BaseDownloadDir:        "/tmp/downloads",
		MaxConcurrentDownloads: 4,
		ProgressFlushInterval:  time.Hour, // long enough that a second event in the same test is rate-limited
	}
}

func contextBackground() context.Context {
	return context.Background()
}
