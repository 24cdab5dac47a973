package httpapi_test

import (
	"path/filepath"
	"testing"
	"time"

	"downloaderd/internal/config"
	"downloaderd/internal/httpapi"
	"downloaderd/internal/storage"
)

type noopScheduler struct{ cancelled []string }

func (n *noopScheduler) CancelActive(jobID string) bool {
	n.cancelled = append(n.cancelled, jobID)
	return false
}

func newTestServer(t *testing.T) (*httpapi.Server, *storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewStore(db)

	cfg := &config.Config{
		BaseDownloadDir:        dir,
		MaxConcurrentDownloads: 4,
		MinFreeDiskMB:          0,
		ProgressFlushInterval:  750 * time.Millisecond,
		YtDlpJSRuntime:         "node",
	}

	return httpapi.New(store, &noopScheduler{}, cfg), store, dir
}
