// Package storage is the durable Store: job/attempt persistence over SQLite,
// exposing only total, conditional transitions — never fetch-then-write.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and runs migrations on open.
type DB struct {
	conn *sql.DB
	path string
}

// New opens (creating if absent) the sqlite file at path, applies pragmas,
// and runs migrations. WAL mode and a generous busy timeout let the
// scheduler, workers, and HTTP handlers share one file without lock errors.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("storage: create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -64000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for advanced queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		requested_url TEXT NOT NULL,
		preset TEXT NOT NULL,
		created_at DATETIME NOT NULL,

		canonical_url TEXT,
		webpage_url TEXT,
		video_id TEXT,
		extractor TEXT,
		extractor_key TEXT,
		title TEXT,
		uploader TEXT,
		uploader_id TEXT,
		channel TEXT,
		channel_id TEXT,
		duration_seconds REAL,
		upload_date TEXT,
		thumbnail_remote_url TEXT,

		media_local_path TEXT,
		media_ext TEXT,
		thumbnail_local_path TEXT,

		status TEXT NOT NULL DEFAULT 'queued',
		queued_at DATETIME NOT NULL,
		started_at DATETIME,
		paused_at DATETIME,
		completed_at DATETIME,
		failed_at DATETIME,
		updated_at DATETIME NOT NULL,

		progress_percent REAL,
		downloaded_bytes INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER,
		speed_bps REAL,
		eta_seconds INTEGER,

		attempt_current INTEGER NOT NULL DEFAULT 0,
		attempt_max INTEGER NOT NULL DEFAULT 0,
		runtime_profile TEXT NOT NULL DEFAULT 'primary',
		last_exception_type TEXT,
		error_message TEXT,

		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_status_created ON downloads(status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_downloads_completed_at ON downloads(completed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_downloads_title ON downloads(title);
	CREATE INDEX IF NOT EXISTS idx_downloads_uploader ON downloads(uploader);
	CREATE INDEX IF NOT EXISTS idx_downloads_video_id ON downloads(video_id);

	CREATE TABLE IF NOT EXISTS download_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		download_id TEXT NOT NULL REFERENCES downloads(id) ON DELETE CASCADE,
		attempt_no INTEGER NOT NULL,
		runtime_profile TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		exception_type TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_download_attempts_download_id ON download_attempts(download_id);

	-- probe table for the read-write health check; rows are inserted and
	-- deleted within the same call, never left behind.
	CREATE TABLE IF NOT EXISTS health_probe (
		id INTEGER PRIMARY KEY,
		probed_at DATETIME NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Status is the job lifecycle state, per spec §4.1.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusRetrying    Status = "retrying"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// RuntimeProfile distinguishes the default extractor options from the
// YouTube-specific alternate player client fallback.
type RuntimeProfile string

const (
	ProfilePrimary  RuntimeProfile = "primary"
	ProfileFallback RuntimeProfile = "fallback"
)

// AttemptStatus is the terminal (or in-flight) state of one Attempt row.
type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "started"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
	AttemptPaused    AttemptStatus = "paused"
)
