package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"downloaderd/internal/apperr"
)

// Job is one URL+preset submission tracked end to end. Field names mirror
// spec §3.1; optional scalars are pointers, optional text is the empty
// string (COALESCE'd at the SQL layer, as the teacher's repository does).
type Job struct {
	ID           string
	RequestedURL string
	Preset       string
	CreatedAt    time.Time

	CanonicalURL       string
	WebpageURL         string
	VideoID            string
	Extractor          string
	ExtractorKey       string
	Title              string
	Uploader           string
	UploaderID         string
	Channel            string
	ChannelID          string
	DurationSeconds    *float64
	UploadDate         string
	ThumbnailRemoteURL string

	MediaLocalPath     string
	MediaExt           string
	ThumbnailLocalPath string

	Status      Status
	QueuedAt    time.Time
	StartedAt   *time.Time
	PausedAt    *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	UpdatedAt   time.Time

	ProgressPercent *float64
	DownloadedBytes int64
	TotalBytes      *int64
	SpeedBps        *float64
	ETASeconds      *int64

	AttemptCurrent    int
	AttemptMax        int
	RuntimeProfile    RuntimeProfile
	LastExceptionType string
	ErrorMessage      string

	MetadataJSON string
}

// Attempt is one append-only execution record for a Job.
type Attempt struct {
	ID             int64
	DownloadID     string
	AttemptNo      int
	RuntimeProfile RuntimeProfile
	Status         AttemptStatus
	ErrorMessage   string
	ExceptionType  string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// FinishOKInput carries every field finish_ok writes, gathered from the
// extractor's info dict by the worker after path resolution.
type FinishOKInput struct {
	CanonicalURL       string
	WebpageURL         string
	VideoID            string
	Extractor          string
	ExtractorKey       string
	Title              string
	Uploader           string
	UploaderID         string
	Channel            string
	ChannelID          string
	DurationSeconds    *float64
	UploadDate         string
	ThumbnailRemoteURL string

	MediaLocalPath     string
	MediaExt           string
	ThumbnailLocalPath string

	MetadataJSON string
}

// Store is the durable mapping of job id -> job record plus its attempts
// log. Every write here is one atomic conditional UPDATE (or INSERT/DELETE);
// callers never read-modify-write.
type Store struct {
	db *DB
}

// NewStore wraps an already-opened DB in a Store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

const jobColumns = `
	id, requested_url, preset, created_at,
	COALESCE(canonical_url, ''), COALESCE(webpage_url, ''), COALESCE(video_id, ''),
	COALESCE(extractor, ''), COALESCE(extractor_key, ''), COALESCE(title, ''),
	COALESCE(uploader, ''), COALESCE(uploader_id, ''), COALESCE(channel, ''), COALESCE(channel_id, ''),
	duration_seconds, COALESCE(upload_date, ''), COALESCE(thumbnail_remote_url, ''),
	COALESCE(media_local_path, ''), COALESCE(media_ext, ''), COALESCE(thumbnail_local_path, ''),
	status, queued_at, started_at, paused_at, completed_at, failed_at, updated_at,
	progress_percent, downloaded_bytes, total_bytes, speed_bps, eta_seconds,
	attempt_current, attempt_max, runtime_profile, COALESCE(last_exception_type, ''), COALESCE(error_message, ''),
	COALESCE(metadata_json, '')
`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var duration sql.NullFloat64
	var started, paused, completed, failed sql.NullTime
	var progress sql.NullFloat64
	var total, eta sql.NullInt64
	var speed sql.NullFloat64

	err := row.Scan(
		&j.ID, &j.RequestedURL, &j.Preset, &j.CreatedAt,
		&j.CanonicalURL, &j.WebpageURL, &j.VideoID,
		&j.Extractor, &j.ExtractorKey, &j.Title,
		&j.Uploader, &j.UploaderID, &j.Channel, &j.ChannelID,
		&duration, &j.UploadDate, &j.ThumbnailRemoteURL,
		&j.MediaLocalPath, &j.MediaExt, &j.ThumbnailLocalPath,
		&j.Status, &j.QueuedAt, &started, &paused, &completed, &failed, &j.UpdatedAt,
		&progress, &j.DownloadedBytes, &total, &speed, &eta,
		&j.AttemptCurrent, &j.AttemptMax, &j.RuntimeProfile, &j.LastExceptionType, &j.ErrorMessage,
		&j.MetadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if duration.Valid {
		j.DurationSeconds = &duration.Float64
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if paused.Valid {
		j.PausedAt = &paused.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	if failed.Valid {
		j.FailedAt = &failed.Time
	}
	if progress.Valid {
		j.ProgressPercent = &progress.Float64
	}
	if total.Valid {
		j.TotalBytes = &total.Int64
	}
	if speed.Valid {
		j.SpeedBps = &speed.Float64
	}
	if eta.Valid {
		j.ETASeconds = &eta.Int64
	}

	return &j, nil
}

// Enqueue creates a new queued row. id must be freshly generated by the
// caller (github.com/google/uuid); a collision is not expected in practice
// but surfaces as apperr.ErrAlreadyExists rather than a generic SQL error.
func (s *Store) Enqueue(id, requestedURL, preset string, now time.Time) (*Job, error) {
	_, err := s.db.conn.Exec(`
		INSERT INTO downloads (id, requested_url, preset, created_at, status, queued_at, updated_at, runtime_profile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, requestedURL, preset, now, StatusQueued, now, now, ProfilePrimary)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, apperr.Wrap("Store.Enqueue", apperr.ErrAlreadyExists)
		}
		return nil, apperr.Wrap("Store.Enqueue", err)
	}
	return s.Get(id)
}

// Get reads one job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM downloads WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap("Store.Get", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap("Store.Get", err)
	}
	return job, nil
}

// GetByFilename finds the job whose media or thumbnail local path ends in
// name — used by the legacy POST /delete route, which addresses files by
// basename rather than job id.
func (s *Store) GetByFilename(name string) (*Job, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+jobColumns+` FROM downloads
		WHERE media_local_path = ? OR media_local_path LIKE ?
		   OR thumbnail_local_path = ? OR thumbnail_local_path LIKE ?
		LIMIT 1
	`, name, "%/"+name, name, "%/"+name)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap("Store.GetByFilename", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap("Store.GetByFilename", err)
	}
	return job, nil
}

// Begin transitions a job into downloading (from queued/retrying) or into
// retrying (from downloading, when a new attempt starts within the same
// worker lease) — the "re-begin" the spec describes as one operation whose
// resulting status depends on the row's current status. Returns whether the
// predicate matched.
func (s *Store) Begin(id string, attemptNo, attemptMax int, profile RuntimeProfile, now time.Time) (bool, error) {
	res, err := s.db.conn.Exec(`
		UPDATE downloads SET
			status = CASE WHEN status = 'downloading' THEN 'retrying' ELSE 'downloading' END,
			attempt_current = ?,
			attempt_max = ?,
			runtime_profile = ?,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		WHERE id = ? AND status IN ('queued', 'retrying', 'downloading')
	`, attemptNo, attemptMax, profile, now, now, id)
	if err != nil {
		return false, apperr.Wrap("Store.Begin", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FinishOK transitions downloading|retrying -> completed, writing every
// derived-identity and local-path field the worker resolved. Metadata
// serialisation is the caller's responsibility (lossy-but-total, never
// fails this transition).
func (s *Store) FinishOK(id string, in FinishOKInput, now time.Time) (bool, error) {
	res, err := s.db.conn.Exec(`
		UPDATE downloads SET
			status = 'completed',
			canonical_url = ?, webpage_url = ?, video_id = ?,
			extractor = ?, extractor_key = ?, title = ?,
			uploader = ?, uploader_id = ?, channel = ?, channel_id = ?,
			duration_seconds = ?, upload_date = ?, thumbnail_remote_url = ?,
			media_local_path = ?, media_ext = ?, thumbnail_local_path = ?,
			progress_percent = 100.0,
			speed_bps = NULL, eta_seconds = 0,
			metadata_json = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('downloading', 'retrying')
	`, in.CanonicalURL, in.WebpageURL, in.VideoID,
		in.Extractor, in.ExtractorKey, in.Title,
		in.Uploader, in.UploaderID, in.Channel, in.ChannelID,
		nullFloat(in.DurationSeconds), in.UploadDate, in.ThumbnailRemoteURL,
		in.MediaLocalPath, in.MediaExt, in.ThumbnailLocalPath,
		in.MetadataJSON,
		now, now, id)
	if err != nil {
		return false, apperr.Wrap("Store.FinishOK", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FinishFail transitions to failed unconditionally on id — a late worker
// write after delete affects zero rows, which is fine.
func (s *Store) FinishFail(id, errMsg, excType string, profile RuntimeProfile, attemptNo, attemptMax int, now time.Time) (bool, error) {
	res, err := s.db.conn.Exec(`
		UPDATE downloads SET
			status = 'failed',
			error_message = ?, last_exception_type = ?,
			runtime_profile = ?, attempt_current = ?, attempt_max = ?,
			failed_at = ?, updated_at = ?
		WHERE id = ?
	`, errMsg, excType, profile, attemptNo, attemptMax, now, now, id)
	if err != nil {
		return false, apperr.Wrap("Store.FinishFail", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PauseQueued transitions queued -> paused (used when a job hasn't started
// yet and the control plane asks to pause it).
func (s *Store) PauseQueued(id string, now time.Time) (bool, error) {
	return s.execConditional(`
		UPDATE downloads SET status = 'paused', paused_at = ?, updated_at = ?
		WHERE id = ? AND status = 'queued'
	`, "Store.PauseQueued", now, now, id)
}

// PauseForce transitions any status -> paused. Used when the control plane
// pauses an actively-downloading job via its cancel signal.
func (s *Store) PauseForce(id string, now time.Time) (bool, error) {
	return s.execConditional(`
		UPDATE downloads SET status = 'paused', paused_at = ?, updated_at = ?
		WHERE id = ?
	`, "Store.PauseForce", now, now, id)
}

// Resume transitions paused -> queued, clearing the fields a fresh queued
// row shouldn't carry over.
func (s *Store) Resume(id string, now time.Time) (bool, error) {
	return s.execConditional(`
		UPDATE downloads SET
			status = 'queued',
			paused_at = NULL, error_message = NULL, last_exception_type = NULL,
			eta_seconds = NULL, speed_bps = NULL,
			updated_at = ?
		WHERE id = ? AND status = 'paused'
	`, "Store.Resume", now, id)
}

// Retry transitions failed|paused -> queued, zeroing progress telemetry and
// incrementing attempt_max by exactly one. Preserves the spec's documented
// open question verbatim: attempt_max here is "cap plus one", independent of
// whatever attempt plan the next worker run recomputes (see DESIGN.md).
func (s *Store) Retry(id string, now time.Time) (bool, error) {
	return s.execConditional(`
		UPDATE downloads SET
			status = 'queued',
			paused_at = NULL, failed_at = NULL,
			error_message = NULL, last_exception_type = NULL,
			progress_percent = NULL, downloaded_bytes = 0, total_bytes = NULL,
			speed_bps = NULL, eta_seconds = NULL,
			attempt_max = attempt_max + 1,
			updated_at = ?
		WHERE id = ? AND status IN ('failed', 'paused')
	`, "Store.Retry", now, id)
}

// UpdateProgress is the unconditional, cheap point-write the progress hook
// calls (rate-limited by the caller, never by the Store).
func (s *Store) UpdateProgress(id string, percent *float64, downloaded int64, total *int64, speed *float64, eta *int64, now time.Time) error {
	_, err := s.db.conn.Exec(`
		UPDATE downloads SET
			progress_percent = ?, downloaded_bytes = ?, total_bytes = ?,
			speed_bps = ?, eta_seconds = ?, updated_at = ?
		WHERE id = ?
	`, nullFloat(percent), downloaded, nullInt(total), nullFloat(speed), nullInt(eta), now, id)
	if err != nil {
		return apperr.Wrap("Store.UpdateProgress", err)
	}
	return nil
}

// Delete removes the row (and cascades its attempts) and returns the prior
// snapshot so the caller can clean up on-disk artifacts.
func (s *Store) Delete(id string) (*Job, error) {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return nil, apperr.Wrap("Store.Delete", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM downloads WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap("Store.Delete", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap("Store.Delete", err)
	}

	if _, err := tx.Exec(`DELETE FROM download_attempts WHERE download_id = ?`, id); err != nil {
		return nil, apperr.Wrap("Store.Delete", err)
	}
	if _, err := tx.Exec(`DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return nil, apperr.Wrap("Store.Delete", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap("Store.Delete", err)
	}

	return job, nil
}

// RecoverInterrupted marks every row left `downloading` (from a prior
// process that never reached a terminal or paused state) as failed. Run
// exactly once, before the scheduler starts. `retrying` rows are left
// untouched deliberately — `begin` treats retrying as equivalent to queued.
func (s *Store) RecoverInterrupted(now time.Time) (int64, error) {
	res, err := s.db.conn.Exec(`
		UPDATE downloads SET
			status = 'failed',
			error_message = 'interrupted_by_restart',
			failed_at = ?, updated_at = ?
		WHERE status = 'downloading'
	`, now, now)
	if err != nil {
		return 0, apperr.Wrap("Store.RecoverInterrupted", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueuedIDs returns up to limit queued job ids in FIFO creation order, for
// the scheduler to admit into the worker pool.
func (s *Store) QueuedIDs(limit int) ([]string, error) {
	rows, err := s.db.conn.Query(`
		SELECT id FROM downloads WHERE status = 'queued' ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperr.Wrap("Store.QueuedIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap("Store.QueuedIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns the number of rows per status, for gauges.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.conn.Query(`SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap("Store.CountByStatus", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap("Store.CountByStatus", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountQueued returns the queue depth, for the queue_depth gauge.
func (s *Store) CountQueued() (int, error) {
	var n int
	err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM downloads WHERE status = 'queued'`).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap("Store.CountQueued", err)
	}
	return n, nil
}

// ListOptions controls Store.List's filtering, search, sort, and pagination.
type ListOptions struct {
	Page     int
	PerPage  int
	Status   string
	Query    string
	Sort     string
	Uploader string
}

// sortClauses whitelists the sort options §4.1 names; an unrecognised or
// empty value falls back to created_desc.
var sortClauses = map[string]string{
	"created_desc": "created_at DESC",
	"created_asc":  "created_at ASC",
	"title_asc":    "LOWER(COALESCE(title, '')) ASC, created_at DESC",
	"uploader_asc": "LOWER(COALESCE(uploader, '')) ASC, created_at DESC",
}

// List returns a page of jobs per the filter/sort/search rules of §4.1.
func (s *Store) List(opts ListOptions) ([]*Job, int, error) {
	var where []string
	var args []any

	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Uploader != "" {
		where = append(where, "LOWER(COALESCE(uploader, '')) = LOWER(?)")
		args = append(args, opts.Uploader)
	}
	if opts.Query != "" {
		where = append(where, `(
			LOWER(COALESCE(title, '')) LIKE LOWER(?) OR
			LOWER(COALESCE(uploader, '')) LIKE LOWER(?) OR
			LOWER(COALESCE(video_id, '')) LIKE LOWER(?)
		)`)
		needle := "%" + opts.Query + "%"
		args = append(args, needle, needle, needle)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM downloads " + whereClause
	if err := s.db.conn.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap("Store.List", err)
	}

	orderBy, ok := sortClauses[opts.Sort]
	if !ok {
		orderBy = sortClauses["created_desc"]
	}

	perPage := opts.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > 100000 {
		page = 100000
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`SELECT %s FROM downloads %s ORDER BY %s LIMIT ? OFFSET ?`, jobColumns, whereClause, orderBy)
	args = append(args, perPage, offset)

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, apperr.Wrap("Store.List", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, apperr.Wrap("Store.List", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// CreateAttempt appends an Attempt row with status=started.
func (s *Store) CreateAttempt(downloadID string, attemptNo int, profile RuntimeProfile, now time.Time) (int64, error) {
	res, err := s.db.conn.Exec(`
		INSERT INTO download_attempts (download_id, attempt_no, runtime_profile, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, downloadID, attemptNo, profile, AttemptStarted, now)
	if err != nil {
		return 0, apperr.Wrap("Store.CreateAttempt", err)
	}
	return res.LastInsertId()
}

// FinalizeAttempt sets the terminal status, error fields, and end time on
// an existing Attempt row.
func (s *Store) FinalizeAttempt(attemptID int64, status AttemptStatus, errMsg, excType string, now time.Time) error {
	_, err := s.db.conn.Exec(`
		UPDATE download_attempts SET status = ?, error_message = ?, exception_type = ?, ended_at = ?
		WHERE id = ?
	`, status, nullString(errMsg), nullString(excType), now, attemptID)
	if err != nil {
		return apperr.Wrap("Store.FinalizeAttempt", err)
	}
	return nil
}

// CheckReadWrite probes the database with a throwaway insert+delete in the
// same connection scope, for the /readyz handler.
func (s *Store) CheckReadWrite() error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return apperr.Wrap("Store.CheckReadWrite", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO health_probe (id, probed_at) VALUES (1, ?)`, time.Now()); err != nil {
		return apperr.Wrap("Store.CheckReadWrite", err)
	}
	if _, err := tx.Exec(`DELETE FROM health_probe WHERE id = 1`); err != nil {
		return apperr.Wrap("Store.CheckReadWrite", err)
	}
	return apperr.Wrap("Store.CheckReadWrite", tx.Commit())
}

func (s *Store) execConditional(query, op string, args ...any) (bool, error) {
	res, err := s.db.conn.Exec(query, args...)
	if err != nil {
		return false, apperr.Wrap(op, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
