package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"downloaderd/internal/apperr"
	"downloaderd/internal/extractor"
	"downloaderd/internal/logger"
	"downloaderd/internal/metrics"
	"downloaderd/internal/storage"
	"downloaderd/internal/validate"
)

// jobView is the wire shape for a Job, field names matching spec §3.1.
type jobView struct {
	ID           string    `json:"id"`
	RequestedURL string    `json:"requested_url"`
	Preset       string    `json:"preset"`
	CreatedAt    time.Time `json:"created_at"`

	CanonicalURL string `json:"canonical_url,omitempty"`
	VideoID      string `json:"video_id,omitempty"`
	Title        string `json:"title,omitempty"`
	Uploader     string `json:"uploader,omitempty"`
	Channel      string `json:"channel,omitempty"`

	MediaLocalPath     string `json:"media_local_path,omitempty"`
	ThumbnailLocalPath string `json:"thumbnail_local_path,omitempty"`

	Status string `json:"status"`

	ProgressPercent *float64 `json:"progress_percent"`
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      *int64   `json:"total_bytes"`
	SpeedBps        *float64 `json:"speed_bps"`
	ETASeconds      *int64   `json:"eta_seconds"`

	AttemptCurrent    int    `json:"attempt_current"`
	AttemptMax        int    `json:"attempt_max"`
	RuntimeProfile    string `json:"runtime_profile"`
	ErrorMessage      string `json:"error_message,omitempty"`
	LastExceptionType string `json:"last_exception_type,omitempty"`
}

func toJobView(j *storage.Job) jobView {
	return jobView{
		ID:                 j.ID,
		RequestedURL:       j.RequestedURL,
		Preset:             j.Preset,
		CreatedAt:          j.CreatedAt,
		CanonicalURL:       j.CanonicalURL,
		VideoID:            j.VideoID,
		Title:              j.Title,
		Uploader:           j.Uploader,
		Channel:            j.Channel,
		MediaLocalPath:     j.MediaLocalPath,
		ThumbnailLocalPath: j.ThumbnailLocalPath,
		Status:             string(j.Status),
		ProgressPercent:    j.ProgressPercent,
		DownloadedBytes:    j.DownloadedBytes,
		TotalBytes:         j.TotalBytes,
		SpeedBps:           j.SpeedBps,
		ETASeconds:         j.ETASeconds,
		AttemptCurrent:     j.AttemptCurrent,
		AttemptMax:         j.AttemptMax,
		RuntimeProfile:     string(j.RuntimeProfile),
		ErrorMessage:       j.ErrorMessage,
		LastExceptionType:  j.LastExceptionType,
	}
}

// handleDownload is POST /download: form fields u, preset.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	s.enqueue(w, r.FormValue("u"), r.FormValue("preset"))
}

func (s *Server) enqueue(w http.ResponseWriter, rawURL, rawPreset string) {
	url, err := validate.URL(rawURL)
	if err != nil {
		writeError(w, err)
		return
	}
	if rawPreset == "" {
		rawPreset = "best"
	}
	preset, err := validate.Preset(rawPreset, presetIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.store.Enqueue(uuid.NewString(), url, preset, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.MarkQueued(preset)
	logger.Log.Info().Str("event", "job_queued").Str("job_id", job.ID).Str("preset", preset).Msg("job_queued")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok": true, "job_id": job.ID, "preset": job.Preset, "status": string(job.Status),
	})
}

// handleStatus is GET /api/status/<id>.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": toJobView(job)})
}

// handleListJobs is GET /api/jobs?page&per_page&status&q&sort&uploader.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := validate.Clamp(atoiOr(q.Get("page"), 1), 1, 100000)
	perPage := validate.Clamp(atoiOr(q.Get("per_page"), 20), 1, 100)

	jobs, total, err := s.store.List(storage.ListOptions{
		Page:     page,
		PerPage:  perPage,
		Status:   q.Get("status"),
		Query:    q.Get("q"),
		Sort:     q.Get("sort"),
		Uploader: q.Get("uploader"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "jobs": views, "total": total, "page": page, "per_page": perPage,
	})
}

func atoiOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// handlePause is POST /api/jobs/<id>/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.store.PauseQueued(id, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		preset := ""
		if job, gerr := s.store.Get(id); gerr == nil {
			preset = job.Preset
		}
		metrics.MarkPaused(preset)
		logger.Log.Info().Str("event", "job_paused").Str("job_id", id).Msg("job_paused")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "paused"})
		return
	}

	if s.scheduler != nil && s.scheduler.CancelActive(id) {
		if _, err := s.store.PauseForce(id, time.Now()); err != nil {
			writeError(w, err)
			return
		}
		logger.Log.Info().Str("event", "job_paused").Str("job_id", id).Msg("pause_requested")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "pause_requested"})
		return
	}

	writeError(w, apperr.NewWithCode("httpapi.handlePause", apperr.ErrJobNotActive, "job_not_active_or_not_queued", "job is not queued or running"))
}

// handleResume is POST /api/jobs/<id>/resume.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.store.Resume(id, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NewWithCode("httpapi.handleResume", apperr.ErrInvalidState, "invalid_state", "job is not paused"))
		return
	}
	logger.Log.Info().Str("event", "job_resumed").Str("job_id", id).Msg("job_resumed")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "queued"})
}

// handleRetry is POST /api/jobs/<id>/retry.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.store.Retry(id, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NewWithCode("httpapi.handleRetry", apperr.ErrInvalidState, "invalid_state", "job is not failed or paused"))
		return
	}

	job, err := s.store.Get(id)
	preset := ""
	if err == nil {
		preset = job.Preset
	}
	metrics.MarkRetried(preset)
	logger.Log.Info().Str("event", "job_retried").Str("job_id", id).Msg("job_retried")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "queued"})
}

// handleDeleteJob is DELETE /api/jobs/<id>.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, chi.URLParam(r, "id"))
}

// handleLegacyDelete is POST /delete: form job_id or filename.
func (s *Server) handleLegacyDelete(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if id := r.FormValue("job_id"); id != "" {
		s.deleteByID(w, id)
		return
	}

	filename := r.FormValue("filename")
	if err := validate.Filename(filename); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.store.GetByFilename(filename)
	if err != nil {
		writeError(w, err)
		return
	}
	s.deleteByID(w, job.ID)
}

func (s *Server) deleteByID(w http.ResponseWriter, id string) {
	if s.scheduler != nil {
		s.scheduler.CancelActive(id)
	}

	job, err := s.store.Delete(id)
	if err != nil {
		writeError(w, err)
		return
	}

	deleteLocalFiles(s.cfg.BaseDownloadDir, job)
	logger.Log.Info().Str("event", "job_deleted").Str("job_id", id).Msg("job_deleted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "deleted"})
}

// handlePresets is GET /api/presets.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	list := make([]map[string]any, 0, len(extractor.Presets))
	for _, id := range presetIDs {
		p := extractor.Presets[id]
		list = append(list, map[string]any{
			"id": p.ID, "label": p.Label, "audio_only": p.AudioOnly,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "presets": list})
}
