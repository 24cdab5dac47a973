// Package worker runs one job's attempt plan to completion: primary
// extraction, optional YouTube fallback, progress reporting, and the
// terminal Store transition. One Worker.Run call is one attempt plan;
// the Scheduler runs each in its own goroutine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"downloaderd/internal/config"
	"downloaderd/internal/extractor"
	"downloaderd/internal/logger"
	"downloaderd/internal/metrics"
	"downloaderd/internal/storage"
)

// retryableTokens are matched, case-insensitively, against a primary-profile
// extractor error's message to decide whether another attempt is worthwhile.
var retryableTokens = []string{"403", "forbidden", "sabr", "missing a url", "unable to download video data"}

// Worker executes one job's download attempts against the Store.
type Worker struct {
	store     *storage.Store
	extractor extractor.Extractor
	cfg       *config.Config
}

// New builds a Worker bound to a Store, an Extractor, and the process config.
func New(store *storage.Store, ex extractor.Extractor, cfg *config.Config) *Worker {
	return &Worker{store: store, extractor: ex, cfg: cfg}
}

// Run executes jobID's attempt plan. ctx's cancellation is the job's pause
// signal: the Scheduler cancels ctx when the control plane asks to pause an
// active job. Run always returns once the job reaches a terminal state, is
// paused, or can no longer be worked (row missing, already taken elsewhere).
func (w *Worker) Run(ctx context.Context, jobID string) {
	started := time.Now()

	job, err := w.store.Get(jobID)
	if err != nil || job.RequestedURL == "" {
		return
	}

	preset := job.Preset
	if preset == "" {
		preset = "best"
	}

	profiles := []storage.RuntimeProfile{storage.ProfilePrimary}
	if w.cfg.YtDlpEnableYouTubeFallback && isYouTubeURL(job.RequestedURL) {
		profiles = append(profiles, storage.ProfileFallback)
	}
	attemptMax := len(profiles)

	for i, profile := range profiles {
		attemptNo := i + 1

		select {
		case <-ctx.Done():
			w.pauseActive(jobID, preset, started)
			return
		default:
		}

		ok, err := w.store.Begin(jobID, attemptNo, attemptMax, profile, time.Now())
		if err != nil {
			logger.Log.Error().Err(err).Str("job_id", jobID).Msg("begin_failed")
			return
		}
		if !ok {
			if current, cerr := w.store.Get(jobID); cerr == nil && current.Status == storage.StatusPaused {
				metrics.ObserveJobDuration(preset, "paused", time.Since(started).Seconds())
			}
			return
		}

		metrics.MarkStarted(preset)
		attemptID, err := w.store.CreateAttempt(jobID, attemptNo, profile, time.Now())
		if err != nil {
			logger.Log.Error().Err(err).Str("job_id", jobID).Msg("create_attempt_failed")
			return
		}

		opts := w.buildOptions(preset, profile)
		hook := w.progressHook(ctx, jobID)

		info, err := w.extractor.Extract(ctx, job.RequestedURL, opts, hook)

		switch {
		case errors.Is(err, extractor.ErrPauseRequested):
			w.store.PauseForce(jobID, time.Now())
			w.store.FinalizeAttempt(attemptID, storage.AttemptPaused, "paused_by_user", "PauseRequestedError", time.Now())
			metrics.MarkPaused(preset)
			metrics.ObserveJobDuration(preset, "paused", time.Since(started).Seconds())
			logger.Log.Info().Str("job_id", jobID).Str("preset", preset).Msg("job_paused")
			return

		case err != nil:
			message := err.Error()
			excType := "ExtractError"
			w.store.FinalizeAttempt(attemptID, storage.AttemptFailed, message, excType, time.Now())

			if isRetryable(message, profile, attemptNo, attemptMax) {
				logger.Log.Info().
					Str("job_id", jobID).Str("preset", preset).Int("attempt", attemptNo).
					Msg("job_attempt_retrying")
				continue
			}

			w.store.FinishFail(jobID, message, excType, profile, attemptNo, attemptMax, time.Now())
			metrics.MarkFailed(failureReason(message))
			metrics.ObserveJobDuration(preset, "failed", time.Since(started).Seconds())
			logger.Log.Error().
				Str("job_id", jobID).Str("preset", preset).Int("attempt", attemptNo).
				Str("runtime_profile", string(profile)).Str("error_type", excType).
				Msg("job_failed")
			return

		default:
			in := w.resolveFinishInput(job.RequestedURL, info)
			w.store.FinishOK(jobID, in, time.Now())
			w.store.FinalizeAttempt(attemptID, storage.AttemptCompleted, "", "", time.Now())
			metrics.MarkCompleted(preset)
			metrics.ObserveJobDuration(preset, "completed", time.Since(started).Seconds())

			size := "unknown"
			if final, gerr := w.store.Get(jobID); gerr == nil && final.DownloadedBytes > 0 {
				size = humanize.Bytes(uint64(final.DownloadedBytes))
			}
			logger.Log.Info().
				Str("job_id", jobID).Str("preset", preset).Str("title", info.Title).
				Str("size", size).
				Msg("job_completed")
			return
		}
	}
}

func (w *Worker) pauseActive(jobID, preset string, started time.Time) {
	w.store.PauseForce(jobID, time.Now())
	metrics.MarkPaused(preset)
	metrics.ObserveJobDuration(preset, "paused", time.Since(started).Seconds())
}

func (w *Worker) buildOptions(presetID string, profile storage.RuntimeProfile) extractor.Options {
	preset, ok := extractor.Lookup(presetID)
	if !ok {
		preset = extractor.Presets["best"]
	}
	opts := extractor.Options{
		OutputDir:         w.cfg.BaseDownloadDir,
		Preset:            preset,
		RestrictFilenames: true,
		Retries:           3,
		FFmpegPath:        w.cfg.YtDlpFFmpegPath,
		JSRuntime:         w.cfg.YtDlpJSRuntime,
		JSRuntimePath:     w.cfg.YtDlpJSRuntimePath,
	}
	if profile == storage.ProfileFallback {
		opts.PlayerClients = []string{"android_vr", "android", "ios", "tv"}
	}
	return opts
}

// resolveFinishInput maps the extractor's info dict onto the Store's write
// shape, resolving on-disk paths per spec §4.3.2.
func (w *Worker) resolveFinishInput(requestedURL string, info extractor.Info) storage.FinishOKInput {
	mediaRel, _ := resolveMediaPath(w.cfg.BaseDownloadDir, info)
	var thumbRel string
	if mediaRel != "" {
		thumbRel, _ = resolveThumbnailPath(w.cfg.BaseDownloadDir, mediaRel)
	}

	canonical := info.WebpageURL
	if canonical == "" {
		canonical = requestedURL
	}

	var duration *float64
	if info.Duration != 0 {
		d := float64(info.Duration)
		duration = &d
	}

	// Best-effort: the info dict is persisted for forensic inspection only,
	// so a marshal failure degrades to an empty blob rather than failing the
	// whole finish_ok transition.
	metadataJSON := ""
	if raw, err := json.Marshal(info); err == nil {
		metadataJSON = string(raw)
	}

	return storage.FinishOKInput{
		CanonicalURL:       canonical,
		WebpageURL:         info.WebpageURL,
		VideoID:            info.ID,
		Extractor:          info.Extractor,
		ExtractorKey:       info.ExtractorKey,
		Title:              info.Title,
		Uploader:           info.Uploader,
		UploaderID:         info.UploaderID,
		Channel:            info.Channel,
		ChannelID:          info.ChannelID,
		DurationSeconds:    duration,
		UploadDate:         info.UploadDate,
		ThumbnailRemoteURL: info.Thumbnail,
		MediaLocalPath:     mediaRel,
		MediaExt:           strings.TrimPrefix(extOf(mediaRel), "."),
		ThumbnailLocalPath: thumbRel,
		MetadataJSON:       metadataJSON,
	}
}

// progressHook builds the per-attempt hook closure: rate-limited Store
// writes plus the downloaded-bytes metric delta, per spec §4.3.1.
func (w *Worker) progressHook(ctx context.Context, jobID string) extractor.ProgressHook {
	var lastBytes int64
	var lastFlush time.Time

	return func(ev extractor.Event) error {
		select {
		case <-ctx.Done():
			return extractor.ErrPauseRequested
		default:
		}

		if ev.Status != "downloading" && ev.Status != "finished" {
			return nil
		}

		downloaded := ev.DownloadedBytes
		total := ev.TotalBytes
		if total == nil {
			total = ev.TotalBytesEstimate
		}

		if ev.Status == "finished" {
			t := downloaded
			if total != nil {
				t = *total
			}
			percent := 100.0
			eta := int64(0)
			w.store.UpdateProgress(jobID, &percent, downloaded, &t, nil, &eta, time.Now())
			if delta := downloaded - lastBytes; delta > 0 {
				metrics.AddDownloadedBytes(delta)
			}
			lastBytes = downloaded
			return nil
		}

		now := time.Now()
		if !lastFlush.IsZero() && now.Sub(lastFlush) < w.cfg.ProgressFlushInterval {
			return nil
		}

		var percent *float64
		if total != nil && *total > 0 {
			p := math.Round(float64(downloaded)/float64(*total)*10000) / 100
			percent = &p
		}

		w.store.UpdateProgress(jobID, percent, downloaded, total, ev.Speed, ev.ETA, now)
		if delta := downloaded - lastBytes; delta > 0 {
			metrics.AddDownloadedBytes(delta)
		}
		lastBytes = downloaded
		lastFlush = now
		return nil
	}
}

// isRetryable implements spec §4.3's retry predicate: only the primary
// profile retries, only when another attempt remains, and only for errors
// whose message names a known transient yt-dlp failure mode.
func isRetryable(message string, profile storage.RuntimeProfile, attemptNo, attemptMax int) bool {
	if profile != storage.ProfilePrimary || attemptNo >= attemptMax {
		return false
	}
	lowered := strings.ToLower(message)
	for _, token := range retryableTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// failureReason classifies a terminal failure message for the
// jobs_failed_total{reason} metric. Order matters: 403/forbidden is checked
// first since it's the most actionable bucket.
func failureReason(message string) string {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "403") || strings.Contains(lowered, "forbidden"):
		return "forbidden"
	case strings.Contains(lowered, "network"):
		return "network"
	case strings.Contains(lowered, "not available"):
		return "unavailable"
	default:
		return "other"
	}
}

func isYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

func extOf(relPath string) string {
	idx := strings.LastIndexByte(relPath, '.')
	if idx < 0 {
		return ""
	}
	return relPath[idx:]
}
