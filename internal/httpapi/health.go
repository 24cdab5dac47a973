package httpapi

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// handleHealthz is the liveness probe: always 200 if the process can answer
// HTTP at all (spec §6.2).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
}

// handleReadyz is the readiness probe: the Store must accept a read+write
// round trip, the storage root must be writable, and free disk space must
// clear MIN_FREE_DISK_MB. Reports per-check diagnostics on failure, grounded
// on queue_manager.py's build_runtime_diagnostics.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	ready := true

	if err := s.store.CheckReadWrite(); err != nil {
		checks["database"] = map[string]any{"ok": false, "error": err.Error()}
		ready = false
	} else {
		checks["database"] = map[string]any{"ok": true}
	}

	storageOK, storageErr := checkStorageWritable(s.cfg.BaseDownloadDir)
	if !storageOK {
		checks["storage_dir"] = map[string]any{"ok": false, "error": storageErr}
		ready = false
	} else {
		checks["storage_dir"] = map[string]any{"ok": true}
	}

	freeMB, diskErr := freeDiskMB(s.cfg.BaseDownloadDir)
	diskOK := diskErr == nil && freeMB >= float64(s.cfg.MinFreeDiskMB)
	if !diskOK {
		entry := map[string]any{"ok": false, "free_mb": freeMB, "min_required_mb": s.cfg.MinFreeDiskMB}
		if diskErr != nil {
			entry["error"] = diskErr.Error()
		}
		checks["disk_space"] = entry
		ready = false
	} else {
		checks["disk_space"] = map[string]any{"ok": true, "free_mb": freeMB, "min_required_mb": s.cfg.MinFreeDiskMB}
	}

	checks["runtime"] = runtimeDiagnostics(s.cfg.YtDlpJSRuntime, s.cfg.YtDlpJSRuntimePath, s.cfg.YtDlpFFmpegPath, s.cfg.MaxConcurrentDownloads, s.cfg.BaseDownloadDir)

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": ready, "checks": checks})
}

func checkStorageWritable(dir string) (bool, string) {
	probe := filepath.Join(dir, ".readyz_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false, err.Error()
	}
	os.Remove(probe)
	return true, ""
}

func freeDiskMB(dir string) (float64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / (1024 * 1024), nil
}

// runtimeDiagnostics mirrors queue_manager.py's build_runtime_diagnostics:
// reports the configured and resolved JS runtime and ffmpeg paths so an
// operator can see why extraction might be failing without grepping logs.
func runtimeDiagnostics(jsRuntime, jsRuntimePath, ffmpegPath string, maxConcurrent int, baseDir string) map[string]any {
	resolvedRuntime := "disabled"
	if jsRuntime != "" {
		resolvedRuntime = jsRuntimePath
		if resolvedRuntime == "" {
			if p, err := exec.LookPath(jsRuntime); err == nil {
				resolvedRuntime = p
			} else {
				resolvedRuntime = "not_found"
			}
		}
	}

	resolvedFFmpeg := ffmpegPath
	if resolvedFFmpeg == "" {
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			resolvedFFmpeg = p
		} else {
			resolvedFFmpeg = "not_found"
		}
	}

	runtimeLabel := jsRuntime
	if runtimeLabel == "" {
		runtimeLabel = "disabled"
	}
	configuredPath := jsRuntimePath
	if configuredPath == "" {
		configuredPath = "-"
	}

	return map[string]any{
		"js_runtime":              runtimeLabel,
		"configured_runtime_path": configuredPath,
		"resolved_runtime_path":   resolvedRuntime,
		"ffmpeg":                  resolvedFFmpeg,
		"max_concurrent_downloads": maxConcurrent,
		"base_download_dir":       baseDir,
	}
}
