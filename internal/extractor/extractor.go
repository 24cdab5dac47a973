// Package extractor wraps the external media fetcher (yt-dlp) behind a
// small adapter contract: one call that either returns extracted info or
// raises an error, invoking a progress hook along the way (spec §4.6).
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrPauseRequested is returned by a ProgressHook to cooperatively abort an
// in-flight extraction; Extract propagates it to the caller after killing
// the underlying process.
var ErrPauseRequested = errors.New("extractor: pause requested")

// Preset is one entry of the closed preset set (spec §6.1).
type Preset struct {
	ID          string
	Label       string
	Format      string
	AudioOnly   bool
	AudioFormat string
}

// Presets is the closed, enumerated set of presets an enqueue may request.
// Unknown preset ids are rejected by validate.Preset before they ever reach
// this package.
var Presets = map[string]Preset{
	"best": {
		ID:     "best",
		Label:  "Best",
		Format: "bestvideo+bestaudio/best",
	},
	"best_1080p": {
		ID:     "best_1080p",
		Label:  "Best 1080p",
		Format: "bestvideo[height<=1080]+bestaudio/best[height<=1080]/best",
	},
	"audio_only": {
		ID:          "audio_only",
		Label:       "Audio only (M4A)",
		Format:      "bestaudio/best",
		AudioOnly:   true,
		AudioFormat: "m4a",
	},
}

// PresetIDs returns the closed set of preset ids, for validate.Preset.
func PresetIDs() []string {
	ids := make([]string, 0, len(Presets))
	for id := range Presets {
		ids = append(ids, id)
	}
	return ids
}

// Lookup resolves a preset id against the closed set.
func Lookup(id string) (Preset, bool) {
	p, ok := Presets[id]
	return p, ok
}

// Options configures one extraction attempt. Fields map directly onto the
// option-key table in spec §4.6.
type Options struct {
	OutputDir         string
	Preset            Preset
	RestrictFilenames bool
	Retries           int      // internal extractor retries, >= 3
	FFmpegPath        string   // ffmpeg_location
	JSRuntime         string   // js_runtimes: runtime name (e.g. deno)
	JSRuntimePath     string   // js_runtimes: path to the runtime binary
	PlayerClients     []string // extractor_args youtube:player_client=... (fallback profile only)
}

// Event is the shape passed to a ProgressHook: yt-dlp's own progress dict,
// decoded from its --progress-template JSON output (spec §4.3.1).
type Event struct {
	Status             string   `json:"status"`
	Filename           string   `json:"filename"`
	DownloadedBytes    int64    `json:"downloaded_bytes"`
	TotalBytes         *int64   `json:"total_bytes"`
	TotalBytesEstimate *int64   `json:"total_bytes_estimate"`
	Speed              *float64 `json:"speed"`
	ETA                *int64   `json:"eta"`
}

// ProgressHook is invoked for every progress event the extractor reports.
// Returning ErrPauseRequested aborts the extraction cooperatively.
type ProgressHook func(Event) error

// RequestedDownload mirrors one entry of yt-dlp's requested_downloads list.
type RequestedDownload struct {
	Filepath string `json:"filepath"`
	Filename string `json:"_filename"`
}

// Info is the subset of yt-dlp's info dict the orchestrator persists and
// uses for on-disk path resolution (spec §4.3.2, §3.1).
type Info struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	WebpageURL         string              `json:"webpage_url"`
	Extractor          string              `json:"extractor"`
	ExtractorKey       string              `json:"extractor_key"`
	Uploader           string              `json:"uploader"`
	UploaderID         string              `json:"uploader_id"`
	Channel            string              `json:"channel"`
	ChannelID          string              `json:"channel_id"`
	Duration           FlexibleNumber      `json:"duration"`
	UploadDate         string              `json:"upload_date"`
	Thumbnail          string              `json:"thumbnail"`
	Ext                string              `json:"ext"`
	Filename           string              `json:"_filename"`
	Filepath           string              `json:"filepath"`
	RequestedDownloads []RequestedDownload `json:"requested_downloads"`
}

// FlexibleNumber accepts either a JSON number or string, since yt-dlp's
// extractors are not consistent about which they emit for duration.
type FlexibleNumber float64

func (f *FlexibleNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleNumber(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = 0
		return nil
	}
	if parsed, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexibleNumber(parsed)
	}
	return nil
}

// Extractor is the adapter contract the worker depends on. A concrete
// implementation wraps a specific external fetcher (YtDlpExtractor wraps
// yt-dlp); tests may substitute a fake.
type Extractor interface {
	Extract(ctx context.Context, url string, opts Options, hook ProgressHook) (Info, error)
}
