package extractor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ansiRegex strips terminal color codes from yt-dlp's combined output
// before it's scanned for the progress-template prefix or an ERROR: line.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

const progressLinePrefix = "dlp-progress:"

// YtDlpExtractor drives the yt-dlp binary as a subprocess. Progress is
// reported via --progress-template, which lets yt-dlp JSON-encode its own
// progress dict per line instead of us scraping percentages out of
// human-readable text.
type YtDlpExtractor struct {
	YtDlpPath string
}

// NewYtDlpExtractor returns an Extractor backed by the yt-dlp binary at path.
func NewYtDlpExtractor(ytDlpPath string) *YtDlpExtractor {
	return &YtDlpExtractor{YtDlpPath: ytDlpPath}
}

func (e *YtDlpExtractor) buildArgs(url string, opts Options) []string {
	args := []string{
		"--newline",
		"--no-color",
		"--progress-template", progressLinePrefix + "%(progress)j",
		"-o", filepath.Join(opts.OutputDir, "%(title).200s [%(id)s].%(ext)s"),
		"--no-playlist",
		"--write-thumbnail",
		"--write-info-json",
		"--no-warnings",
		"--no-check-certificate",
		"--concurrent-fragments", "5",
	}

	retries := opts.Retries
	if retries < 3 {
		retries = 3
	}
	args = append(args, "--retries", fmt.Sprintf("%d", retries))

	if opts.RestrictFilenames {
		args = append(args, "--restrict-filenames")
	}
	if opts.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", opts.FFmpegPath)
	}

	var extractorArgs []string
	if opts.JSRuntime != "" {
		v := "youtube:jsruntime=" + opts.JSRuntime
		if opts.JSRuntimePath != "" {
			v += ",jsruntimepath=" + opts.JSRuntimePath
		}
		extractorArgs = append(extractorArgs, v)
	}
	if len(opts.PlayerClients) > 0 {
		extractorArgs = append(extractorArgs, "youtube:player_client="+strings.Join(opts.PlayerClients, ","))
	}
	for _, ea := range extractorArgs {
		args = append(args, "--extractor-args", ea)
	}

	if opts.Preset.AudioOnly {
		args = append(args, "-x", "--audio-format", opts.Preset.AudioFormat)
	} else {
		args = append(args, "-f", opts.Preset.Format, "--merge-output-format", "mp4")
	}

	args = append(args, url)
	return args
}

// Extract runs one yt-dlp invocation, streaming progress through hook and
// returning the parsed info dict on success.
func (e *YtDlpExtractor) Extract(ctx context.Context, url string, opts Options, hook ProgressHook) (Info, error) {
	args := e.buildArgs(url, opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.YtDlpPath, args...)
	setSysProcAttr(cmd)
	cmd.Env = append(cmd.Environ(),
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
		"PYTHONUNBUFFERED=1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Info{}, fmt.Errorf("extractor: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	started := time.Now()

	if err := cmd.Start(); err != nil {
		return Info{}, fmt.Errorf("extractor: start: %w", err)
	}

	paused := false
	lastErrLine := ""
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := ansiRegex.ReplaceAllString(scanner.Text(), "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		payload, ok := strings.CutPrefix(line, progressLinePrefix)
		if !ok {
			if strings.HasPrefix(line, "ERROR:") {
				lastErrLine = line
			}
			continue
		}

		var ev Event
		if jsonErr := json.Unmarshal([]byte(payload), &ev); jsonErr != nil {
			continue
		}
		if hook == nil {
			continue
		}
		if hookErr := hook(ev); hookErr != nil {
			paused = true
			cancel()
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			break
		}
	}

	waitErr := cmd.Wait()

	if paused {
		return Info{}, ErrPauseRequested
	}
	if ctx.Err() != nil {
		return Info{}, ctx.Err()
	}
	if waitErr != nil {
		if lastErrLine != "" {
			return Info{}, fmt.Errorf("yt-dlp: %s: %w", lastErrLine, waitErr)
		}
		return Info{}, fmt.Errorf("yt-dlp: %w", waitErr)
	}

	info, err := readInfoJSON(opts.OutputDir, started)
	if err != nil {
		return Info{}, fmt.Errorf("extractor: read info json: %w", err)
	}
	return info, nil
}

// readInfoJSON finds the *.info.json sidecar yt-dlp wrote for this run
// (the newest one modified no earlier than two seconds before started) and
// decodes it. This is
// the "info dict's filepath/_filename" step of spec §4.3.2, step 2 — the
// info.json itself is how the CLI adapter exposes that dict.
func readInfoJSON(dir string, started time.Time) (Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Info{}, err
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".info.json") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(started.Add(-2 * time.Second)) {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, entry.Name()), modTime: fi.ModTime()})
	}
	if len(candidates) == 0 {
		return Info{}, fmt.Errorf("no info.json produced under %s", dir)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })

	raw, err := os.ReadFile(candidates[0].path)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
