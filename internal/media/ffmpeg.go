// Package media wraps the ffmpeg and ffprobe binaries.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type FFmpeg struct {
	bin      string
	probeBin string
	workDir  string
	run      runFunc
}

func New(bin, probeBin, workDir string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FFmpeg{bin: bin, probeBin: probeBin, workDir: workDir, run: execRun}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, lastLine(stderr.String()))
	}
	return out, nil
}

// Slice writes the audio from `from` seconds to the end as mono 16kHz mp3 and returns
// the new file's path. The caller removes it.
func (f *FFmpeg) Slice(ctx context.Context, src string, from float64) (string, error) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(f.workDir, fmt.Sprintf("%s_from_%d.mp3", base, int(from)))

	if _, err := f.run(ctx, f.bin, sliceArgs(src, out, from)...); err != nil {
		return "", fmt.Errorf("slice audio: %w", err)
	}
	return out, nil
}

func sliceArgs(src, out string, from float64) []string {
	// ffmpeg -y -ss FROM -i input -vn -ac 1 -ar 16000 -b:a 32k output
	return []string{
		"-y", "-loglevel", "error",
		"-ss", strconv.FormatFloat(from, 'f', 3, 64),
		"-i", src,
		"-vn", "-ac", "1", "-ar", "16000", "-b:a", "32k",
		out,
	}
}

// Probe returns the duration of src in seconds.
func (f *FFmpeg) Probe(ctx context.Context, src string) (float64, error) {
	out, err := f.run(ctx, f.probeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src,
	)
	if err != nil {
		return 0, fmt.Errorf("probe audio: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
