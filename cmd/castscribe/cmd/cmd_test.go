package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/castscribe/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const halfHour = "[00:00:00] Host: Welcome.\n[00:10:00] Guest: Middle part.\n[00:30:00] Host: Half way there.\n"

func TestCoverageText(t *testing.T) {
	out, _, err := execute(t, halfHour, "coverage", "--duration", "3600")
	require.NoError(t, err)
	assert.Contains(t, out, "covered:  00:30:00 of 01:00:00 (50%)")
	assert.Contains(t, out, "complete: false")
}

func TestCoverageJSONFromFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ep.txt", halfHour)

	out, _, err := execute(t, "", "coverage", "--duration", "1900", "--json", path)
	require.NoError(t, err)

	var got struct {
		Result struct {
			CoveredSeconds float64 `json:"covered_seconds"`
			Ratio          float64 `json:"ratio"`
		} `json:"result"`
		Complete bool `json:"complete"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1800.0, got.Result.CoveredSeconds)
	assert.InDelta(t, 0.947, got.Result.Ratio, 0.001)
	assert.True(t, got.Complete)
}

func TestCoverageStrict(t *testing.T) {
	_, _, err := execute(t, halfHour, "coverage", "--duration", "3600", "--strict")
	assert.ErrorContains(t, err, "coverage 50% below 85%")

	_, _, err = execute(t, halfHour, "coverage", "--duration", "3600", "--strict", "--min-ratio", "0.5")
	assert.NoError(t, err)
}

func TestCoverageNeedsDuration(t *testing.T) {
	_, _, err := execute(t, halfHour, "coverage")
	assert.Error(t, err)

	_, _, err = execute(t, halfHour, "coverage", "--duration=-5")
	assert.ErrorContains(t, err, "--duration must be positive")
}

func TestConvertStitchesSegments(t *testing.T) {
	dir := t.TempDir()
	seg0 := writeFile(t, dir, "part0.txt", "[00:00:00] Host: Welcome to the show.\n[00:00:05] Guest: Thanks for having me.\n")
	seg1 := writeFile(t, dir, "part1.txt", "[00:00:05] Guest: Thanks for having me.\n[00:00:09] Host: Let us begin.\n")

	out, _, err := execute(t, "", "convert", "--duration", "12", "--title", "Pilot", seg0, seg1)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "WEBVTT\n"))
	assert.Contains(t, out, "title: Pilot")
	assert.Equal(t, 1, strings.Count(out, "Thanks for having me."))
	assert.Contains(t, out, "00:00:09.000 --> 00:00:10.200")
	assert.Contains(t, out, "<v Host>Let us begin.</v>")
}

func TestConvertToFileAndStdin(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "ep.vtt")

	out, _, err := execute(t, "[00:00:01] Host: From stdin.\n", "convert", "--duration", "4", "-o", dest, "-")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:01.000 --> 00:00:02.000")
	assert.Contains(t, string(data), "From stdin.")
}

func TestConvertMissingFile(t *testing.T) {
	_, _, err := execute(t, "", "convert", filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "nope.txt")
}

func TestTranscribeArgs(t *testing.T) {
	_, _, err := execute(t, "", "transcribe")
	assert.Error(t, err)
}

func TestTranscribeUnknownBackend(t *testing.T) {
	_, _, err := execute(t, "", "transcribe", "--backend", "telepathy", "--store-dir", t.TempDir(), "episode.mp3")
	assert.ErrorContains(t, err, `unknown STT backend "telepathy"`)
}

func TestLocalConfig(t *testing.T) {
	cfg := &config.Config{
		Quota:   config.QuotaConfig{Backend: "redis"},
		Storage: config.StorageConfig{Backend: "supabase", LocalDir: "data"},
		STT:     config.STTConfig{Backend: "whisper"},
	}
	localConfig(cfg, transcribeOptions{storeDir: "/tmp/captions", backend: "chat"})

	assert.Equal(t, "memory", cfg.Quota.Backend)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/captions", cfg.Storage.LocalDir)
	assert.Equal(t, "chat", cfg.STT.Backend)
}
