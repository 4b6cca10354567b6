package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/castscribe/internal/app"
	"github.com/nikhilbhutani/castscribe/internal/config"
	"github.com/nikhilbhutani/castscribe/internal/engine"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/report"
	"github.com/nikhilbhutani/castscribe/internal/storage"
)

type transcribeOptions struct {
	meta     models.RecordingMetadata
	storeDir string
	backend  string
}

func newTranscribeCmd() *cobra.Command {
	var opts transcribeOptions
	c := &cobra.Command{
		Use:   "transcribe audio-file",
		Short: "Transcribe a local recording and store its captions",
		Long: `Runs the full pipeline on one local audio file: initial transcription,
continuation until the transcript covers the recording, stitching, and WebVTT
conversion. Quota is tracked in memory and captions land in the local store.
Provider keys come from the usual environment variables.

Examples:
  castscribe transcribe --episode ep42 --show tech-talk episode42.mp3
  castscribe transcribe --episode ep42 --speaker Host --speaker Guest --store-dir out episode42.mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.meta.AudioRef = args[0]
			return runTranscribe(cmd, opts)
		},
	}
	c.Flags().StringVar(&opts.meta.EpisodeID, "episode", "", "Episode id (default: file name)")
	c.Flags().StringVar(&opts.meta.ShowID, "show", "local", "Show id")
	c.Flags().StringVar(&opts.meta.Title, "title", "", "Recording title")
	c.Flags().StringVar(&opts.meta.Description, "description", "", "Recording description")
	c.Flags().Float64VarP(&opts.meta.DurationSeconds, "duration", "d", 0, "Duration in seconds (default: probed with ffprobe)")
	c.Flags().StringArrayVar(&opts.meta.SpeakerHints, "speaker", nil, "Expected speaker name, repeatable")
	c.Flags().StringVar(&opts.storeDir, "store-dir", "", "Caption store directory (default: STORAGE_LOCAL_DIR)")
	c.Flags().StringVar(&opts.backend, "backend", "", "Transcription backend: whisper or chat (default: STT_BACKEND)")
	return c
}

func runTranscribe(cmd *cobra.Command, opts transcribeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	localConfig(cfg, opts)

	meta := opts.meta
	if meta.EpisodeID == "" {
		base := filepath.Base(meta.AudioRef)
		meta.EpisodeID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if meta.Title == "" {
		meta.Title = meta.EpisodeID
	}

	eng, err := app.NewEngine(cfg, app.Resources{Logger: slog.Default()})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := eng.Process(ctx, engine.Job{RunID: uuid.New(), Metadata: meta})
	if rep != nil {
		if perr := printReport(cmd, rep); perr != nil {
			return perr
		}
		if rep.CaptionKey != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "captions: %s\n", storage.NewLocalStorage(cfg.Storage.LocalDir).URL(rep.CaptionKey))
		}
	}
	return err
}

// localConfig points a loaded config at process-local quota and storage.
func localConfig(cfg *config.Config, opts transcribeOptions) {
	cfg.Quota.Backend = "memory"
	cfg.Storage.Backend = "local"
	if opts.storeDir != "" {
		cfg.Storage.LocalDir = opts.storeDir
	}
	if opts.backend != "" {
		cfg.STT.Backend = opts.backend
	}
}

func printReport(cmd *cobra.Command, rep *report.Report) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
