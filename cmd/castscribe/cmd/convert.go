package cmd

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/castscribe/internal/caption"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/stitch"
)

type convertOptions struct {
	meta      models.RecordingMetadata
	tolerance float64
	maxCue    float64
	output    string
}

func newConvertCmd() *cobra.Command {
	var opts convertOptions
	c := &cobra.Command{
		Use:   "convert segment [segment...]",
		Short: "Stitch transcript segments and write WebVTT",
		Long: `Stitches raw transcript segments in order, trimming the overlap between
neighbours, and converts the result to WebVTT. Use "-" to read a segment from stdin.

Examples:
  castscribe convert --duration 3600 part0.txt part1.txt part2.txt > episode.vtt
  castscribe convert --duration 3600 --title "Episode 42" -o episode.vtt part*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, opts)
		},
	}
	c.Flags().Float64VarP(&opts.meta.DurationSeconds, "duration", "d", 0, "Recording duration in seconds")
	c.Flags().StringVar(&opts.meta.Title, "title", "", "Recording title")
	c.Flags().StringVar(&opts.meta.ShowID, "show", "", "Show id")
	c.Flags().StringVar(&opts.meta.EpisodeID, "episode", "", "Episode id")
	c.Flags().Float64Var(&opts.tolerance, "tolerance", stitch.DefaultOverlapTolerance, "Seconds of overlap tolerated at a seam")
	c.Flags().Float64Var(&opts.maxCue, "max-cue", caption.DefaultMaxCueDuration, "Longest cue in seconds")
	c.Flags().StringVarP(&opts.output, "output", "o", "", "Write the captions to this file instead of stdout")
	return c
}

func runConvert(cmd *cobra.Command, args []string, opts convertOptions) error {
	segments := make([]models.TranscriptSegment, 0, len(args))
	for i, path := range args {
		text, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		segments = append(segments, models.TranscriptSegment{Index: i, Text: text, ProducedAt: time.Now()})
	}

	t := stitch.Stitch(segments, opts.tolerance)
	for _, a := range t.Anomalies {
		slog.Warn("seam anomaly", "boundary", a.Boundary, "reason", a.Reason, "detail", a.String())
	}
	slog.Debug("stitched", "segments", t.SegmentCount, "dropped_lines", t.DroppedLines)

	track := caption.NewConverter(caption.Config{MaxCueDuration: opts.maxCue}).Convert(t.Text, opts.meta)

	var buf bytes.Buffer
	if err := track.WriteVTT(&buf); err != nil {
		return fmt.Errorf("write captions: %w", err)
	}
	if opts.output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(opts.output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	slog.Info("captions written", "path", opts.output, "cues", len(track.Cues), "notes", len(track.Notes))
	return nil
}
