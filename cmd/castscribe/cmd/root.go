package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "castscribe",
		Short: "Complete and caption long-form recording transcripts",
		Long: `castscribe turns long recordings into complete, timestamped transcripts and
WebVTT captions. Truncated transcripts are continued from the last timestamp
until they cover the recording.

Commands:
  transcribe  - full run against a local audio file
  coverage    - report how much of a recording a transcript covers
  convert     - stitch transcript segments and write WebVTT`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(cmd.ErrOrStderr()))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(newTranscribeCmd())
	root.AddCommand(newCoverageCmd())
	root.AddCommand(newConvertCmd())
	return root
}

func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// readInput reads a file, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
