package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/castscribe/internal/coverage"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

type coverageOptions struct {
	duration float64
	minRatio float64
	asJSON   bool
	strict   bool
}

func newCoverageCmd() *cobra.Command {
	var opts coverageOptions
	c := &cobra.Command{
		Use:   "coverage [transcript]",
		Short: "Report how much of a recording a transcript covers",
		Long: `Finds the last timestamp in a transcript and compares it to the recording
duration. Reads stdin when no file is given.

Examples:
  castscribe coverage --duration 3600 episode.txt
  cat episode.txt | castscribe coverage --duration 3600 --json
  castscribe coverage --duration 3600 --strict episode.txt  # non-zero exit when incomplete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(cmd, args, opts)
		},
	}
	c.Flags().Float64VarP(&opts.duration, "duration", "d", 0, "Recording duration in seconds")
	c.Flags().Float64Var(&opts.minRatio, "min-ratio", coverage.DefaultMinRatio, "Coverage ratio that counts as complete")
	c.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	c.Flags().BoolVar(&opts.strict, "strict", false, "Fail when the transcript is incomplete")
	c.MarkFlagRequired("duration")
	return c
}

func runCoverage(cmd *cobra.Command, args []string, opts coverageOptions) error {
	if opts.duration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	text, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	analyzer := coverage.NewAnalyzer(opts.minRatio)
	res := analyzer.Analyze(text, opts.duration)
	complete := analyzer.IsComplete(res)

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Result   any  `json:"result"`
			Complete bool `json:"complete"`
		}{res, complete}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "covered:  %s of %s (%d%%)\n",
			timestamp.Format(res.CoveredSeconds), timestamp.Format(res.TotalSeconds), res.Percent())
		last := "none"
		if res.LastTimestampToken != nil {
			last = *res.LastTimestampToken
		}
		fmt.Fprintf(out, "last:     %s\n", last)
		fmt.Fprintf(out, "complete: %t\n", complete)
	}

	if opts.strict && !complete {
		return fmt.Errorf("transcript incomplete: coverage %d%% below %d%%", res.Percent(), int(analyzer.MinRatio*100+0.5))
	}
	return nil
}
