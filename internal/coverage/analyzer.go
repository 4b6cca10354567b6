// Package coverage measures how much of a recording a transcript accounts for.
package coverage

import (
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

// DefaultMinRatio is the completeness threshold. Models tend to stop a little short of
// the true end of speech, so full coverage is not required by default.
const DefaultMinRatio = 0.85

// Analyze computes coverage from the last timestamp found in text. It has no side effects.
func Analyze(text string, totalSeconds float64) models.CoverageResult {
	res := models.CoverageResult{TotalSeconds: totalSeconds}

	tok, ok := timestamp.ExtractLast(text)
	if !ok {
		return res
	}
	raw := tok.Raw
	res.LastTimestampToken = &raw
	res.CoveredSeconds = tok.Seconds

	if totalSeconds > 0 {
		res.Ratio = clamp(tok.Seconds / totalSeconds)
	}
	return res
}

func clamp(r float64) float64 {
	switch {
	case r != r, r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Analyzer pairs Analyze with a completeness threshold.
type Analyzer struct {
	MinRatio float64
}

func NewAnalyzer(minRatio float64) Analyzer {
	if minRatio <= 0 || minRatio > 1 {
		minRatio = DefaultMinRatio
	}
	return Analyzer{MinRatio: minRatio}
}

func (a Analyzer) Analyze(text string, totalSeconds float64) models.CoverageResult {
	return Analyze(text, totalSeconds)
}

func (a Analyzer) IsComplete(res models.CoverageResult) bool {
	return res.Ratio >= a.MinRatio
}
