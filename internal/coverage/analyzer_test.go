package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		total     float64
		wantRatio float64
		wantToken string
	}{
		{name: "a third", text: "[00:00:00] A: hi\n[00:20:00] B: bye", total: 3600, wantRatio: 1200.0 / 3600, wantToken: "00:20:00"},
		{name: "spoken clock ignored", text: "[00:05:00] Host: we will be back at 59:58 sharp", total: 3600, wantRatio: 300.0 / 3600, wantToken: "00:05:00"},
		{name: "clamped above one", text: "[01:10:00] A: outro", total: 3600, wantRatio: 1, wantToken: "01:10:00"},
		{name: "no timestamp", text: "A: hello", total: 3600, wantRatio: 0},
		{name: "zero duration", text: "[00:01:00] A: hi", total: 0, wantRatio: 0, wantToken: "00:01:00"},
		{name: "negative duration", text: "[00:01:00] A: hi", total: -5, wantRatio: 0, wantToken: "00:01:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(tt.text, tt.total)
			assert.InDelta(t, tt.wantRatio, res.Ratio, 1e-9)
			assert.Equal(t, tt.total, res.TotalSeconds)
			if tt.wantToken == "" {
				assert.Nil(t, res.LastTimestampToken)
				assert.Zero(t, res.CoveredSeconds)
				return
			}
			require.NotNil(t, res.LastTimestampToken)
			assert.Equal(t, tt.wantToken, *res.LastTimestampToken)
		})
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	text := "[00:00:05] Host: hi\n[00:42:10] Guest: and that is it"
	first := Analyze(text, 3600)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Analyze(text, 3600))
	}
}

func TestAnalyzerIsComplete(t *testing.T) {
	a := NewAnalyzer(0)
	assert.Equal(t, DefaultMinRatio, a.MinRatio)

	assert.False(t, a.IsComplete(a.Analyze("[00:50:00] A: x", 3600)))
	assert.True(t, a.IsComplete(a.Analyze("[00:51:40] A: x", 3600)))

	strict := NewAnalyzer(1.0)
	assert.False(t, strict.IsComplete(strict.Analyze("[00:59:59] A: x", 3600)))
	assert.True(t, strict.IsComplete(strict.Analyze("[01:00:00] A: x", 3600)))
}
