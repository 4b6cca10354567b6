package models

import (
	"time"
)

// RecordingMetadata identifies the audio being transcribed. DurationSeconds is authoritative.
type RecordingMetadata struct {
	ShowID          string   `json:"show_id"`
	EpisodeID       string   `json:"episode_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	AudioRef        string   `json:"audio_ref"`
	DurationSeconds float64  `json:"duration_seconds"`
	SpeakerHints    []string `json:"speaker_hints,omitempty"`
}

// TranscriptSegment is the raw text returned by one transcription or continuation call.
// Index 0 is the initial call.
type TranscriptSegment struct {
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	ProducedAt time.Time `json:"produced_at"`
}

type CoverageResult struct {
	CoveredSeconds     float64 `json:"covered_seconds"`
	TotalSeconds       float64 `json:"total_seconds"`
	Ratio              float64 `json:"ratio"`
	LastTimestampToken *string `json:"last_timestamp_token,omitempty"`
}

// Percent is the ratio rendered for humans, e.g. 62 for 0.62.
func (c CoverageResult) Percent() int {
	return int(c.Ratio*100 + 0.5)
}

type AttemptResult string

const (
	AttemptSuccess    AttemptResult = "success"
	AttemptAPIError   AttemptResult = "api_error"
	AttemptParseError AttemptResult = "parse_error"
)

type ContinuationAttempt struct {
	AttemptNumber        int             `json:"attempt_number"`
	RequestedFromSeconds float64         `json:"requested_from_seconds"`
	Result               AttemptResult   `json:"result"`
	Coverage             *CoverageResult `json:"resulting_coverage,omitempty"`
	Error                string          `json:"error,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	Duration             time.Duration   `json:"duration"`
}

type RunState string

const (
	StateInitial                RunState = "INITIAL"
	StateEvaluating             RunState = "EVALUATING"
	StateRequestingContinuation RunState = "REQUESTING_CONTINUATION"
	StateComplete               RunState = "COMPLETE"
	StateExhausted              RunState = "EXHAUSTED"
	StateFailed                 RunState = "FAILED"
	StateCanceled               RunState = "CANCELED"
)

// Terminal reports whether no further transitions leave s.
func (s RunState) Terminal() bool {
	switch s {
	case StateComplete, StateExhausted, StateFailed, StateCanceled:
		return true
	}
	return false
}
