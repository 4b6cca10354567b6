package continuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/castscribe/internal/events"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/quota"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

// lines renders one utterance every step seconds over [from, to], always including to.
func lines(from, to, step float64) string {
	var b []string
	for t := from; t < to; t += step {
		b = append(b, timestamp.FormatLine(t, "Host", fmt.Sprintf("words spoken at second %d", int(t))))
	}
	b = append(b, timestamp.FormatLine(to, "Host", fmt.Sprintf("words spoken at second %d", int(to))))
	return strings.Join(b, "\n")
}

type scripted struct {
	mu       sync.Mutex
	replies  []func(ctx context.Context, req Request) (string, error)
	requests []Request
}

func (s *scripted) Request(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i](ctx, req)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func text(t string) func(context.Context, Request) (string, error) {
	return func(context.Context, Request) (string, error) { return t, nil }
}

func fails(err error) func(context.Context, Request) (string, error) {
	return func(context.Context, Request) (string, error) { return "", err }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = 0
	return cfg
}

var hourLong = models.RecordingMetadata{
	ShowID:          "show-1",
	EpisodeID:       "ep-42",
	Title:           "Pilot",
	AudioRef:        "audio/ep-42.mp3",
	DurationSeconds: 3600,
	SpeakerHints:    []string{"Host", "Guest"},
}

func TestTranscribe_CompletesAfterTwoContinuations(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text(lines(0, 1200, 60)),
		text(lines(1200, 2500, 60)),
		text(lines(2500, 3100, 60)),
	}}
	rec := events.NewRecorder()
	o := New(capability, nil, testConfig(), WithEvents(rec))

	out, err := o.Transcribe(context.Background(), hourLong)
	require.NoError(t, err)

	assert.Equal(t, models.StateComplete, out.State)
	assert.Len(t, out.Attempts, 2)
	assert.Equal(t, 3, out.Calls)
	assert.Equal(t, 3, capability.calls())
	assert.InDelta(t, 0.861, out.Coverage.Ratio, 0.001)
	require.NotNil(t, out.Transcript)
	assert.Contains(t, out.Transcript.Text, "[00:51:40] Host:")
	assert.Empty(t, out.Transcript.Anomalies)
	assert.Equal(t, 1, strings.Count(out.Transcript.Text, "[00:20:00]"))
	assert.Equal(t, 1, strings.Count(out.Transcript.Text, "[00:41:40]"))

	assert.Equal(t, models.StateInitial, out.Transitions[0])
	assert.Equal(t, models.StateComplete, out.Transitions[len(out.Transitions)-1])
	for _, a := range out.Attempts {
		assert.Equal(t, models.AttemptSuccess, a.Result)
		require.NotNil(t, a.Coverage)
	}
	assert.InDelta(t, 1200, out.Attempts[0].RequestedFromSeconds, 0.001)
	assert.InDelta(t, 2500, out.Attempts[1].RequestedFromSeconds, 0.001)
	assert.Equal(t, 2, rec.Count(events.ComponentContinuation, "request")-1)
}

func TestTranscribe_ContinuationRequestCarriesResumePoint(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text(lines(0, 1200, 60)),
		text(lines(1200, 3600, 60)),
	}}
	o := New(capability, nil, testConfig())

	_, err := o.Transcribe(context.Background(), hourLong)
	require.NoError(t, err)
	require.Len(t, capability.requests, 2)

	first, second := capability.requests[0], capability.requests[1]
	assert.Equal(t, 0, first.Attempt)
	assert.Contains(t, first.Prompt, "Pilot")
	assert.Contains(t, first.Prompt, "Host, Guest")

	assert.Equal(t, 1, second.Attempt)
	assert.InDelta(t, 1200, second.FromSeconds, 0.001)
	assert.Equal(t, "00:20:00", second.FromToken)
	assert.Contains(t, second.TrailingExcerpt, "[00:20:00] Host: words spoken at second 1200")
	assert.NotContains(t, second.TrailingExcerpt, "[00:00:00]")
	assert.Contains(t, second.Prompt, "ends at 00:20:00")
	assert.Equal(t, "audio/ep-42.mp3", second.AudioRef)
}

func TestEnsureComplete_AlreadyCompleteMakesNoCalls(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){fails(errors.New("unused"))}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 3400, 60)}, hourLong)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, out.State)
	assert.Zero(t, capability.calls())
	assert.Empty(t, out.Attempts)
}

func TestEnsureComplete_Exhausted(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		func(_ context.Context, req Request) (string, error) {
			return lines(req.FromSeconds, req.FromSeconds+60, 30), nil
		},
	}}
	cfg := testConfig()
	cfg.MaxContinuationAttempts = 3
	o := New(capability, nil, cfg)

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 60, 30)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedAttempts)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, models.StateExhausted, f.State)
	assert.Equal(t, "coverage 7% after 3 attempts", f.Reason)
	assert.Len(t, f.Attempts, 3)
	assert.Equal(t, models.StateExhausted, out.State)
	assert.Nil(t, out.Transcript)
	assert.Equal(t, 3, capability.calls())
}

func TestEnsureComplete_FailsAfterConsecutiveMalformed(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text("I'm sorry, I can't continue this transcript."),
		text(""),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 1200, 60)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, models.StateFailed, out.State)
	require.Len(t, out.Attempts, 2)
	for _, a := range out.Attempts {
		assert.Equal(t, models.AttemptParseError, a.Result)
		assert.NotEmpty(t, a.Error)
	}
}

func TestEnsureComplete_NoProgressIsMalformed(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text(lines(600, 1200, 60)),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 1200, 60)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Len(t, out.Attempts, 2)
	assert.InDelta(t, 1200, out.Coverage.CoveredSeconds, 0.001)
}

func TestEnsureComplete_RegressionFails(t *testing.T) {
	initial := strings.Join([]string{
		"[00:00:00] Host: welcome",
		"[00:10:00] Host: middle",
		"[00:20:00] Host: later",
	}, "\n")
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text("[00:05:05] Host: something else\n[00:06:05] Host: and more"),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: initial}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoverageRegression)
	assert.Equal(t, models.StateFailed, out.State)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, models.AttemptParseError, out.Attempts[0].Result)
	assert.Equal(t, 1, capability.calls())
}

func TestEnsureComplete_SpokenClockIsNotRegression(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text("[00:20:00] Host: more talk\n[00:40:00] Guest: I wake up at 6:30 every day."),
		text(lines(2400, 3300, 60)),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 1195, 60)}, hourLong)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, out.State)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, models.AttemptSuccess, out.Attempts[0].Result)
	require.NotNil(t, out.Attempts[0].Coverage)
	assert.InDelta(t, 2400, out.Attempts[0].Coverage.CoveredSeconds, 0.001)
	assert.InDelta(t, 2400, out.Attempts[1].RequestedFromSeconds, 0.001)
	assert.InDelta(t, 3300, out.Coverage.CoveredSeconds, 0.001)
	require.NotNil(t, out.Transcript)
	assert.Contains(t, out.Transcript.Text, "I wake up at 6:30 every day.")
}

func TestEnsureComplete_ZeroAttemptBudgetUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultConfig().MaxContinuationAttempts, Config{}.withDefaults().MaxContinuationAttempts)

	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		func(_ context.Context, req Request) (string, error) {
			return lines(req.FromSeconds, req.FromSeconds+60, 30), nil
		},
	}}
	cfg := testConfig()
	cfg.MaxContinuationAttempts = 0
	o := New(capability, nil, cfg)

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 60, 30)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedAttempts)
	assert.Len(t, out.Attempts, DefaultConfig().MaxContinuationAttempts)
	assert.Equal(t, DefaultConfig().MaxContinuationAttempts, capability.calls())
}

func TestTranscribe_TerminatesWithinAttemptBudget(t *testing.T) {
	tests := []struct {
		name    string
		reply   func(context.Context, Request) (string, error)
		initial func(context.Context, Request) (string, error)
	}{
		{
			name:    "always failing",
			initial: text(lines(0, 60, 30)),
			reply:   fails(errors.New("503 service unavailable")),
		},
		{
			name:    "always tiny progress",
			initial: text(lines(0, 60, 30)),
			reply: func(_ context.Context, req Request) (string, error) {
				return lines(req.FromSeconds, req.FromSeconds+30, 30), nil
			},
		},
		{
			name:    "always malformed",
			initial: text(lines(0, 60, 30)),
			reply:   text("no timestamps here"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability := &scripted{replies: []func(context.Context, Request) (string, error){tt.initial, tt.reply}}
			cfg := testConfig()
			cfg.MaxContinuationAttempts = 5
			cfg.MaxConsecutiveFailures = 100
			cfg.MaxConsecutiveMalformed = 100
			o := New(capability, nil, cfg)

			out, err := o.Transcribe(context.Background(), hourLong)
			require.Error(t, err)
			assert.True(t, out.State.Terminal())
			assert.NotEqual(t, models.StateComplete, out.State)
			assert.LessOrEqual(t, capability.calls(), cfg.MaxContinuationAttempts+1)
			assert.Equal(t, capability.calls(), out.Calls)
		})
	}
}

func TestEnsureComplete_ConsecutiveFailuresFail(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		fails(errors.New("connection reset")),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 1200, 60)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsecutiveFailures)
	assert.Equal(t, models.StateFailed, out.State)
	assert.Len(t, out.Attempts, 3)
	for _, a := range out.Attempts {
		assert.Equal(t, models.AttemptAPIError, a.Result)
	}
}

func TestEnsureComplete_RecoversAfterTransientFailure(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		fails(errors.New("429 too many requests")),
		text(lines(1200, 3300, 60)),
	}}
	var slept []time.Duration
	cfg := testConfig()
	cfg.BackoffBase = time.Second
	o := New(capability, nil, cfg)
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out, err := o.EnsureComplete(context.Background(), models.TranscriptSegment{Text: lines(0, 1200, 60)}, hourLong)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, out.State)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, models.AttemptAPIError, out.Attempts[0].Result)
	assert.Equal(t, models.AttemptSuccess, out.Attempts[1].Result)
	assert.Equal(t, []time.Duration{time.Second}, slept)
}

func TestEnsureComplete_CanceledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var callErr error
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		func(callCtx context.Context, req Request) (string, error) {
			cancel()
			callErr = callCtx.Err()
			return lines(req.FromSeconds, req.FromSeconds+300, 60), nil
		},
	}}
	o := New(capability, nil, testConfig())

	out, err := o.EnsureComplete(ctx, models.TranscriptSegment{Text: lines(0, 1200, 60)}, hourLong)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, callErr, "in-flight call must not observe cancellation")
	assert.Equal(t, models.StateCanceled, out.State)
	assert.Nil(t, out.Transcript)
	assert.Equal(t, 1, capability.calls())
}

func TestTranscribe_InitialFailureFails(t *testing.T) {
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		fails(errors.New("upstream down")),
	}}
	o := New(capability, nil, testConfig())

	out, err := o.Transcribe(context.Background(), hourLong)
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, models.StateFailed, f.State)
	assert.Equal(t, models.StateFailed, out.State)
	assert.Equal(t, 1, capability.calls())
}

type denyOnce struct {
	quota.Manager
	calls int
}

func (d *denyOnce) Acquire(ctx context.Context) (quota.Grant, error) {
	d.calls++
	if d.calls == 2 {
		return quota.Grant{}, quota.ErrDenied
	}
	return d.Manager.Acquire(ctx)
}

func TestTranscribe_QuotaDenialIsTransient(t *testing.T) {
	var keys []string
	capability := &scripted{replies: []func(context.Context, Request) (string, error){
		text(lines(0, 1200, 60)),
		func(ctx context.Context, req Request) (string, error) {
			g, ok := quota.GrantFromContext(ctx)
			if ok {
				keys = append(keys, g.Key)
			}
			return lines(1200, 3300, 60), nil
		},
	}}
	q := &denyOnce{Manager: quota.NewMemory(quota.Config{Keys: []string{"key-a", "key-b"}})}
	o := New(capability, q, testConfig())

	out, err := o.Transcribe(context.Background(), hourLong)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, out.State)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, models.AttemptAPIError, out.Attempts[0].Result)
	assert.Contains(t, out.Attempts[0].Error, quota.ErrDenied.Error())
	assert.Equal(t, models.AttemptSuccess, out.Attempts[1].Result)
	assert.Equal(t, 2, capability.calls())
	assert.Equal(t, []string{"key-b"}, keys)
}
