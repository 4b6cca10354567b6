// Package continuation drives a transcription run to completion: it evaluates coverage,
// asks the transcription capability to continue from where the previous response
// stopped, and gives up explicitly when limits are reached.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/castscribe/internal/coverage"
	"github.com/nikhilbhutani/castscribe/internal/events"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/prompt"
	"github.com/nikhilbhutani/castscribe/internal/quota"
	"github.com/nikhilbhutani/castscribe/internal/stitch"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
	"github.com/nikhilbhutani/castscribe/pkg/tokenizer"
)

// Capability is the external transcription service. Attempt 0 is the initial pass.
type Capability interface {
	Request(ctx context.Context, req Request) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (string, error)

func (f CapabilityFunc) Request(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Request struct {
	AudioRef        string
	Metadata        models.RecordingMetadata
	Attempt         int
	FromSeconds     float64
	FromToken       string
	TrailingExcerpt string
	Prompt          string
}

// Config bounds the continuation loop. Zero or negative fields take their
// DefaultConfig value.
type Config struct {
	MinCoverageRatio float64
	// MaxContinuationAttempts counts calls after the initial one.
	MaxContinuationAttempts int
	MaxConsecutiveFailures  int
	MaxConsecutiveMalformed int
	CallTimeout             time.Duration
	BackoffBase             time.Duration
	OverlapTolerance        float64
	ExcerptLines            int
	ExcerptChars            int
	ExcerptTokens           int
}

func DefaultConfig() Config {
	return Config{
		MinCoverageRatio:        coverage.DefaultMinRatio,
		MaxContinuationAttempts: 10,
		MaxConsecutiveFailures:  3,
		MaxConsecutiveMalformed: 2,
		CallTimeout:             10 * time.Minute,
		BackoffBase:             500 * time.Millisecond,
		OverlapTolerance:        stitch.DefaultOverlapTolerance,
		ExcerptLines:            8,
		ExcerptChars:            2000,
		ExcerptTokens:           400,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinCoverageRatio <= 0 || c.MinCoverageRatio > 1 {
		c.MinCoverageRatio = d.MinCoverageRatio
	}
	if c.MaxContinuationAttempts <= 0 {
		c.MaxContinuationAttempts = d.MaxContinuationAttempts
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.MaxConsecutiveMalformed <= 0 {
		c.MaxConsecutiveMalformed = d.MaxConsecutiveMalformed
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.OverlapTolerance <= 0 {
		c.OverlapTolerance = d.OverlapTolerance
	}
	if c.ExcerptLines <= 0 {
		c.ExcerptLines = d.ExcerptLines
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = d.ExcerptChars
	}
	if c.ExcerptTokens <= 0 {
		c.ExcerptTokens = d.ExcerptTokens
	}
	return c
}

// Outcome describes a finished run. Transcript is set only in the COMPLETE state.
type Outcome struct {
	State        models.RunState
	Transcript   *stitch.Transcript
	Coverage     models.CoverageResult
	Attempts     []models.ContinuationAttempt
	SegmentCount int
	Calls        int
	Transitions  []models.RunState
}

type Orchestrator struct {
	cfg          Config
	capability   Capability
	quota        quota.Manager
	analyzer     coverage.Analyzer
	events       events.Collector
	logger       *slog.Logger
	initial      prompt.Template
	continuation prompt.Template
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithEvents(c events.Collector) Option {
	return func(o *Orchestrator) { o.events = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPrompts overrides the initial and continuation prompt templates.
func WithPrompts(initial, continuation string) Option {
	return func(o *Orchestrator) {
		o.initial = prompt.Parse(initial)
		o.continuation = prompt.Parse(continuation)
	}
}

func New(capability Capability, q quota.Manager, cfg Config, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	if q == nil {
		q = quota.Unlimited{}
	}
	o := &Orchestrator{
		cfg:          cfg,
		capability:   capability,
		quota:        q,
		analyzer:     coverage.NewAnalyzer(cfg.MinCoverageRatio),
		events:       events.Discard,
		logger:       slog.Default(),
		initial:      prompt.Parse(prompt.Initial),
		continuation: prompt.Parse(prompt.Continuation),
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcribe performs the initial call and then EnsureComplete. It makes at most
// MaxContinuationAttempts+1 capability calls.
func (o *Orchestrator) Transcribe(ctx context.Context, meta models.RecordingMetadata) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		out := &Outcome{State: models.StateCanceled, Transitions: []models.RunState{models.StateInitial, models.StateCanceled}}
		return out, &Failure{State: models.StateCanceled, Reason: "canceled before the initial call", Err: err}
	}

	vars := o.promptVars(meta, 0, "")
	text, err := o.renderAndCall(ctx, o.initial, vars, Request{AudioRef: meta.AudioRef, Metadata: meta})
	if err == nil {
		err = validate(text)
	}
	if err != nil {
		f := &Failure{
			State:    models.StateFailed,
			Reason:   fmt.Sprintf("initial transcription failed: %v", err),
			Coverage: models.CoverageResult{TotalSeconds: meta.DurationSeconds},
			Err:      err,
		}
		o.logger.Warn("initial transcription failed", "episode_id", meta.EpisodeID, "error", err)
		return &Outcome{State: models.StateFailed, Calls: 1, Transitions: []models.RunState{models.StateInitial, models.StateFailed}}, f
	}

	initial := models.TranscriptSegment{Index: 0, Text: text, ProducedAt: o.now()}
	out, err := o.EnsureComplete(ctx, initial, meta)
	if out != nil {
		out.Calls++
	}
	return out, err
}

// EnsureComplete requests continuations until coverage reaches the threshold or a limit
// ends the run. Every state other than COMPLETE comes back as a *Failure.
func (o *Orchestrator) EnsureComplete(ctx context.Context, initial models.TranscriptSegment, meta models.RecordingMetadata) (*Outcome, error) {
	r := &run{
		o:        o,
		meta:     meta,
		out:      &Outcome{State: models.StateInitial, Transitions: []models.RunState{models.StateInitial}},
		builder:  stitch.NewBuilder(o.cfg.OverlapTolerance),
		lastText: initial.Text,
		logger:   o.logger.With("show_id", meta.ShowID, "episode_id", meta.EpisodeID),
	}
	r.builder.Append(initial)
	r.out.SegmentCount = 1
	return r.loop(ctx)
}

type run struct {
	o        *Orchestrator
	meta     models.RecordingMetadata
	out      *Outcome
	builder  *stitch.Builder
	lastText string
	logger   *slog.Logger

	consecutiveFailures  int
	consecutiveMalformed int
}

func (r *run) loop(ctx context.Context) (*Outcome, error) {
	o := r.o
	r.to(models.StateEvaluating)
	cov := r.analyze(ctx, r.builder.Text())

	for {
		if o.analyzer.IsComplete(cov) {
			r.to(models.StateComplete)
			t := r.builder.Transcript()
			r.out.Transcript = &t
			r.logger.Info("transcript complete",
				"coverage", cov.Ratio, "attempts", len(r.out.Attempts), "seam_anomalies", len(t.Anomalies))
			return r.out, nil
		}

		attempts := len(r.out.Attempts)
		if attempts >= o.cfg.MaxContinuationAttempts {
			return r.fail(models.StateExhausted, ErrExhaustedAttempts,
				fmt.Sprintf("coverage %d%% after %d attempts", cov.Percent(), attempts))
		}

		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		if r.consecutiveFailures > 0 && o.cfg.BackoffBase > 0 {
			backoff := time.Duration(r.consecutiveFailures*r.consecutiveFailures) * o.cfg.BackoffBase
			if err := o.sleep(ctx, backoff); err != nil {
				return r.cancel(err)
			}
		}

		r.to(models.StateRequestingContinuation)
		next, err := r.attempt(ctx, attempts+1, cov)
		r.to(models.StateEvaluating)

		switch {
		case err == nil:
			cov = next
			r.consecutiveFailures, r.consecutiveMalformed = 0, 0
		case errors.Is(err, ErrCoverageRegression):
			return r.fail(models.StateFailed, err, err.Error())
		default:
			r.consecutiveFailures++
			if errors.Is(err, ErrMalformedResponse) {
				r.consecutiveMalformed++
			} else {
				r.consecutiveMalformed = 0
			}
			if r.consecutiveMalformed >= o.cfg.MaxConsecutiveMalformed {
				return r.fail(models.StateFailed, ErrMalformedResponse,
					fmt.Sprintf("%d malformed responses in a row at coverage %d%%", r.consecutiveMalformed, cov.Percent()))
			}
			if r.consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
				return r.fail(models.StateFailed, ErrConsecutiveFailures,
					fmt.Sprintf("%d consecutive failed calls at coverage %d%%: %v", r.consecutiveFailures, cov.Percent(), err))
			}
		}
	}
}

// attempt performs one continuation request and, on success, commits the new segment.
func (r *run) attempt(ctx context.Context, n int, cov models.CoverageResult) (models.CoverageResult, error) {
	o := r.o
	rec := models.ContinuationAttempt{AttemptNumber: n, RequestedFromSeconds: cov.CoveredSeconds, StartedAt: o.now()}
	defer func() {
		rec.Duration = o.now().Sub(rec.StartedAt)
		r.out.Attempts = append(r.out.Attempts, rec)
		r.logger.Info("continuation attempt",
			"attempt", n, "from", timestamp.Format(rec.RequestedFromSeconds), "result", rec.Result, "error", rec.Error)
	}()

	fromToken := ""
	if cov.LastTimestampToken != nil {
		fromToken = *cov.LastTimestampToken
	}
	excerpt := r.excerpt()
	req := Request{
		AudioRef:        r.meta.AudioRef,
		Metadata:        r.meta,
		Attempt:         n,
		FromSeconds:     cov.CoveredSeconds,
		FromToken:       fromToken,
		TrailingExcerpt: excerpt,
	}

	text, err := o.renderAndCall(ctx, o.continuation, o.promptVars(r.meta, cov.CoveredSeconds, excerpt), req)
	r.out.Calls++
	if err == nil {
		err = validate(text)
	}
	if err != nil {
		rec.Result, rec.Error = classify(err), err.Error()
		return cov, err
	}

	seg := models.TranscriptSegment{Index: r.out.SegmentCount, Text: text, ProducedAt: o.now()}
	trial := r.builder.Clone()
	done := events.Track(ctx, o.events, events.ComponentStitch, "append")
	kept, anomaly := trial.Append(seg)
	attrs := map[string]any{"segment": seg.Index, "kept_lines": kept}
	if anomaly != nil {
		attrs["seam_anomaly"] = anomaly.Reason
		r.logger.Warn("seam anomaly", "boundary", anomaly.Boundary, "reason", anomaly.Reason,
			"prev_end", anomaly.PrevEnd, "next_start", anomaly.NextStart)
	}
	done(nil, attrs)

	next := r.analyze(ctx, trial.Text())
	switch {
	case next.Ratio < cov.Ratio:
		err = fmt.Errorf("%w: coverage fell from %d%% to %d%% on attempt %d", ErrCoverageRegression, cov.Percent(), next.Percent(), n)
	case kept == 0 || next.CoveredSeconds <= cov.CoveredSeconds:
		err = Malformed("no new content after %s", timestamp.Format(cov.CoveredSeconds))
	}
	if err != nil {
		rec.Result, rec.Error = classify(err), err.Error()
		return cov, err
	}

	r.builder = trial
	r.lastText = text
	r.out.SegmentCount++
	rec.Result = models.AttemptSuccess
	rec.Coverage = &next
	return next, nil
}

func (r *run) analyze(ctx context.Context, text string) models.CoverageResult {
	done := events.Track(ctx, r.o.events, events.ComponentCoverage, "analyze")
	cov := r.o.analyzer.Analyze(text, r.meta.DurationSeconds)
	done(nil, map[string]any{"ratio": cov.Ratio})
	r.out.Coverage = cov
	return cov
}

func (r *run) to(s models.RunState) {
	r.out.State = s
	r.out.Transitions = append(r.out.Transitions, s)
}

func (r *run) fail(state models.RunState, err error, reason string) (*Outcome, error) {
	r.to(state)
	r.logger.Warn("transcript not completed", "state", state, "reason", reason)
	return r.out, &Failure{State: state, Reason: reason, Coverage: r.out.Coverage, Attempts: r.out.Attempts, Err: err}
}

// cancel discards everything collected so far.
func (r *run) cancel(err error) (*Outcome, error) {
	r.to(models.StateCanceled)
	r.out.Transcript = nil
	return r.out, &Failure{
		State:    models.StateCanceled,
		Reason:   fmt.Sprintf("canceled after %d attempts", len(r.out.Attempts)),
		Coverage: r.out.Coverage,
		Attempts: r.out.Attempts,
		Err:      err,
	}
}

// excerpt returns the trailing lines of the previous segment.
func (r *run) excerpt() string {
	lines := strings.Split(strings.TrimRight(r.lastText, "\n"), "\n")
	if len(lines) > r.o.cfg.ExcerptLines {
		lines = lines[len(lines)-r.o.cfg.ExcerptLines:]
	}
	out := tokenizer.TailLines(strings.Join(lines, "\n"), r.o.cfg.ExcerptTokens)
	if len(out) > r.o.cfg.ExcerptChars {
		out = out[len(out)-r.o.cfg.ExcerptChars:]
		if i := strings.IndexByte(out, '\n'); i >= 0 && i < len(out)-1 {
			out = out[i+1:]
		}
	}
	return out
}

// renderAndCall consults the quota manager and invokes the capability. The call is
// detached from ctx cancellation so a run is only ever aborted between calls; its
// lifetime is bounded by CallTimeout instead.
func (o *Orchestrator) renderAndCall(ctx context.Context, tpl prompt.Template, vars map[string]string, req Request) (string, error) {
	p, err := tpl.Render(vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	req.Prompt = p

	doneQuota := events.Track(ctx, o.events, events.ComponentQuota, "acquire")
	grant, err := o.quota.Acquire(ctx)
	doneQuota(err, nil)
	if err != nil {
		return "", Transient(err)
	}
	defer func() {
		if err := o.quota.Release(context.WithoutCancel(ctx), grant); err != nil {
			o.logger.Warn("quota release failed", "key_id", grant.KeyID, "error", err)
		}
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	callCtx = quota.WithGrant(callCtx, grant)

	done := events.Track(ctx, o.events, events.ComponentContinuation, "request")
	text, err := o.capability.Request(callCtx, req)
	done(err, map[string]any{"attempt": req.Attempt, "key_id": grant.KeyID})
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			return "", err
		}
		return "", Transient(err)
	}
	return text, nil
}

func (o *Orchestrator) promptVars(meta models.RecordingMetadata, from float64, excerpt string) map[string]string {
	speakers := "unknown"
	if len(meta.SpeakerHints) > 0 {
		speakers = strings.Join(meta.SpeakerHints, ", ")
	}
	show := meta.ShowID
	if show == "" {
		show = "an unknown show"
	}
	if excerpt == "" {
		excerpt = "(none)"
	}
	return map[string]string{
		"title":    meta.Title,
		"show":     show,
		"duration": timestamp.Format(meta.DurationSeconds),
		"speakers": speakers,
		"from":     timestamp.Format(from),
		"excerpt":  excerpt,
	}
}

// validate rejects responses that cannot contribute to coverage.
func validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return Malformed("empty response")
	}
	if _, ok := timestamp.ExtractLast(text); !ok {
		return Malformed("response contains no timestamps")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
