// Package engine runs one episode end to end: transcription, continuation, caption
// conversion, storage and reporting.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/castscribe/internal/cache"
	"github.com/nikhilbhutani/castscribe/internal/caption"
	"github.com/nikhilbhutani/castscribe/internal/continuation"
	"github.com/nikhilbhutani/castscribe/internal/events"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/report"
	"github.com/nikhilbhutani/castscribe/internal/storage"
)

var ErrInvalidJob = errors.New("invalid job")

type Job struct {
	RunID    uuid.UUID                `json:"run_id"`
	Metadata models.RecordingMetadata `json:"metadata"`
}

// Transcriber is satisfied by *continuation.Orchestrator.
type Transcriber interface {
	Transcribe(ctx context.Context, meta models.RecordingMetadata) (*continuation.Outcome, error)
}

type Prober interface {
	Probe(ctx context.Context, src string) (float64, error)
}

type Deps struct {
	Transcriber Transcriber
	Converter   *caption.Converter
	Storage     storage.Storage
	Locker      cache.Locker
	Sink        report.Sink
	Prober      Prober
	Events      events.Collector
	Logger      *slog.Logger
}

type Config struct {
	LockTTL time.Duration
	// LocalAudio downloads the audio to WorkDir before transcribing. Needed by
	// capabilities that upload the file themselves.
	LocalAudio bool
	WorkDir    string
}

type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func New(deps Deps, cfg Config) *Engine {
	if deps.Converter == nil {
		deps.Converter = caption.NewConverter(caption.Config{})
	}
	if deps.Locker == nil {
		deps.Locker = cache.NewMemoryLocker()
	}
	if deps.Sink == nil {
		deps.Sink = report.LogSink{Logger: deps.Logger}
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Engine{deps: deps, cfg: cfg, now: time.Now}
}

// Process transcribes one episode. A report is returned for every run that got past
// the lock, including failed ones.
func (e *Engine) Process(ctx context.Context, job Job) (*report.Report, error) {
	meta := job.Metadata
	if meta.EpisodeID == "" || meta.AudioRef == "" {
		return nil, fmt.Errorf("%w: episode_id and audio_ref are required", ErrInvalidJob)
	}
	if job.RunID == uuid.Nil {
		job.RunID = uuid.New()
	}
	logger := e.deps.Logger.With("run_id", job.RunID, "show_id", meta.ShowID, "episode_id", meta.EpisodeID)

	release, err := e.deps.Locker.Lock(ctx, "episode:"+meta.ShowID+"/"+meta.EpisodeID, e.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	rep := &report.Report{
		ID:           job.RunID,
		ShowID:       meta.ShowID,
		EpisodeID:    meta.EpisodeID,
		State:        models.StateInitial,
		TotalSeconds: meta.DurationSeconds,
		StartedAt:    e.now().UTC(),
	}
	logger.Info("transcription run started", "audio_ref", meta.AudioRef)

	err = e.run(ctx, &meta, rep, logger)
	rep.FinishedAt = e.now().UTC()
	if serr := e.deps.Sink.Record(context.WithoutCancel(ctx), *rep); serr != nil {
		logger.Warn("record run report failed", "error", serr)
	}
	return rep, err
}

func (e *Engine) run(ctx context.Context, meta *models.RecordingMetadata, rep *report.Report, logger *slog.Logger) error {
	if e.cfg.LocalAudio {
		local, temp, err := storage.Fetch(ctx, e.deps.Storage, meta.AudioRef, e.cfg.WorkDir)
		if err != nil {
			return e.fail(rep, fmt.Errorf("fetch audio: %w", err))
		}
		if temp {
			defer os.Remove(local)
		}
		meta.AudioRef = local
	}

	if meta.DurationSeconds <= 0 && e.deps.Prober != nil {
		d, err := e.deps.Prober.Probe(ctx, meta.AudioRef)
		if err != nil {
			return e.fail(rep, err)
		}
		meta.DurationSeconds = d
		rep.TotalSeconds = d
	}
	if meta.DurationSeconds <= 0 {
		return e.fail(rep, fmt.Errorf("%w: recording duration unknown", ErrInvalidJob))
	}

	out, err := e.deps.Transcriber.Transcribe(ctx, *meta)
	if out != nil {
		rep.State = out.State
		rep.Attempts = len(out.Attempts)
		rep.Calls = out.Calls
		rep.AttemptLog = out.Attempts
		rep.CoverageRatio = out.Coverage.Ratio
		rep.CoveredSeconds = out.Coverage.CoveredSeconds
	}
	if err != nil {
		var f *continuation.Failure
		if errors.As(err, &f) {
			rep.State, rep.Reason = f.State, f.Reason
			return err
		}
		return e.fail(rep, err)
	}
	rep.SeamAnomalies = len(out.Transcript.Anomalies)

	done := events.Track(ctx, e.deps.Events, events.ComponentCaption, "convert")
	track := e.deps.Converter.Convert(out.Transcript.Text, *meta)
	done(nil, map[string]any{"cues": len(track.Cues), "notes": len(track.Notes)})
	rep.CueCount = len(track.Cues)

	var buf bytes.Buffer
	if err := track.WriteVTT(&buf); err != nil {
		return e.fail(rep, err)
	}

	key := storage.CaptionKey(meta.ShowID, meta.EpisodeID)
	done = events.Track(ctx, e.deps.Events, events.ComponentStorage, "upload")
	err = e.deps.Storage.Upload(context.WithoutCancel(ctx), key, &buf, "text/vtt")
	done(err, map[string]any{"key": key})
	if err != nil {
		return e.fail(rep, fmt.Errorf("store captions: %w", err))
	}
	rep.CaptionKey = key

	logger.Info("captions stored", "key", key, "cues", rep.CueCount, "coverage", rep.CoverageRatio)
	return nil
}

func (e *Engine) fail(rep *report.Report, err error) error {
	rep.State = models.StateFailed
	rep.Reason = err.Error()
	return err
}

// Retryable reports whether a failed Process call is worth running again later.
// Exhausted and failed transcripts, and invalid jobs, are final. A transient failure of
// the initial call is not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidJob) {
		return false
	}
	var f *continuation.Failure
	if errors.As(err, &f) {
		switch f.State {
		case models.StateCanceled:
			return true
		case models.StateFailed:
			return len(f.Attempts) == 0 && errors.Is(f.Err, continuation.ErrTransientCall)
		}
		return false
	}
	return true
}
