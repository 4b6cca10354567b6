package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/castscribe/internal/engine"
	"github.com/nikhilbhutani/castscribe/internal/queue"
	"github.com/nikhilbhutani/castscribe/internal/report"
)

type Processor interface {
	Process(ctx context.Context, job engine.Job) (*report.Report, error)
}

type TranscriptWorker struct {
	engine Processor
}

func NewTranscriptWorker(e Processor) *TranscriptWorker {
	return &TranscriptWorker{engine: e}
}

func (w *TranscriptWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TranscriptCompletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("parse run ID: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("processing transcript", "run_id", runID, "episode_id", payload.Metadata.EpisodeID)

	_, err = w.engine.Process(ctx, engine.Job{RunID: runID, Metadata: payload.Metadata})
	if err == nil {
		return nil
	}
	if !engine.Retryable(err) {
		slog.Warn("transcript run ended without captions", "run_id", runID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("process transcript: %w", err)
}
