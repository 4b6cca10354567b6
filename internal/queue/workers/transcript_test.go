package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/castscribe/internal/cache"
	"github.com/nikhilbhutani/castscribe/internal/continuation"
	"github.com/nikhilbhutani/castscribe/internal/engine"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/queue"
	"github.com/nikhilbhutani/castscribe/internal/report"
)

type fakeProcessor struct {
	jobs []engine.Job
	err  error
}

func (f *fakeProcessor) Process(_ context.Context, job engine.Job) (*report.Report, error) {
	f.jobs = append(f.jobs, job)
	return &report.Report{ID: job.RunID}, f.err
}

func task(t *testing.T, runID string) *asynq.Task {
	t.Helper()
	tk, err := queue.NewTranscriptCompleteTask(queue.TranscriptCompletePayload{
		RunID:    runID,
		Metadata: models.RecordingMetadata{ShowID: "s", EpisodeID: "e", AudioRef: "a.mp3", DurationSeconds: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, queue.TypeTranscriptComplete, tk.Type())
	return tk
}

func TestTranscriptWorker_Success(t *testing.T) {
	p := &fakeProcessor{}
	id := uuid.New()

	require.NoError(t, NewTranscriptWorker(p).ProcessTask(context.Background(), task(t, id.String())))
	require.Len(t, p.jobs, 1)
	assert.Equal(t, id, p.jobs[0].RunID)
	assert.Equal(t, "e", p.jobs[0].Metadata.EpisodeID)
}

func TestTranscriptWorker_Errors(t *testing.T) {
	tests := []struct {
		name      string
		runID     string
		err       error
		skipRetry bool
	}{
		{"bad run id", "not-a-uuid", nil, true},
		{"exhausted", uuid.NewString(), &continuation.Failure{State: models.StateExhausted, Err: continuation.ErrExhaustedAttempts}, true},
		{"invalid job", uuid.NewString(), engine.ErrInvalidJob, true},
		{"locked", uuid.NewString(), cache.ErrLocked, false},
		{"storage", uuid.NewString(), errors.New("bucket unavailable"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTranscriptWorker(&fakeProcessor{err: tt.err}).ProcessTask(context.Background(), task(t, tt.runID))
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestTranscriptWorker_BadPayload(t *testing.T) {
	err := NewTranscriptWorker(&fakeProcessor{}).ProcessTask(context.Background(), asynq.NewTask(queue.TypeTranscriptComplete, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
