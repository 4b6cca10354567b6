package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/castscribe/internal/models"
)

func TestRegistryRoutesByType(t *testing.T) {
	r := NewHandlersRegistry()
	var got []string
	r.Register(TypeTranscriptComplete, asynq.HandlerFunc(func(_ context.Context, task *asynq.Task) error {
		got = append(got, string(task.Payload()))
		return nil
	}))
	boom := errors.New("boom")
	r.Register("transcript:broken", asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return boom
	}))

	task, err := NewTranscriptCompleteTask(TranscriptCompletePayload{
		RunID:    "8d3c6a8e-7f0e-4d39-a1c2-0f9b8e7d6c5b",
		Metadata: models.RecordingMetadata{EpisodeID: "ep1", AudioRef: "a.mp3"},
	})
	require.NoError(t, err)

	require.NoError(t, r.Mux().ProcessTask(context.Background(), task))
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `"run_id":"8d3c6a8e-7f0e-4d39-a1c2-0f9b8e7d6c5b"`)
	assert.Contains(t, got[0], `"episode_id":"ep1"`)

	err = r.Mux().ProcessTask(context.Background(), asynq.NewTask("transcript:broken", nil))
	assert.ErrorIs(t, err, boom)

	err = r.Mux().ProcessTask(context.Background(), asynq.NewTask("unknown", nil))
	assert.Error(t, err)
}
