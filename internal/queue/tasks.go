package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/castscribe/internal/models"
)

const TypeTranscriptComplete = "transcript:complete"

type TranscriptCompletePayload struct {
	RunID    string                   `json:"run_id"`
	Metadata models.RecordingMetadata `json:"metadata"`
}

func NewTranscriptCompleteTask(p TranscriptCompletePayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeTranscriptComplete, data), nil
}
