package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/castscribe/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(RedisOpt(cfg)),
	}
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueTranscriptComplete schedules a run. The run id doubles as the task id, so the
// same run is never queued twice.
func (c *Client) EnqueueTranscriptComplete(ctx context.Context, p TranscriptCompletePayload) error {
	task, err := NewTranscriptCompleteTask(p)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(p.RunID),
		asynq.MaxRetry(3),
		asynq.Timeout(3*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeTranscriptComplete, err)
	}
	return nil
}
