package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/castscribe/internal/continuation"
	"github.com/nikhilbhutani/castscribe/internal/llm"
)

const systemPrompt = `You are a meticulous transcriptionist for podcast and radio recordings.
Transcribe speech verbatim. Never summarize, never skip ahead, never invent speech.
Every line must start with a timestamp in the form [HH:MM:SS].`

// Chat requests transcripts from a chat model reachable through the gateway. The model
// must be able to read the audio referenced in the prompt.
type Chat struct {
	gateway   llm.Gateway
	provider  string
	model     string
	maxTokens int
	logger    *slog.Logger
}

func NewChat(gateway llm.Gateway, provider, model string, maxTokens int) *Chat {
	return &Chat{gateway: gateway, provider: provider, model: model, maxTokens: maxTokens, logger: slog.Default()}
}

func (c *Chat) Request(ctx context.Context, req continuation.Request) (string, error) {
	resp, err := c.gateway.Chat(ctx, llm.ChatRequest{
		Provider: c.provider,
		Model:    c.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Audio: %s\n\n%s", req.AudioRef, req.Prompt)},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("chat transcription",
		"episode_id", req.Metadata.EpisodeID,
		"attempt", req.Attempt,
		"provider", resp.Provider,
		"model", resp.Model,
		"output_tokens", resp.OutputTokens,
		"truncated", resp.Truncated,
		"cost_usd", resp.CostUSD,
	)
	return resp.Content, nil
}
