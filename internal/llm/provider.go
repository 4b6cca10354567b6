package llm

import (
	"context"
)

// Provider abstracts a chat model provider (OpenAI, Anthropic, Ollama).
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
}

// Gateway routes chat requests to a provider with retry and fallback.
type Gateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider(name string) (Provider, error)
	ListModels() []ModelInfo
}

type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

type ChatRequest struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type ChatResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
	// Truncated is set when the provider stopped at the output token limit.
	Truncated bool `json:"truncated"`
}

type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
