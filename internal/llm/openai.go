package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/castscribe/internal/quota"
)

// OpenAIClients hands out one client per API key. The key comes from the quota grant on
// the context when there is one.
type OpenAIClients struct {
	mu         sync.Mutex
	defaultKey string
	baseURL    string
	clients    map[string]*openai.Client
}

func NewOpenAIClients(defaultKey, baseURL string) *OpenAIClients {
	return &OpenAIClients{defaultKey: defaultKey, baseURL: baseURL, clients: make(map[string]*openai.Client)}
}

func (c *OpenAIClients) For(ctx context.Context) *openai.Client {
	key := c.defaultKey
	if g, ok := quota.GrantFromContext(ctx); ok && g.Key != "" {
		key = g.Key
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key]; ok {
		return cl
	}
	cfg := openai.DefaultConfig(key)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	cl := openai.NewClientWithConfig(cfg)
	c.clients[key] = cl
	return cl
}

type OpenAIProvider struct {
	clients *OpenAIClients
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{clients: NewOpenAIClients(apiKey, "")}
}

func NewOpenAIProviderWithClients(clients *OpenAIClients) *OpenAIProvider {
	return &OpenAIProvider{clients: clients}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1"}
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	oReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature > 0 {
		oReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		oReq.Stop = req.Stop
	}

	resp, err := p.clients.For(ctx).CreateChatCompletion(ctx, oReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	content := ""
	truncated := false
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		truncated = resp.Choices[0].FinishReason == openai.FinishReasonLength
	}

	return &ChatResponse{
		ID:           resp.ID,
		Provider:     "openai",
		Model:        resp.Model,
		Content:      content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      CalculateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
		Truncated:    truncated,
	}, nil
}
