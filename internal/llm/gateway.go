package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/castscribe/internal/config"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	fallbackProvider string
	maxRetries       int
	backoffBase      time.Duration
}

// NewGateway registers every provider that has credentials in cfg.
func NewGateway(cfg config.LLMConfig) Gateway {
	var ps []Provider
	if cfg.OpenAIKey != "" {
		ps = append(ps, NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		ps = append(ps, NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		ps = append(ps, NewOllamaProvider(cfg.OllamaURL))
	}
	return NewGatewayWith(cfg.DefaultProvider, cfg.FallbackProvider, cfg.MaxRetries, ps...)
}

func NewGatewayWith(defaultProvider, fallbackProvider string, maxRetries int, providers ...Provider) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider, len(providers)),
		defaultProvider:  defaultProvider,
		fallbackProvider: fallbackProvider,
		maxRetries:       maxRetries,
		backoffBase:      500 * time.Millisecond,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * g.backoffBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	return models
}
