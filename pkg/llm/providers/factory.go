// Package providers constructs concrete LLM clients and embedders from
// configuration. Raw provider clients are wrapped in the standard
// resilience chain; callers can stack additional middleware on top.
package providers

import (
	"fmt"
	"strings"

	"kubepilot/pkg/config"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/llm/internal/anthropic"
	"kubepilot/pkg/llm/internal/google"
	"kubepilot/pkg/llm/internal/ollama"
	"kubepilot/pkg/llm/internal/openai"
	"kubepilot/pkg/llm/middleware"
)

// NewChatClient builds the configured chat client wrapped in retry and
// timeout middleware. Extra middleware, such as usage accounting, is
// applied outside the standard chain.
func NewChatClient(cfg *config.Config, extra ...llm.Middleware) (llm.LLMClient, error) {
	raw, err := NewRawClient(cfg.Models.ChatModel, cfg.Models.OllamaHost)
	if err != nil {
		return nil, err
	}
	mws := make([]llm.Middleware, 0, len(extra)+2)
	mws = append(mws, extra...)
	mws = append(mws,
		middleware.Retry(cfg.Retry.MaxRetries),
		middleware.Timeout(cfg.ModelTimeout()),
	)
	return llm.Chain(raw, mws...), nil
}

// NewRawClient builds an unwrapped client for a model name. The provider
// is inferred from the name; ollamaHost overrides the OLLAMA_HOST
// environment default for local models.
func NewRawClient(model, ollamaHost string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve provider for model %q: %w", model, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		key, err := config.GetAPIKey(provider)
		if err != nil {
			return nil, err
		}
		return anthropic.NewClient(key, model), nil
	case config.ProviderOpenAI:
		key, err := config.GetAPIKey(provider)
		if err != nil {
			return nil, err
		}
		return openai.NewClient(key, model), nil
	case config.ProviderGoogle:
		key, err := config.GetAPIKey(provider)
		if err != nil {
			return nil, err
		}
		return google.NewClient(key, model), nil
	case config.ProviderOllama:
		host, err := resolveOllamaHost(ollamaHost)
		if err != nil {
			return nil, err
		}
		return ollama.NewClient(host, strings.TrimPrefix(model, "ollama:")), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// NewEmbedder builds the configured embedding client. The provider comes
// from embed_provider when set, otherwise it is inferred from the embed
// model name.
func NewEmbedder(cfg *config.Config) (llm.Embedder, error) {
	model := cfg.Models.EmbedModel
	if model == "" {
		return nil, fmt.Errorf("no embed model configured")
	}

	provider := cfg.Models.EmbedProvider
	if provider == "" {
		inferred, err := config.GetModelProvider(model)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve provider for embed model %q: %w", model, err)
		}
		provider = inferred
	}

	switch provider {
	case config.ProviderOllama:
		host, err := resolveOllamaHost(cfg.Models.OllamaHost)
		if err != nil {
			return nil, err
		}
		return ollama.NewEmbedder(host, strings.TrimPrefix(model, "ollama:")), nil
	case config.ProviderOpenAI:
		key, err := config.GetAPIKey(provider)
		if err != nil {
			return nil, err
		}
		return openai.NewEmbedder(key, model), nil
	case config.ProviderGoogle:
		key, err := config.GetAPIKey(provider)
		if err != nil {
			return nil, err
		}
		return google.NewEmbedder(key, model), nil
	case config.ProviderAnthropic:
		return nil, fmt.Errorf("anthropic does not serve an embeddings endpoint; use ollama or openai for embed_model")
	default:
		return nil, fmt.Errorf("unsupported embed provider: %s", provider)
	}
}

func resolveOllamaHost(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return config.GetAPIKey(config.ProviderOllama)
}
