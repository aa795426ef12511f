package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"kubepilot/pkg/llm"
)

// Embedder produces embeddings through the Gemini embedding models.
type Embedder struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// NewEmbedder creates an embedding client for the given model. The SDK
// client is created lazily because construction requires a context.
func NewEmbedder(apiKey, model string) llm.Embedder {
	return &Embedder{apiKey: apiKey, model: model}
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	if e.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  e.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("gemini client creation failed: %w", err)
		}
		e.client = client
	}
	client := e.client
	e.mu.Unlock()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	resp, err := client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// GetModelName returns the embedding model name.
func (e *Embedder) GetModelName() string {
	return e.model
}
