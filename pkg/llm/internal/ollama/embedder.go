package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"

	"kubepilot/pkg/llm"
)

// Embedder produces embeddings through a local Ollama server using models
// like nomic-embed-text or mxbai-embed-large.
type Embedder struct {
	client *api.Client
	model  string
}

// NewEmbedder creates an embedding client against an Ollama server.
func NewEmbedder(hostURL, model string) llm.Embedder {
	return &Embedder{
		client: newAPIClient(hostURL),
		model:  model,
	}
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// GetModelName returns the embedding model name.
func (e *Embedder) GetModelName() string {
	return e.model
}
