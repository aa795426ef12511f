package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted LLMClient for tests. Responses are consumed in
// FIFO order; every request is recorded for assertions. Safe for
// concurrent use.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []CompletionResponse
	errs      []error
	requests  []CompletionRequest
}

// NewMockClient creates a mock with no scripted responses. An unscripted
// call returns a canned text completion.
func NewMockClient() *MockClient {
	return &MockClient{model: "mock-model"}
}

// WithModel sets the model name the mock reports.
func (m *MockClient) WithModel(name string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = name
	return m
}

// QueueResponse appends a scripted response.
func (m *MockClient) QueueResponse(resp CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
	return m
}

// QueueError appends a scripted failure.
func (m *MockClient) QueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CompletionResponse{})
	m.errs = append(m.errs, err)
	return m
}

// QueueText is shorthand for a plain text completion.
func (m *MockClient) QueueText(content string) *MockClient {
	return m.QueueResponse(CompletionResponse{Content: content, StopReason: "end_turn"})
}

// QueueToolCall is shorthand for a completion that invokes one tool.
func (m *MockClient) QueueToolCall(id, name string, params map[string]any) *MockClient {
	return m.QueueResponse(CompletionResponse{
		ToolCalls:  []ToolCall{{ID: id, Name: name, Parameters: params}},
		StopReason: "tool_use",
	})
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, in)
	if len(m.responses) == 0 {
		return CompletionResponse{Content: "mock response", StopReason: "end_turn"}, nil
	}
	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return CompletionResponse{}, err
	}
	return resp, nil
}

// Stream delivers the next scripted response as a single chunk.
func (m *MockClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, in)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Content: resp.Content}
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// GetModelName returns the configured mock model name.
func (m *MockClient) GetModelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Requests returns a copy of every recorded request.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or an error if none were
// made.
func (m *MockClient) LastRequest() (CompletionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return CompletionRequest{}, fmt.Errorf("no requests recorded")
	}
	return m.requests[len(m.requests)-1], nil
}

// MockEmbedder is a deterministic Embedder for tests. Each text embeds to
// a small vector derived from its bytes, so distinct inputs get distinct
// vectors without any model dependency.
type MockEmbedder struct {
	Dim int
}

// NewMockEmbedder creates a MockEmbedder with the given dimensionality.
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{Dim: dim}
}

// Embed produces one deterministic vector per input text.
func (m *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, m.Dim)
		for j, b := range []byte(t) {
			vec[j%m.Dim] += float32(b) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

// GetModelName identifies the mock embedder.
func (m *MockEmbedder) GetModelName() string {
	return "mock-embedder"
}
