package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionRequestValidate(t *testing.T) {
	valid := NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")})
	require.NoError(t, valid.Validate())

	empty := CompletionRequest{MaxTokens: 100, Temperature: 0.3}
	assert.Error(t, empty.Validate())

	noTokens := CompletionRequest{
		Messages: []CompletionMessage{NewUserMessage("hi")},
	}
	assert.Error(t, noTokens.Validate())

	hotTemp := NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")})
	hotTemp.Temperature = 3.0
	assert.Error(t, hotTemp.Validate())
}

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("rules")
	assert.Equal(t, RoleSystem, sys.Role)

	user := NewUserMessage("question")
	assert.Equal(t, RoleUser, user.Role)

	call := ToolCall{ID: "tc-1", Name: "kubectl_get", Parameters: map[string]any{"resource": "pods"}}
	asst := NewAssistantMessage("looking", call)
	assert.Equal(t, RoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "kubectl_get", asst.ToolCalls[0].Name)

	result := NewToolResultMessage(ToolResult{ToolCallID: "tc-1", Content: "3 pods"})
	assert.Equal(t, RoleUser, result.Role)
	require.Len(t, result.ToolResults, 1)
	assert.Equal(t, "tc-1", result.ToolResults[0].ToolCallID)
}

// recordingClient tags responses so chain ordering is observable.
type recordingClient struct {
	tag string
}

func (r *recordingClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: r.tag}, nil
}

func (r *recordingClient) Stream(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (r *recordingClient) GetModelName() string { return "recording" }

func tagging(tag string) Middleware {
	return func(next LLMClient) LLMClient {
		return &taggingClient{next: next, tag: tag}
	}
}

type taggingClient struct {
	next LLMClient
	tag  string
}

func (t *taggingClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	resp, err := t.next.Complete(ctx, in)
	resp.Content = t.tag + ">" + resp.Content
	return resp, err
}

func (t *taggingClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return t.next.Stream(ctx, in)
}

func (t *taggingClient) GetModelName() string { return t.next.GetModelName() }

func TestChainOrdering(t *testing.T) {
	client := Chain(&recordingClient{tag: "base"}, tagging("outer"), tagging("inner"))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	require.NoError(t, err)

	// First middleware in the list wraps outermost, so its tag lands last.
	assert.Equal(t, "outer>inner>base", resp.Content)
}

func TestChainEmpty(t *testing.T) {
	base := &recordingClient{tag: "base"}
	assert.Equal(t, LLMClient(base), Chain(base))
}

func TestMockClientScripting(t *testing.T) {
	mock := NewMockClient().
		QueueText("first").
		QueueToolCall("tc-1", "kubectl_get", map[string]any{"resource": "pods"})

	ctx := context.Background()

	resp, err := mock.Complete(ctx, NewCompletionRequest([]CompletionMessage{NewUserMessage("a")}))
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(ctx, NewCompletionRequest([]CompletionMessage{NewUserMessage("b")}))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tool_use", resp.StopReason)

	// Exhausted scripts return the canned fallback.
	resp, err = mock.Complete(ctx, NewCompletionRequest([]CompletionMessage{NewUserMessage("c")}))
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)

	assert.Len(t, mock.Requests(), 3)
	last, err := mock.LastRequest()
	require.NoError(t, err)
	assert.Equal(t, "c", last.Messages[0].Content)
}

func TestMockEmbedderDeterministic(t *testing.T) {
	emb := NewMockEmbedder(8)

	a, err := emb.Embed(context.Background(), []string{"deployment nginx", "service nginx"})
	require.NoError(t, err)
	b, err := emb.Embed(context.Background(), []string{"deployment nginx", "service nginx"})
	require.NoError(t, err)

	require.Len(t, a, 2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
}
