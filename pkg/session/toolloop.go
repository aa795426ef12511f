package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kubepilot/pkg/contextmgr"
	"kubepilot/pkg/gateway"
	"kubepilot/pkg/llm"
)

// runToolLoop drives the bounded model/tool-call loop for one phase:
// invoke the model, dispatch any requested tool calls through the
// gateway under the session's allowed risk classes, fold the results
// back, and repeat until the model answers in plain text or the
// iteration budget runs out. Tool calls within one model turn run
// sequentially; every attempt is appended to the session's audit trail,
// failures included.
func (e *Engine) runToolLoop(ctx context.Context, s *Session, cm *contextmgr.Manager, allowed []gateway.RiskClass) (string, error) {
	defs := e.gateway.Definitions(allowed...)

	for iteration := 0; iteration < e.maxToolIters; iteration++ {
		cm.CompactIfNeeded()

		req := llm.NewCompletionRequest(cm.Messages())
		req.Tools = defs
		req.MaxTokens = cm.MaxReplyTokens()

		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("model call failed: %w", err)
		}
		s.Context.Usage.PromptTokens += resp.Usage.PromptTokens
		s.Context.Usage.CompletionTokens += resp.Usage.CompletionTokens

		cm.AddAssistant(resp.Content, resp.ToolCalls...)
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, e.dispatchToolCall(ctx, s, call, allowed))
		}
		cm.AddToolResults(results...)
	}

	return "", fmt.Errorf("tool loop did not converge within %d iterations", e.maxToolIters)
}

// dispatchToolCall runs one requested tool through the gateway and
// shapes the outcome for the model. Denied and failed invocations come
// back as error results so the model can adjust; the gateway has
// already enforced the permission boundary either way.
func (e *Engine) dispatchToolCall(ctx context.Context, s *Session, call llm.ToolCall, allowed []gateway.RiskClass) llm.ToolResult {
	rec, err := e.gateway.Invoke(ctx, gateway.InvokeRequest{
		Tool:    call.Name,
		Args:    call.Parameters,
		Allowed: allowed,
	})
	if rec != nil {
		s.Context.Invocations = append(s.Context.Invocations, *rec)
	}
	e.recordInvocationMetric(call.Name, err)

	if err != nil {
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	content, marshalErr := json.Marshal(rec.Output)
	if marshalErr != nil {
		return llm.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("unserializable tool output: %v", marshalErr), IsError: true}
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: string(content)}
}

func (e *Engine) recordInvocationMetric(tool string, err error) {
	if e.metrics == nil {
		return
	}
	risk := "unknown"
	if desc, ok := e.gateway.Lookup(tool); ok {
		risk = string(desc.Risk)
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrPermission):
		outcome = "denied"
	case errors.Is(err, gateway.ErrTimeout):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	e.metrics.RecordToolInvocation(tool, risk, outcome)
}

// extractJSON pulls the JSON object out of a model reply, tolerating
// fenced code blocks and surrounding prose.
func extractJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}

// decodeReply parses a model reply that was asked to answer in JSON.
func decodeReply(content string, dest any) error {
	raw := extractJSON(content)
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("model reply is not the requested JSON shape: %w", err)
	}
	return nil
}
