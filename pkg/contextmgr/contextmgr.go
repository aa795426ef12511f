// Package contextmgr maintains per-session conversation context: message
// accumulation, token counting, and compaction when the window approaches
// the model's context limit.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"kubepilot/pkg/config"
	"kubepilot/pkg/llm"
)

// TokenCounter counts tokens with a tiktoken codec. Claude and Gemini
// tokenize differently from GPT models, but GPT-4 encoding is a close
// enough proxy for windowing decisions across all of them.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter for a model. Unknown models fall back
// to GPT-4 encoding.
func NewTokenCounter(_ string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the token count for text, estimating by characters when
// no codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Truncate trims text to roughly fit a token limit. Truncation is by
// characters, so boundaries are approximate; a safety margin keeps the
// result under the limit.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	current := tc.Count(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}

// compactionBuffer reserves headroom beyond the reply budget before
// compaction triggers.
const compactionBuffer = 2048

// Manager accumulates a session's conversation and compacts it to fit
// the model window. Not safe for concurrent use; the session engine
// serializes access per session.
type Manager struct {
	counter          *TokenCounter
	messages         []llm.CompletionMessage
	maxContextTokens int
	maxReplyTokens   int
}

// NewManager creates a context manager sized for the given model, looking
// up context and reply limits from the model registry.
func NewManager(model string) *Manager {
	info, _ := config.GetModelInfo(model)
	maxContext := info.MaxContextTokens
	if maxContext == 0 {
		maxContext = 32000
	}
	maxReply := info.MaxOutputTokens
	if maxReply == 0 {
		maxReply = 4096
	}

	counter, err := NewTokenCounter(model)
	if err != nil {
		counter = nil // Count falls back to character estimation
	}

	return &Manager{
		counter:          counter,
		maxContextTokens: maxContext,
		maxReplyTokens:   maxReply,
	}
}

// Add appends a message to the context.
func (m *Manager) Add(msg llm.CompletionMessage) {
	m.messages = append(m.messages, msg)
}

// AddUser appends a user message.
func (m *Manager) AddUser(content string) {
	m.Add(llm.NewUserMessage(content))
}

// AddAssistant appends an assistant turn, carrying any tool calls it made.
func (m *Manager) AddAssistant(content string, toolCalls ...llm.ToolCall) {
	m.Add(llm.NewAssistantMessage(content, toolCalls...))
}

// AddToolResults appends tool outcomes as a user-role message.
func (m *Manager) AddToolResults(results ...llm.ToolResult) {
	m.Add(llm.NewToolResultMessage(results...))
}

// Messages returns a copy of the context.
func (m *Manager) Messages() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages in the context.
func (m *Manager) Len() int {
	return len(m.messages)
}

// Clear drops all messages.
func (m *Manager) Clear() {
	m.messages = m.messages[:0]
}

// TokenCount returns the context's total token count, including tool call
// payloads.
func (m *Manager) TokenCount() int {
	total := 0
	for i := range m.messages {
		total += m.messageTokens(&m.messages[i])
	}
	return total
}

func (m *Manager) messageTokens(msg *llm.CompletionMessage) int {
	total := m.counter.Count(msg.Content) + 4 // role and framing overhead
	for j := range msg.ToolCalls {
		tc := &msg.ToolCalls[j]
		total += m.counter.Count(tc.Name)
		total += m.counter.Count(fmt.Sprintf("%v", tc.Parameters))
	}
	for j := range msg.ToolResults {
		total += m.counter.Count(msg.ToolResults[j].Content)
	}
	return total
}

// MaxReplyTokens returns the reply budget for the model.
func (m *Manager) MaxReplyTokens() int {
	return m.maxReplyTokens
}

// ShouldCompact reports whether the context plus a full reply would
// overflow the model window.
func (m *Manager) ShouldCompact() bool {
	return m.TokenCount()+m.maxReplyTokens+compactionBuffer > m.maxContextTokens
}

// CompactIfNeeded drops the oldest turns until the context fits. Leading
// system messages always survive, and an assistant turn that called tools
// is dropped together with the following message carrying the results, so
// providers never see an orphaned call or result. Returns the number of
// messages dropped.
func (m *Manager) CompactIfNeeded() int {
	if !m.ShouldCompact() {
		return 0
	}

	// Leading system messages are pinned.
	pinned := 0
	for pinned < len(m.messages) && m.messages[pinned].Role == llm.RoleSystem {
		pinned++
	}

	target := m.maxContextTokens - m.maxReplyTokens - compactionBuffer
	dropped := 0
	for m.TokenCount() > target && len(m.messages) > pinned+1 {
		width := 1
		first := &m.messages[pinned]
		if len(first.ToolCalls) > 0 && pinned+1 < len(m.messages) && len(m.messages[pinned+1].ToolResults) > 0 {
			width = 2
		}
		if pinned+width > len(m.messages)-1 {
			break
		}
		m.messages = append(m.messages[:pinned], m.messages[pinned+width:]...)
		dropped += width
	}
	return dropped
}

// Summary describes the context state for logging.
func (m *Manager) Summary() string {
	if len(m.messages) == 0 {
		return "empty context"
	}

	roleCounts := make(map[llm.CompletionRole]int)
	for i := range m.messages {
		roleCounts[m.messages[i].Role]++
	}
	var parts []string
	for _, role := range []llm.CompletionRole{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		if n := roleCounts[role]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", role, n))
		}
	}
	return fmt.Sprintf("%d messages (%d tokens) - %s", len(m.messages), m.TokenCount(), strings.Join(parts, ", "))
}
