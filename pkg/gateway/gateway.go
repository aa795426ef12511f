// Package gateway is the single chokepoint for tool execution. Plugins
// register named, risk-classed tools; every invocation passes a
// permission check against the caller's allowed risk classes before the
// tool runs, so no phase can reach a mutating action by omission.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/config"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/logx"
)

// RiskClass partitions tools by blast radius. Phases grant classes, the
// gateway enforces them.
type RiskClass string

const (
	// RiskReadOnly marks tools that only observe cluster state.
	RiskReadOnly RiskClass = "read-only"
	// RiskMutating marks tools that change cluster state.
	RiskMutating RiskClass = "mutating"
)

// Valid reports whether the risk class is a known value.
func (r RiskClass) Valid() bool {
	return r == RiskReadOnly || r == RiskMutating
}

// ParseRiskClass converts a descriptor string into a RiskClass.
func ParseRiskClass(s string) (RiskClass, error) {
	r := RiskClass(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown risk class %q (want %q or %q)", s, RiskReadOnly, RiskMutating)
	}
	return r, nil
}

var (
	// ErrToolNotFound reports an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrPermission reports a tool whose risk class is outside the
	// caller's allowed set.
	ErrPermission = errors.New("tool risk class not permitted")

	// ErrTimeout reports an invocation that exceeded its time budget.
	// Timed-out invocations are reported failed and left to the caller;
	// the gateway never re-runs them.
	ErrTimeout = errors.New("tool invocation timed out")
)

// ToolDescriptor describes one registered tool. Immutable after
// registration; removed only with its owning plugin.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ToolDescriptor struct {
	Plugin      string          `json:"plugin"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Risk        RiskClass       `json:"risk"`
	InputSchema llm.InputSchema `json:"input_schema"`
}

// Definition converts the descriptor into the model-facing tool shape.
func (d ToolDescriptor) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

// Tool is one executable action behind the gateway.
type Tool interface {
	Descriptor() ToolDescriptor
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// InvokeRequest asks the gateway to run one tool.
//
//nolint:govet // fieldalignment: logical grouping preferred
type InvokeRequest struct {
	// Tool is the registered tool name.
	Tool string
	// Args are the tool arguments, already JSON-shaped.
	Args map[string]any
	// Allowed is the caller's permitted risk classes for this call.
	Allowed []RiskClass
	// Timeout bounds the invocation; zero uses the gateway default.
	Timeout time.Duration
}

// InvocationRecord is the audit record of one execution attempt.
//
//nolint:govet // fieldalignment: logical grouping preferred
type InvocationRecord struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Gateway holds the live tool registry and runs gated invocations.
// Registration happens through mutex-guarded calls only; invocation
// holds the lock just long enough to resolve the tool.
type Gateway struct {
	mu             sync.RWMutex
	tools          map[string]Tool
	plugins        map[string][]string
	defaultTimeout time.Duration
	logger         *logx.Logger
}

// New creates an empty gateway.
func New(cfg *config.Config) *Gateway {
	timeout := 60 * time.Second
	if cfg != nil {
		timeout = cfg.InvokeTimeout()
	}
	return &Gateway{
		tools:          make(map[string]Tool),
		plugins:        make(map[string][]string),
		defaultTimeout: timeout,
		logger:         logx.NewLogger("gateway"),
	}
}

// RegisterPlugin registers a plugin's tools, replacing any previous
// registration under the same plugin name. Tool names must be unique
// across plugins; a name already owned by another plugin rejects the
// whole set.
func (g *Gateway) RegisterPlugin(plugin string, tools []Tool) error {
	if plugin == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if len(tools) == 0 {
		return fmt.Errorf("plugin %q registers no tools", plugin)
	}

	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		desc := tool.Descriptor()
		if desc.Name == "" {
			return fmt.Errorf("plugin %q: tool with empty name", plugin)
		}
		if !desc.Risk.Valid() {
			return fmt.Errorf("plugin %q: tool %q has invalid risk class %q", plugin, desc.Name, desc.Risk)
		}
		if _, dup := seen[desc.Name]; dup {
			return fmt.Errorf("plugin %q: duplicate tool %q", plugin, desc.Name)
		}
		seen[desc.Name] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, tool := range tools {
		name := tool.Descriptor().Name
		if existing, ok := g.tools[name]; ok && existing.Descriptor().Plugin != plugin {
			return fmt.Errorf("tool %q already registered by plugin %q", name, existing.Descriptor().Plugin)
		}
	}

	g.removePluginLocked(plugin)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		name := tool.Descriptor().Name
		g.tools[name] = tool
		names = append(names, name)
	}
	sort.Strings(names)
	g.plugins[plugin] = names

	g.logger.Info("registered plugin %s with %d tools", plugin, len(names))
	return nil
}

// Deregister removes a plugin and all of its tools. Returns false when
// the plugin was not registered.
func (g *Gateway) Deregister(plugin string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.plugins[plugin]; !ok {
		return false
	}
	g.removePluginLocked(plugin)
	g.logger.Info("deregistered plugin %s", plugin)
	return true
}

func (g *Gateway) removePluginLocked(plugin string) {
	for _, name := range g.plugins[plugin] {
		delete(g.tools, name)
	}
	delete(g.plugins, plugin)
}

// Plugins returns the registered plugin names, sorted.
func (g *Gateway) Plugins() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.plugins))
	for name := range g.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns descriptors for registered tools, sorted by name.
// With no arguments every tool is returned; otherwise only tools whose
// risk class is in the given set.
func (g *Gateway) Tools(risk ...RiskClass) []ToolDescriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(g.tools))
	for _, tool := range g.tools {
		desc := tool.Descriptor()
		if len(risk) > 0 && !riskAllowed(desc.Risk, risk) {
			continue
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions returns model-facing tool definitions for the given risk
// classes, sorted by name. This is what phase handlers pass to the model.
func (g *Gateway) Definitions(risk ...RiskClass) []llm.ToolDefinition {
	descs := g.Tools(risk...)
	defs := make([]llm.ToolDefinition, len(descs))
	for i, d := range descs {
		defs[i] = d.Definition()
	}
	return defs
}

// Lookup returns the descriptor for a tool name.
func (g *Gateway) Lookup(name string) (ToolDescriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tool, ok := g.tools[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return tool.Descriptor(), true
}

// Invoke runs one tool under the request's permission set and timeout.
// The permission check happens here, before arguments are touched, so
// callers cannot bypass it. Permission and not-found failures return no
// record (nothing ran); execution failures, including timeouts, return
// the failed record alongside the error so callers can append it to the
// session audit trail. None of the returned errors are retried here.
func (g *Gateway) Invoke(ctx context.Context, req InvokeRequest) (*InvocationRecord, error) {
	g.mu.RLock()
	tool, ok := g.tools[req.Tool]
	g.mu.RUnlock()

	if !ok {
		return nil, backoff.Permanent(fmt.Errorf("%w: %q", ErrToolNotFound, req.Tool))
	}

	desc := tool.Descriptor()
	if !riskAllowed(desc.Risk, req.Allowed) {
		g.logger.Warn("refused %s: risk %s not in allowed set %v", req.Tool, desc.Risk, req.Allowed)
		return nil, backoff.Permanent(fmt.Errorf("%w: %q is %s", ErrPermission, req.Tool, desc.Risk))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec := &InvocationRecord{
		ID:        uuid.NewString(),
		Tool:      req.Tool,
		Args:      req.Args,
		StartedAt: time.Now(),
	}
	g.logger.Debug("invoking %s (risk=%s, timeout=%s)", req.Tool, desc.Risk, timeout)

	out, err := tool.Exec(execCtx, req.Args)
	rec.Duration = time.Since(rec.StartedAt)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = backoff.Permanent(fmt.Errorf("%w: %q after %s", ErrTimeout, req.Tool, rec.Duration.Round(time.Millisecond)))
		}
		rec.Error = err.Error()
		g.logger.Warn("tool %s failed after %s: %v", req.Tool, rec.Duration.Round(time.Millisecond), err)
		return rec, err
	}

	rec.Success = true
	rec.Output = out
	return rec, nil
}

func riskAllowed(risk RiskClass, allowed []RiskClass) bool {
	for _, a := range allowed {
		if a == risk {
			return true
		}
	}
	return false
}
