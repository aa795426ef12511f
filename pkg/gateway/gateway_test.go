package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/llm"
)

// fakeTool is a scriptable tool for gateway tests.
type fakeTool struct {
	desc    ToolDescriptor
	out     map[string]any
	err     error
	delay   time.Duration
	execs   int
	gotArgs map[string]any
}

func newFakeTool(name string, risk RiskClass) *fakeTool {
	return &fakeTool{
		desc: ToolDescriptor{
			Plugin:      "test",
			Name:        name,
			Description: "test tool " + name,
			Risk:        risk,
			InputSchema: llm.ObjectSchema(map[string]llm.Property{
				"target": {Type: "string"},
			}),
		},
		out: map[string]any{"ok": true},
	}
}

func (t *fakeTool) Descriptor() ToolDescriptor { return t.desc }

func (t *fakeTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	t.execs++
	t.gotArgs = args
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.out, t.err
}

func TestParseRiskClass(t *testing.T) {
	r, err := ParseRiskClass("read-only")
	require.NoError(t, err)
	assert.Equal(t, RiskReadOnly, r)

	r, err = ParseRiskClass("mutating")
	require.NoError(t, err)
	assert.Equal(t, RiskMutating, r)

	_, err = ParseRiskClass("destructive")
	assert.Error(t, err)
	_, err = ParseRiskClass("")
	assert.Error(t, err)
}

func TestRegisterPluginAndListTools(t *testing.T) {
	g := New(nil)
	read := newFakeTool("zz_read", RiskReadOnly)
	mutate := newFakeTool("aa_mutate", RiskMutating)

	require.NoError(t, g.RegisterPlugin("test", []Tool{read, mutate}))

	all := g.Tools()
	require.Len(t, all, 2)
	assert.Equal(t, "aa_mutate", all[0].Name, "sorted by name")
	assert.Equal(t, "zz_read", all[1].Name)

	readOnly := g.Tools(RiskReadOnly)
	require.Len(t, readOnly, 1)
	assert.Equal(t, "zz_read", readOnly[0].Name)

	assert.Equal(t, []string{"test"}, g.Plugins())

	desc, ok := g.Lookup("aa_mutate")
	require.True(t, ok)
	assert.Equal(t, RiskMutating, desc.Risk)
	_, ok = g.Lookup("nope")
	assert.False(t, ok)

	defs := g.Definitions(RiskReadOnly)
	require.Len(t, defs, 1)
	assert.Equal(t, "zz_read", defs[0].Name)
	assert.Equal(t, "object", defs[0].InputSchema.Type)
}

func TestRegisterPluginValidation(t *testing.T) {
	g := New(nil)
	valid := newFakeTool("ok", RiskReadOnly)

	assert.Error(t, g.RegisterPlugin("", []Tool{valid}))
	assert.Error(t, g.RegisterPlugin("p", nil))

	unnamed := newFakeTool("", RiskReadOnly)
	assert.Error(t, g.RegisterPlugin("p", []Tool{unnamed}))

	badRisk := newFakeTool("bad", RiskClass("chaotic"))
	assert.Error(t, g.RegisterPlugin("p", []Tool{badRisk}))

	dup := newFakeTool("ok", RiskMutating)
	assert.Error(t, g.RegisterPlugin("p", []Tool{valid, dup}))

	assert.Empty(t, g.Tools(), "failed registrations leave nothing behind")
}

func TestRegisterPluginReplacesSamePlugin(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.RegisterPlugin("p", []Tool{newFakeTool("old", RiskReadOnly)}))
	require.NoError(t, g.RegisterPlugin("p", []Tool{newFakeTool("new", RiskReadOnly)}))

	_, ok := g.Lookup("old")
	assert.False(t, ok)
	_, ok = g.Lookup("new")
	assert.True(t, ok)
	assert.Equal(t, []string{"p"}, g.Plugins())
}

func TestRegisterPluginRejectsCrossPluginCollision(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.RegisterPlugin("first", []Tool{newFakeTool("shared", RiskReadOnly)}))

	err := g.RegisterPlugin("second", []Tool{newFakeTool("shared", RiskReadOnly)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")

	desc, ok := g.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "first", desc.Plugin, "original registration survives")
}

func TestDeregister(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.RegisterPlugin("p", []Tool{newFakeTool("x", RiskReadOnly)}))

	assert.True(t, g.Deregister("p"))
	assert.False(t, g.Deregister("p"))
	_, ok := g.Lookup("x")
	assert.False(t, ok)
	assert.Empty(t, g.Plugins())
}

func TestInvokeRunsTool(t *testing.T) {
	g := New(nil)
	tool := newFakeTool("probe", RiskReadOnly)
	tool.out = map[string]any{"output": "3 pods"}
	require.NoError(t, g.RegisterPlugin("test", []Tool{tool}))

	rec, err := g.Invoke(context.Background(), InvokeRequest{
		Tool:    "probe",
		Args:    map[string]any{"target": "pods"},
		Allowed: []RiskClass{RiskReadOnly},
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.True(t, rec.Success)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "probe", rec.Tool)
	assert.Equal(t, map[string]any{"output": "3 pods"}, rec.Output)
	assert.False(t, rec.StartedAt.IsZero())
	assert.Empty(t, rec.Error)
	assert.Equal(t, map[string]any{"target": "pods"}, tool.gotArgs)
}

func TestInvokeUnknownTool(t *testing.T) {
	g := New(nil)

	rec, err := g.Invoke(context.Background(), InvokeRequest{
		Tool:    "ghost",
		Allowed: []RiskClass{RiskReadOnly, RiskMutating},
	})
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.False(t, backoff.IsRetryable(err))
}

func TestInvokeRefusesDisallowedRisk(t *testing.T) {
	g := New(nil)
	tool := newFakeTool("delete_things", RiskMutating)
	require.NoError(t, g.RegisterPlugin("test", []Tool{tool}))

	rec, err := g.Invoke(context.Background(), InvokeRequest{
		Tool:    "delete_things",
		Args:    map[string]any{"target": "everything"},
		Allowed: []RiskClass{RiskReadOnly},
	})
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Zero(t, tool.execs, "refused tool never runs")
	assert.False(t, backoff.IsRetryable(err))
}

func TestInvokeEmptyAllowedSetRefusesEverything(t *testing.T) {
	g := New(nil)
	tool := newFakeTool("observe", RiskReadOnly)
	require.NoError(t, g.RegisterPlugin("test", []Tool{tool}))

	_, err := g.Invoke(context.Background(), InvokeRequest{Tool: "observe"})
	assert.ErrorIs(t, err, ErrPermission)
	assert.Zero(t, tool.execs)
}

func TestInvokeTimeout(t *testing.T) {
	g := New(nil)
	tool := newFakeTool("slow", RiskReadOnly)
	tool.delay = 500 * time.Millisecond
	require.NoError(t, g.RegisterPlugin("test", []Tool{tool}))

	rec, err := g.Invoke(context.Background(), InvokeRequest{
		Tool:    "slow",
		Allowed: []RiskClass{RiskReadOnly},
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, backoff.IsRetryable(err), "timeouts are never auto-retried")

	require.NotNil(t, rec, "failed attempt still produces an audit record")
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Error)
	assert.GreaterOrEqual(t, rec.Duration, 20*time.Millisecond)
}

func TestInvokeToolFailure(t *testing.T) {
	g := New(nil)
	tool := newFakeTool("flaky", RiskReadOnly)
	tool.err = errors.New("connection refused")
	tool.out = nil
	require.NoError(t, g.RegisterPlugin("test", []Tool{tool}))

	rec, err := g.Invoke(context.Background(), InvokeRequest{
		Tool:    "flaky",
		Allowed: []RiskClass{RiskReadOnly},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "connection refused")

	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.Equal(t, "connection refused", rec.Error)
	assert.Nil(t, rec.Output)
}

func TestDescriptorDefinition(t *testing.T) {
	desc := ToolDescriptor{
		Plugin:      "p",
		Name:        "n",
		Description: "d",
		Risk:        RiskReadOnly,
		InputSchema: llm.ObjectSchema(map[string]llm.Property{"a": {Type: "string"}}, "a"),
	}

	def := desc.Definition()
	assert.Equal(t, "n", def.Name)
	assert.Equal(t, "d", def.Description)
	assert.Equal(t, []string{"a"}, def.InputSchema.Required)
}
