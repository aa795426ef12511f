package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"kubepilot/pkg/cluster"
)

const helmPluginYAML = `name: helm
description: Helm release management
tools:
  - name: helm_list
    description: List installed releases
    risk: read-only
    command: ["helm", "list", "-n", "{{namespace}}", "-o", "json"]
    args:
      namespace:
        type: string
        description: Namespace to list releases in
        required: true
  - name: helm_rollback
    description: Roll a release back to an earlier revision
    risk: mutating
    command: ["helm", "rollback", "{{release}}", "{{revision}}"]
    args:
      release:
        type: string
        required: true
      revision:
        type: integer
        default: "0"
`

func writeDescriptor(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPluginManifest(t *testing.T) {
	path := writeDescriptor(t, t.TempDir(), "helm.yaml", helmPluginYAML)

	m, err := LoadPluginManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "helm", m.Name)
	require.Len(t, m.Tools, 2)
	assert.Equal(t, "helm_list", m.Tools[0].Name)
	assert.Equal(t, "read-only", m.Tools[0].Risk)
	assert.Equal(t, "mutating", m.Tools[1].Risk)

	schema := m.Tools[0].inputSchema()
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"namespace"}, schema.Required)
	assert.Equal(t, "string", schema.Properties["namespace"].Type)
}

func TestLoadPluginManifestMissingFile(t *testing.T) {
	_, err := LoadPluginManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPluginManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing plugin name",
			yaml:    "tools:\n  - name: t\n    risk: read-only\n    command: [\"echo\"]\n",
			wantErr: "name is required",
		},
		{
			name:    "no tools",
			yaml:    "name: empty\n",
			wantErr: "no tools",
		},
		{
			name:    "bad risk class",
			yaml:    "name: p\ntools:\n  - name: t\n    risk: chaotic\n    command: [\"echo\"]\n",
			wantErr: "risk class",
		},
		{
			name:    "empty command",
			yaml:    "name: p\ntools:\n  - name: t\n    risk: read-only\n",
			wantErr: "empty command",
		},
		{
			name:    "undeclared placeholder",
			yaml:    "name: p\ntools:\n  - name: t\n    risk: read-only\n    command: [\"echo\", \"{{what}}\"]\n",
			wantErr: "undeclared arg",
		},
		{
			name: "optional placeholder without default",
			yaml: "name: p\ntools:\n  - name: t\n    risk: read-only\n    command: [\"echo\", \"{{opt}}\"]\n" +
				"    args:\n      opt:\n        type: string\n",
			wantErr: "required or have a default",
		},
		{
			name: "duplicate tool names",
			yaml: "name: p\ntools:\n  - name: t\n    risk: read-only\n    command: [\"echo\"]\n" +
				"  - name: t\n    risk: read-only\n    command: [\"echo\"]\n",
			wantErr: "duplicate tool",
		},
		{
			name: "unsupported arg type",
			yaml: "name: p\ntools:\n  - name: t\n    risk: read-only\n    command: [\"echo\"]\n" +
				"    args:\n      a:\n        type: blob\n",
			wantErr: "unsupported type",
		},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDescriptor(t, dir, "bad.yaml", tt.yaml)
			_, err := LoadPluginManifest(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestShellToolExec(t *testing.T) {
	mock := cluster.NewMockExecutor()
	mock.Stub("helm list", `[{"name":"web","revision":3}]`)

	var m PluginManifest
	require.NoError(t, yaml.Unmarshal([]byte(helmPluginYAML), &m))
	tools := m.BuildTools(mock)
	require.Len(t, tools, 2)

	out, err := toolByName(t, tools, "helm_list").Exec(context.Background(), map[string]any{
		"namespace": "prod",
	})
	require.NoError(t, err)
	assert.Contains(t, out["stdout"], "web")
	assert.Equal(t, 0, out["exit_code"])

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"helm", "list", "-n", "prod", "-o", "json"}, calls[0])
}

func TestShellToolMissingRequiredArg(t *testing.T) {
	mock := cluster.NewMockExecutor()
	var m PluginManifest
	require.NoError(t, yaml.Unmarshal([]byte(helmPluginYAML), &m))

	_, err := toolByName(t, m.BuildTools(mock), "helm_list").Exec(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace is required")
	assert.Zero(t, mock.CallCount())
}

func TestShellToolDefaultSubstitution(t *testing.T) {
	mock := cluster.NewMockExecutor()
	var m PluginManifest
	require.NoError(t, yaml.Unmarshal([]byte(helmPluginYAML), &m))
	rollback := toolByName(t, m.BuildTools(mock), "helm_rollback")

	_, err := rollback.Exec(context.Background(), map[string]any{"release": "web"})
	require.NoError(t, err)

	_, err = rollback.Exec(context.Background(), map[string]any{
		"release":  "web",
		"revision": float64(2),
	})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"helm", "rollback", "web", "0"}, calls[0], "default fills absent arg")
	assert.Equal(t, []string{"helm", "rollback", "web", "2"}, calls[1], "numeric arg rendered as integer")
}

func TestShellToolNonZeroExit(t *testing.T) {
	mock := cluster.NewMockExecutor()
	mock.StubExit("helm rollback", 1, "Error: release: not found")

	var m PluginManifest
	require.NoError(t, yaml.Unmarshal([]byte(helmPluginYAML), &m))

	_, err := toolByName(t, m.BuildTools(mock), "helm_rollback").Exec(context.Background(), map[string]any{
		"release": "ghost",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRenderArgvEnum(t *testing.T) {
	specs := map[string]ArgSpec{
		"format": {Type: "string", Required: true, Enum: []string{"json", "yaml"}},
	}
	template := []string{"tool", "-o", "{{format}}"}

	argv, err := renderArgv(template, specs, map[string]any{"format": "json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool", "-o", "json"}, argv)

	_, err = renderArgv(template, specs, map[string]any{"format": "table"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table")
}

func TestFormatArgValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{true, "true"},
		{false, "false"},
		{3, "3"},
		{int64(7), "7"},
		{float64(3), "3"},
		{float64(2.5), "2.5"},
	}
	for _, tt := range tests {
		got, err := formatArgValue(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := formatArgValue([]string{"no"})
	assert.Error(t, err)
}
