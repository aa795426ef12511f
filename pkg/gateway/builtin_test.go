package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/config"
)

func builtinFixture() ([]Tool, *cluster.MockExecutor) {
	mock := cluster.NewMockExecutor()
	k := cluster.NewKubectl(&config.ClusterConfig{}, mock)
	return KubectlTools(k), mock
}

func toolByName(t *testing.T, tools []Tool, name string) Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Descriptor().Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestKubectlToolsRiskPartition(t *testing.T) {
	tools, _ := builtinFixture()
	require.Len(t, tools, 10)

	readOnly := map[string]bool{
		ToolK8sGet: true, ToolK8sDescribe: true, ToolK8sLogs: true,
		ToolK8sEvents: true, ToolK8sAPIResources: true,
	}
	mutating := map[string]bool{
		ToolK8sApply: true, ToolK8sDelete: true, ToolK8sScale: true,
		ToolK8sRolloutRestart: true, ToolK8sPatch: true,
	}

	for _, tool := range tools {
		desc := tool.Descriptor()
		assert.Equal(t, BuiltinPlugin, desc.Plugin)
		assert.NotEmpty(t, desc.Description)

		switch {
		case readOnly[desc.Name]:
			assert.Equal(t, RiskReadOnly, desc.Risk, desc.Name)
		case mutating[desc.Name]:
			assert.Equal(t, RiskMutating, desc.Risk, desc.Name)
		default:
			t.Errorf("unexpected tool %s", desc.Name)
		}
	}
}

func TestRegisterBuiltin(t *testing.T) {
	g := New(nil)
	mock := cluster.NewMockExecutor()
	k := cluster.NewKubectl(&config.ClusterConfig{}, mock)

	require.NoError(t, RegisterBuiltin(g, k))
	assert.Equal(t, []string{BuiltinPlugin}, g.Plugins())
	assert.Len(t, g.Tools(), 10)
	assert.Len(t, g.Tools(RiskReadOnly), 5)
	assert.Len(t, g.Tools(RiskMutating), 5)
}

func TestK8sGetBuildsCommand(t *testing.T) {
	tools, mock := builtinFixture()
	mock.Stub("get pods", `{"kind":"PodList","items":[]}`)

	out, err := toolByName(t, tools, ToolK8sGet).Exec(context.Background(), map[string]any{
		"resource":  "pods",
		"name":      "web-0",
		"namespace": "prod",
	})
	require.NoError(t, err)
	assert.Contains(t, out["output"], "PodList")

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"kubectl", "get", "pods", "web-0", "-n", "prod", "-o", "json"}, calls[0])
}

func TestK8sGetRequiresResource(t *testing.T) {
	tools, mock := builtinFixture()

	_, err := toolByName(t, tools, ToolK8sGet).Exec(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource")
	assert.Zero(t, mock.CallCount(), "invalid args never reach kubectl")
}

func TestK8sLogsBuildsCommand(t *testing.T) {
	tools, mock := builtinFixture()

	_, err := toolByName(t, tools, ToolK8sLogs).Exec(context.Background(), map[string]any{
		"pod":        "web-1",
		"tail_lines": float64(50),
		"previous":   true,
	})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"kubectl", "logs", "web-1", "--tail", "50", "--previous"}, calls[0])
}

func TestK8sScaleCoercesReplicas(t *testing.T) {
	tools, mock := builtinFixture()

	out, err := toolByName(t, tools, ToolK8sScale).Exec(context.Background(), map[string]any{
		"resource": "deployment",
		"name":     "web",
		"replicas": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out["replicas"])

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"kubectl", "scale", "deployment/web", "--replicas=3"}, calls[0])
}

func TestK8sScaleRequiresReplicas(t *testing.T) {
	tools, mock := builtinFixture()

	_, err := toolByName(t, tools, ToolK8sScale).Exec(context.Background(), map[string]any{
		"resource": "deployment",
		"name":     "web",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicas")
	assert.Zero(t, mock.CallCount())
}

func TestK8sApplyDryRun(t *testing.T) {
	tools, mock := builtinFixture()
	mock.Stub("apply", "deployment.apps/web configured (server dry run)")

	out, err := toolByName(t, tools, ToolK8sApply).Exec(context.Background(), map[string]any{
		"manifest": "apiVersion: apps/v1\nkind: Deployment",
		"dry_run":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["dry_run"])

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"kubectl", "apply", "-f", "-", "--dry-run=server"}, calls[0])
}

func TestK8sPatchDefaultsToStrategic(t *testing.T) {
	tools, mock := builtinFixture()

	_, err := toolByName(t, tools, ToolK8sPatch).Exec(context.Background(), map[string]any{
		"resource": "deployment",
		"name":     "web",
		"patch":    `{"spec":{"replicas":2}}`,
	})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"kubectl", "patch", "deployment", "web",
		"--type", "strategic", "-p", `{"spec":{"replicas":2}}`,
	}, calls[0])
}

func TestBuiltinSurfacesKubectlFailure(t *testing.T) {
	tools, mock := builtinFixture()
	mock.StubExit("describe", 1, `Error from server (NotFound): pods "ghost" not found`)

	_, err := toolByName(t, tools, ToolK8sDescribe).Exec(context.Background(), map[string]any{
		"resource": "pods",
		"name":     "ghost",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}
