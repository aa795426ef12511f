package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/config"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newDeployer(executor cluster.Executor) *Deployer {
	cfg := &config.Config{}
	cfg.Deploy.PollInterval = "10ms"
	return New(cluster.NewKubectl(&config.ClusterConfig{}, executor), cfg)
}

func TestDeployMissingManifest(t *testing.T) {
	d := newDeployer(cluster.NewMockExecutor())

	_, err := d.Deploy(context.Background(), "/nonexistent/app.yaml", "", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManifestMissing)
}

func TestDeployApplyFailure(t *testing.T) {
	executor := cluster.NewMockExecutor().
		StubExit("apply", 1, `The Deployment "web" is invalid`)
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: apps/v1\nkind: Deployment\n")

	result, err := d.Deploy(context.Background(), path, "", time.Second)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.ReadinessTimeout)
	assert.Contains(t, result.Output, "invalid")
}

func TestDeployNoReadinessContract(t *testing.T) {
	executor := cluster.NewMockExecutor().
		Stub("apply", "configmap/settings created")
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: v1\nkind: ConfigMap\n")

	start := time.Now()
	result, err := d.Deploy(context.Background(), path, "", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.ReadinessTimeout)
	assert.Equal(t, []string{"configmap/settings"}, result.Applied)
	assert.Less(t, time.Since(start), time.Second, "no polling without workloads")
}

func TestDeployWorkloadBecomesReady(t *testing.T) {
	executor := cluster.NewMockExecutor().
		Stub("apply", "deployment.apps/web created\nservice/web created").
		Stub("rollout status", `deployment "web" successfully rolled out`)
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: apps/v1\nkind: Deployment\n")

	result, err := d.Deploy(context.Background(), path, "", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.ReadinessTimeout)
	assert.Equal(t, []string{"deployment.apps/web", "service/web"}, result.Applied)
}

func TestDeployReadinessTimeoutIsNotFailure(t *testing.T) {
	executor := cluster.NewMockExecutor().
		Stub("apply", "deployment.apps/web created").
		StubExit("rollout status", 1, "Waiting for deployment spec update")
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: apps/v1\nkind: Deployment\n")

	result, err := d.Deploy(context.Background(), path, "", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Success, "apply succeeded")
	assert.True(t, result.ReadinessTimeout)
}

func TestDeployIdempotentReapply(t *testing.T) {
	executor := cluster.NewMockExecutor().
		Stub("apply", "deployment.apps/web unchanged").
		Stub("rollout status", `deployment "web" successfully rolled out`)
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: apps/v1\nkind: Deployment\n")

	first, err := d.Deploy(context.Background(), path, "", time.Second)
	require.NoError(t, err)
	second, err := d.Deploy(context.Background(), path, "", time.Second)
	require.NoError(t, err)

	assert.Equal(t, first.Applied, second.Applied)
	assert.True(t, second.Success)
}

func TestDeployCancelledContext(t *testing.T) {
	executor := cluster.NewMockExecutor().
		Stub("apply", "deployment.apps/web created").
		StubExit("rollout status", 1, "waiting")
	d := newDeployer(executor)
	path := writeManifest(t, "apiVersion: apps/v1\nkind: Deployment\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Deploy(ctx, path, "", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseApplied(t *testing.T) {
	out := `deployment.apps/web created
service/web configured
Warning: resource is missing the kubectl.kubernetes.io/last-applied-configuration annotation
configmap/settings unchanged
`
	assert.Equal(t,
		[]string{"deployment.apps/web", "service/web", "configmap/settings"},
		parseApplied(out))
}

func TestRolloutTargets(t *testing.T) {
	applied := []string{"deployment.apps/web", "statefulset.apps/db", "configmap/settings", "service/web"}
	assert.Equal(t, []string{"deployment/web", "statefulset/db"}, rolloutTargets(applied))
}
