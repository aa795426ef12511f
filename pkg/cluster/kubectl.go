package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kubepilot/pkg/config"
	"kubepilot/pkg/logx"
)

// CommandError reports a kubectl invocation that ran but exited non-zero.
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		stderr = "(no stderr)"
	}
	return fmt.Sprintf("kubectl %s exited %d: %s", strings.Join(e.Args, " "), e.ExitCode, stderr)
}

// IsNotFound reports whether an error is kubectl's resource-not-found
// failure.
func IsNotFound(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "NotFound")
}

// Kubectl runs kubectl with configured connection flags. All cluster
// reads and writes in the system go through this wrapper so context,
// namespace, and kubeconfig handling stay in one place.
type Kubectl struct {
	exec       Executor
	logger     *logx.Logger
	path       string
	kubeconfig string
	context    string
	namespace  string
}

// NewKubectl creates a wrapper from cluster configuration.
func NewKubectl(cfg *config.ClusterConfig, executor Executor) *Kubectl {
	path := cfg.KubectlPath
	if path == "" {
		path = "kubectl"
	}
	return &Kubectl{
		exec:       executor,
		logger:     logx.NewLogger("kubectl"),
		path:       path,
		kubeconfig: cfg.Kubeconfig,
		context:    cfg.Context,
		namespace:  cfg.Namespace,
	}
}

// DefaultNamespace returns the configured namespace, or "default".
func (k *Kubectl) DefaultNamespace() string {
	if k.namespace != "" {
		return k.namespace
	}
	return "default"
}

// Run executes kubectl with connection flags prepended, returning stdout.
// Non-zero exits surface as *CommandError carrying stderr.
func (k *Kubectl) Run(ctx context.Context, args ...string) (string, error) {
	return k.run(ctx, "", args...)
}

// RunStdin executes kubectl with input piped to stdin, as used by
// `apply -f -`.
func (k *Kubectl) RunStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	return k.run(ctx, stdin, args...)
}

func (k *Kubectl) run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := make([]string, 0, len(args)+4)
	cmd = append(cmd, k.path)
	if k.kubeconfig != "" {
		cmd = append(cmd, "--kubeconfig", k.kubeconfig)
	}
	if k.context != "" {
		cmd = append(cmd, "--context", k.context)
	}
	cmd = append(cmd, args...)

	k.logger.Debug("running: %s", strings.Join(cmd, " "))
	result, err := k.exec.Run(ctx, cmd, Opts{Stdin: stdin})
	if err != nil {
		return "", fmt.Errorf("kubectl did not run: %w", err)
	}
	if result.ExitCode != 0 {
		return result.Stdout, &CommandError{
			Args:     args,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}
	}
	return result.Stdout, nil
}

// namespaceArgs resolves the namespace flag: explicit beats configured,
// and "-" requests all namespaces.
func (k *Kubectl) namespaceArgs(namespace string) []string {
	switch {
	case namespace == "-":
		return []string{"--all-namespaces"}
	case namespace != "":
		return []string{"-n", namespace}
	case k.namespace != "":
		return []string{"-n", k.namespace}
	default:
		return nil
	}
}

// Get fetches resources as JSON. name may be empty to list.
func (k *Kubectl) Get(ctx context.Context, resource, name, namespace string) (string, error) {
	args := []string{"get", resource}
	if name != "" {
		args = append(args, name)
	}
	args = append(args, k.namespaceArgs(namespace)...)
	args = append(args, "-o", "json")
	return k.Run(ctx, args...)
}

// Describe returns the human-readable description of a resource.
func (k *Kubectl) Describe(ctx context.Context, resource, name, namespace string) (string, error) {
	args := []string{"describe", resource, name}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// Logs fetches container logs. tailLines <= 0 means kubectl's default.
func (k *Kubectl) Logs(ctx context.Context, pod, container, namespace string, tailLines int, previous bool) (string, error) {
	args := []string{"logs", pod}
	if container != "" {
		args = append(args, "-c", container)
	}
	if tailLines > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", tailLines))
	}
	if previous {
		args = append(args, "--previous")
	}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// Events returns recent events, most recent last.
func (k *Kubectl) Events(ctx context.Context, namespace string) (string, error) {
	args := []string{"get", "events", "--sort-by=.lastTimestamp"}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// TopPods returns current pod resource usage. Requires metrics-server.
func (k *Kubectl) TopPods(ctx context.Context, namespace string) (string, error) {
	args := []string{"top", "pods"}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// APIResources lists every resource type the API server exposes,
// including CRDs, in wide format.
func (k *Kubectl) APIResources(ctx context.Context) (string, error) {
	return k.Run(ctx, "api-resources", "-o", "wide")
}

// Explain returns the schema documentation for a resource type.
func (k *Kubectl) Explain(ctx context.Context, resource string) (string, error) {
	return k.Run(ctx, "explain", resource)
}

// CustomResourceDefinitions fetches all CRDs as JSON.
func (k *Kubectl) CustomResourceDefinitions(ctx context.Context) (string, error) {
	return k.Run(ctx, "get", "crds", "-o", "json")
}

// Apply applies a manifest from stdin. When dryRun is set the API server
// validates without persisting.
func (k *Kubectl) Apply(ctx context.Context, manifest string, namespace string, dryRun bool) (string, error) {
	args := []string{"apply", "-f", "-"}
	if dryRun {
		args = append(args, "--dry-run=server")
	}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.RunStdin(ctx, manifest, args...)
}

// ApplyFile applies a manifest file or directory from disk.
func (k *Kubectl) ApplyFile(ctx context.Context, path, namespace string, dryRun bool) (string, error) {
	args := []string{"apply", "-f", path}
	if dryRun {
		args = append(args, "--dry-run=server")
	}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// Delete removes a resource.
func (k *Kubectl) Delete(ctx context.Context, resource, name, namespace string) (string, error) {
	args := []string{"delete", resource, name}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// DeleteFile removes every resource named by a manifest file.
func (k *Kubectl) DeleteFile(ctx context.Context, path, namespace string) (string, error) {
	args := []string{"delete", "-f", path, "--ignore-not-found"}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// Patch applies a partial update to a resource. patchType is one of
// "strategic", "merge", or "json"; empty defaults to strategic.
func (k *Kubectl) Patch(ctx context.Context, resource, name, namespace, patchType, patch string) (string, error) {
	if patchType == "" {
		patchType = "strategic"
	}
	args := []string{"patch", resource, name, "--type", patchType, "-p", patch}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// RolloutStatus blocks until the workload reports rolled out, errors, or
// the timeout lapses. kubectl owns the wait; the context stays as an
// outer bound.
func (k *Kubectl) RolloutStatus(ctx context.Context, kind, name, namespace string, timeout time.Duration) (string, error) {
	args := []string{"rollout", "status", fmt.Sprintf("%s/%s", kind, name)}
	if timeout > 0 {
		args = append(args, "--timeout", timeout.String())
	}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// RolloutUndo rolls a workload back to its previous revision.
func (k *Kubectl) RolloutUndo(ctx context.Context, kind, name, namespace string) (string, error) {
	args := []string{"rollout", "undo", fmt.Sprintf("%s/%s", kind, name)}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// Scale sets a workload's replica count.
func (k *Kubectl) Scale(ctx context.Context, kind, name, namespace string, replicas int) (string, error) {
	args := []string{"scale", fmt.Sprintf("%s/%s", kind, name), fmt.Sprintf("--replicas=%d", replicas)}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// RestartRollout triggers a rolling restart of a workload.
func (k *Kubectl) RestartRollout(ctx context.Context, kind, name, namespace string) (string, error) {
	args := []string{"rollout", "restart", fmt.Sprintf("%s/%s", kind, name)}
	args = append(args, k.namespaceArgs(namespace)...)
	return k.Run(ctx, args...)
}

// ClusterInfo verifies connectivity and returns endpoint information.
func (k *Kubectl) ClusterInfo(ctx context.Context) (string, error) {
	return k.Run(ctx, "cluster-info")
}

// Version returns client and server versions as JSON. Server errors are
// tolerated so the command works without a reachable cluster.
func (k *Kubectl) Version(ctx context.Context) (string, error) {
	out, err := k.Run(ctx, "version", "-o", "json")
	if err != nil && strings.TrimSpace(out) != "" {
		return out, nil
	}
	return out, err
}
