// Package deploy applies validated manifests and waits for workload
// readiness. Apply is declarative and idempotent; re-applying an
// unchanged manifest changes nothing. Readiness waiting is the one
// intentionally long-blocking call in the system and always honors the
// caller's bound.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/config"
	"kubepilot/pkg/logx"
)

// ErrManifestMissing reports a manifest path that does not exist. A
// precondition failure: never retried.
var ErrManifestMissing = errors.New("deploy: manifest not found")

// Result reports one deploy attempt. Success covers the apply only;
// ReadinessTimeout set alongside Success=true means the configuration
// landed but the workload did not become ready within the bound, which
// is a different outcome from an apply failure.
type Result struct {
	Success          bool     `json:"success"`
	ReadinessTimeout bool     `json:"readiness_timeout"`
	Output           string   `json:"output,omitempty"`
	Applied          []string `json:"applied,omitempty"`
}

// workload kinds that expose a rollout readiness contract. Everything
// else counts as ready once applied.
var rolloutKinds = map[string]string{
	"deployment":  "deployment",
	"statefulset": "statefulset",
	"daemonset":   "daemonset",
}

// Deployer applies manifests through kubectl and polls readiness.
type Deployer struct {
	kubectl      *cluster.Kubectl
	pollInterval time.Duration
	logger       *logx.Logger
}

// New creates a deployer. cfg supplies the poll interval; nil uses the
// default.
func New(k *cluster.Kubectl, cfg *config.Config) *Deployer {
	interval := 5 * time.Second
	if cfg != nil {
		interval = cfg.PollInterval()
	}
	return &Deployer{
		kubectl:      k,
		pollInterval: interval,
		logger:       logx.NewLogger("deploy"),
	}
}

// Deploy applies the manifest at manifestPath and waits up to timeout
// for every applied workload to become ready. A missing manifest is a
// precondition error. An apply failure returns Success=false with the
// server's output. A readiness deadline returns Success=true,
// ReadinessTimeout=true and a nil error.
func (d *Deployer) Deploy(ctx context.Context, manifestPath, namespace string, timeout time.Duration) (*Result, error) {
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, manifestPath)
		}
		return nil, fmt.Errorf("cannot read manifest %s: %w", manifestPath, err)
	}

	deadline := time.Now().Add(timeout)

	out, err := d.kubectl.ApplyFile(ctx, manifestPath, namespace, false)
	if err != nil {
		var cmdErr *cluster.CommandError
		if !errors.As(err, &cmdErr) {
			return nil, fmt.Errorf("apply did not run: %w", err)
		}
		d.logger.Warn("apply failed for %s: %v", manifestPath, err)
		return &Result{Success: false, Output: combinedOutput(out, err)}, nil
	}

	result := &Result{
		Success: true,
		Output:  out,
		Applied: parseApplied(out),
	}

	workloads := rolloutTargets(result.Applied)
	if len(workloads) == 0 {
		d.logger.Info("applied %s: %d resources, none with a readiness contract", manifestPath, len(result.Applied))
		return result, nil
	}

	d.logger.Info("applied %s: waiting for %d workloads (deadline %s)",
		manifestPath, len(workloads), timeout)
	ready, err := d.awaitReadiness(ctx, workloads, namespace, deadline)
	if err != nil {
		return nil, err
	}
	result.ReadinessTimeout = !ready
	return result, nil
}

// awaitReadiness polls each workload's rollout status at the configured
// interval until all report ready or the deadline lapses. Returns false
// on deadline; errors only on context cancellation.
func (d *Deployer) awaitReadiness(ctx context.Context, workloads []string, namespace string, deadline time.Time) (bool, error) {
	pending := make(map[string]bool, len(workloads))
	for _, w := range workloads {
		pending[w] = true
	}

	for {
		for target := range pending {
			kind, name, ok := strings.Cut(target, "/")
			if !ok {
				delete(pending, target)
				continue
			}
			// A short per-probe bound keeps one stuck workload from
			// eating the whole budget in a single call.
			out, err := d.kubectl.RolloutStatus(ctx, kind, name, namespace, d.pollInterval)
			if err == nil && strings.Contains(out, "successfully rolled out") {
				d.logger.Debug("%s ready", target)
				delete(pending, target)
			} else if ctxErr := ctx.Err(); ctxErr != nil {
				return false, fmt.Errorf("readiness wait aborted: %w", ctxErr)
			}
		}

		if len(pending) == 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			remaining := make([]string, 0, len(pending))
			for target := range pending {
				remaining = append(remaining, target)
			}
			d.logger.Warn("readiness deadline lapsed; still pending: %s", strings.Join(remaining, ", "))
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("readiness wait aborted: %w", ctx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

// parseApplied extracts resource identities from kubectl apply output.
// Lines look like "deployment.apps/web created" or
// "configmap/settings unchanged".
func parseApplied(out string) []string {
	var applied []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 || !strings.Contains(fields[0], "/") {
			continue
		}
		switch fields[len(fields)-1] {
		case "created", "configured", "unchanged", "serverside-applied":
			applied = append(applied, fields[0])
		}
	}
	return applied
}

// rolloutTargets filters applied identities down to kinds with a
// rollout contract, normalized to "kind/name".
func rolloutTargets(applied []string) []string {
	var targets []string
	for _, identity := range applied {
		resource, name, ok := strings.Cut(identity, "/")
		if !ok {
			continue
		}
		// Strip the group qualifier: "deployment.apps" -> "deployment".
		kind, _, _ := strings.Cut(resource, ".")
		if canonical, ok := rolloutKinds[strings.ToLower(kind)]; ok {
			targets = append(targets, canonical+"/"+name)
		}
	}
	return targets
}

func combinedOutput(stdout string, err error) string {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return err.Error()
	}
	return stdout + "\n" + err.Error()
}
