package gateway

import (
	"context"
	"fmt"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/llm"
)

// BuiltinPlugin is the plugin name the built-in kubectl tools register
// under.
const BuiltinPlugin = "kubectl"

// Built-in tool names.
const (
	ToolK8sGet            = "k8s_get"
	ToolK8sDescribe       = "k8s_describe"
	ToolK8sLogs           = "k8s_logs"
	ToolK8sEvents         = "k8s_events"
	ToolK8sAPIResources   = "k8s_api_resources"
	ToolK8sApply          = "k8s_apply"
	ToolK8sDelete         = "k8s_delete"
	ToolK8sScale          = "k8s_scale"
	ToolK8sRolloutRestart = "k8s_rollout_restart"
	ToolK8sPatch          = "k8s_patch"
)

// kubectlTool pairs a descriptor with its handler. All built-ins share
// this shape; the interesting part is the handler closure over Kubectl.
type kubectlTool struct {
	desc ToolDescriptor
	run  func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t *kubectlTool) Descriptor() ToolDescriptor { return t.desc }

func (t *kubectlTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	return t.run(ctx, args)
}

// RegisterBuiltin registers the built-in kubectl plugin on the gateway.
func RegisterBuiltin(g *Gateway, k *cluster.Kubectl) error {
	return g.RegisterPlugin(BuiltinPlugin, KubectlTools(k))
}

// KubectlTools builds the built-in tool set over a kubectl wrapper:
// read-only inspection tools for diagnosis phases and mutating tools
// for approved remediation.
func KubectlTools(k *cluster.Kubectl) []Tool {
	namespaceProp := llm.Property{
		Type:        "string",
		Description: "Namespace to target. Empty uses the configured default; \"-\" selects all namespaces.",
	}

	return []Tool{
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sGet,
				Description: "Fetch resources as JSON. Omit name to list all resources of the type.",
				Risk:        RiskReadOnly,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":  {Type: "string", Description: "Resource type, e.g. pods, deployments, services"},
					"name":      {Type: "string", Description: "Resource name; empty lists the type"},
					"namespace": namespaceProp,
				}, "resource"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				out, err := k.Get(ctx, resource, stringArg(args, "name"), stringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sDescribe,
				Description: "Describe one resource: status, conditions, and recent events.",
				Risk:        RiskReadOnly,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":  {Type: "string", Description: "Resource type"},
					"name":      {Type: "string", Description: "Resource name"},
					"namespace": namespaceProp,
				}, "resource", "name"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				out, err := k.Describe(ctx, resource, name, stringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sLogs,
				Description: "Fetch container logs from a pod.",
				Risk:        RiskReadOnly,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"pod":        {Type: "string", Description: "Pod name"},
					"container":  {Type: "string", Description: "Container name for multi-container pods"},
					"namespace":  namespaceProp,
					"tail_lines": {Type: "integer", Description: "Limit to the last N lines"},
					"previous":   {Type: "boolean", Description: "Read the previous container instance (after a crash)"},
				}, "pod"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				pod, err := requiredString(args, "pod")
				if err != nil {
					return nil, err
				}
				out, err := k.Logs(ctx, pod, stringArg(args, "container"), stringArg(args, "namespace"),
					intArg(args, "tail_lines", 0), boolArg(args, "previous"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sEvents,
				Description: "List recent cluster events, oldest first.",
				Risk:        RiskReadOnly,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"namespace": namespaceProp,
				}),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				out, err := k.Events(ctx, stringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sAPIResources,
				Description: "List every resource type the API server exposes, including CRDs.",
				Risk:        RiskReadOnly,
				InputSchema: llm.ObjectSchema(nil),
			},
			run: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				out, err := k.APIResources(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sApply,
				Description: "Apply a YAML manifest to the cluster. Set dry_run for server-side validation without persisting.",
				Risk:        RiskMutating,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"manifest":  {Type: "string", Description: "Full YAML manifest text"},
					"namespace": namespaceProp,
					"dry_run":   {Type: "boolean", Description: "Validate server-side only"},
				}, "manifest"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				manifest, err := requiredString(args, "manifest")
				if err != nil {
					return nil, err
				}
				dryRun := boolArg(args, "dry_run")
				out, err := k.Apply(ctx, manifest, stringArg(args, "namespace"), dryRun)
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out, "dry_run": dryRun}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sDelete,
				Description: "Delete one resource by type and name.",
				Risk:        RiskMutating,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":  {Type: "string", Description: "Resource type"},
					"name":      {Type: "string", Description: "Resource name"},
					"namespace": namespaceProp,
				}, "resource", "name"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				out, err := k.Delete(ctx, resource, name, stringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sScale,
				Description: "Set a workload's replica count.",
				Risk:        RiskMutating,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":  {Type: "string", Description: "Workload type: deployment, statefulset, or replicaset"},
					"name":      {Type: "string", Description: "Workload name"},
					"replicas":  {Type: "integer", Description: "Desired replica count"},
					"namespace": namespaceProp,
				}, "resource", "name", "replicas"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				replicas := intArg(args, "replicas", -1)
				if replicas < 0 {
					return nil, fmt.Errorf("replicas is required and must be a non-negative integer")
				}
				out, err := k.Scale(ctx, resource, name, stringArg(args, "namespace"), replicas)
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out, "replicas": replicas}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sRolloutRestart,
				Description: "Trigger a rolling restart of a workload.",
				Risk:        RiskMutating,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":  {Type: "string", Description: "Workload type: deployment, statefulset, or daemonset"},
					"name":      {Type: "string", Description: "Workload name"},
					"namespace": namespaceProp,
				}, "resource", "name"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				out, err := k.RestartRollout(ctx, resource, name, stringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
		&kubectlTool{
			desc: ToolDescriptor{
				Plugin:      BuiltinPlugin,
				Name:        ToolK8sPatch,
				Description: "Apply a partial update to one resource.",
				Risk:        RiskMutating,
				InputSchema: llm.ObjectSchema(map[string]llm.Property{
					"resource":   {Type: "string", Description: "Resource type"},
					"name":       {Type: "string", Description: "Resource name"},
					"patch":      {Type: "string", Description: "Patch body, JSON or YAML"},
					"patch_type": {Type: "string", Description: "Patch strategy", Enum: []string{"strategic", "merge", "json"}},
					"namespace":  namespaceProp,
				}, "resource", "name", "patch"),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				resource, err := requiredString(args, "resource")
				if err != nil {
					return nil, err
				}
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				patch, err := requiredString(args, "patch")
				if err != nil {
					return nil, err
				}
				out, err := k.Patch(ctx, resource, name, stringArg(args, "namespace"),
					stringArg(args, "patch_type"), patch)
				if err != nil {
					return nil, err
				}
				return map[string]any{"output": out}, nil
			},
		},
	}
}

// requiredString extracts a mandatory string argument.
func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required and must be a non-empty string", key)
	}
	return v, nil
}

// stringArg extracts an optional string argument, empty when absent.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg extracts an integer argument, tolerating the float64 values
// JSON unmarshaling produces.
func intArg(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return defaultVal
	}
}

// boolArg extracts an optional boolean argument, false when absent.
func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
