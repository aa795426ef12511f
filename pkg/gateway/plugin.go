package gateway

import (
	"context"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/llm"
)

// PluginManifest is the on-disk YAML shape of an external plugin: a
// named set of shell-template tools.
type PluginManifest struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Tools       []PluginToolSpec `yaml:"tools"`
}

// PluginToolSpec declares one shell-template tool. Command is an argv
// template: each element is one argument, with `{{arg}}` placeholders
// substituted at invocation time. No shell is involved, so values are
// never re-parsed or word-split.
type PluginToolSpec struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Risk        string             `yaml:"risk"`
	Command     []string           `yaml:"command"`
	Args        map[string]ArgSpec `yaml:"args"`
}

// ArgSpec declares one tool argument.
type ArgSpec struct {
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Default     string   `yaml:"default"`
	Enum        []string `yaml:"enum"`
}

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

var argTypes = map[string]struct{}{
	"string": {}, "integer": {}, "number": {}, "boolean": {},
}

// LoadPluginManifest reads and validates a plugin descriptor file.
func LoadPluginManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin descriptor: %w", err)
	}

	var m PluginManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin descriptor %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plugin descriptor %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest for structural problems before any tool
// is built from it.
func (m *PluginManifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if len(m.Tools) == 0 {
		return fmt.Errorf("plugin %q declares no tools", m.Name)
	}

	seen := make(map[string]struct{}, len(m.Tools))
	for i := range m.Tools {
		t := &m.Tools[i]
		if t.Name == "" {
			return fmt.Errorf("tool #%d has no name", i+1)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tool %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		if _, err := ParseRiskClass(t.Risk); err != nil {
			return fmt.Errorf("tool %q: %w", t.Name, err)
		}
		if len(t.Command) == 0 {
			return fmt.Errorf("tool %q has an empty command template", t.Name)
		}

		for name, spec := range t.Args {
			typ := spec.Type
			if typ == "" {
				typ = "string"
			}
			if _, ok := argTypes[typ]; !ok {
				return fmt.Errorf("tool %q: arg %q has unsupported type %q", t.Name, name, typ)
			}
		}

		// Every placeholder must resolve at invocation time: it has to
		// name a declared arg that is either required or defaulted.
		for _, elem := range t.Command {
			for _, match := range placeholderRe.FindAllStringSubmatch(elem, -1) {
				arg := match[1]
				spec, ok := t.Args[arg]
				if !ok {
					return fmt.Errorf("tool %q: command references undeclared arg %q", t.Name, arg)
				}
				if !spec.Required && spec.Default == "" {
					return fmt.Errorf("tool %q: arg %q used in command must be required or have a default", t.Name, arg)
				}
			}
		}
	}
	return nil
}

// BuildTools converts the manifest into executable tools backed by the
// given executor.
func (m *PluginManifest) BuildTools(executor cluster.Executor) []Tool {
	tools := make([]Tool, 0, len(m.Tools))
	for i := range m.Tools {
		spec := m.Tools[i]
		tools = append(tools, &shellTool{
			desc: ToolDescriptor{
				Plugin:      m.Name,
				Name:        spec.Name,
				Description: spec.Description,
				Risk:        RiskClass(spec.Risk),
				InputSchema: spec.inputSchema(),
			},
			command: spec.Command,
			args:    spec.Args,
			exec:    executor,
		})
	}
	return tools
}

// inputSchema converts the arg declarations into the model-facing
// JSON schema.
func (t *PluginToolSpec) inputSchema() llm.InputSchema {
	if len(t.Args) == 0 {
		return llm.ObjectSchema(nil)
	}

	props := make(map[string]llm.Property, len(t.Args))
	var required []string
	for name, spec := range t.Args {
		typ := spec.Type
		if typ == "" {
			typ = "string"
		}
		props[name] = llm.Property{
			Type:        typ,
			Description: spec.Description,
			Enum:        spec.Enum,
		}
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return llm.ObjectSchema(props, required...)
}

// shellTool executes an argv template through an Executor.
type shellTool struct {
	desc    ToolDescriptor
	command []string
	args    map[string]ArgSpec
	exec    cluster.Executor
}

func (t *shellTool) Descriptor() ToolDescriptor { return t.desc }

func (t *shellTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	argv, err := renderArgv(t.command, t.args, args)
	if err != nil {
		return nil, err
	}

	result, err := t.exec.Run(ctx, argv, cluster.Opts{})
	if err != nil {
		return nil, fmt.Errorf("%s did not run: %w", argv[0], err)
	}
	if result.ExitCode != 0 {
		stderr := strings.TrimSpace(result.Stderr)
		if stderr == "" {
			stderr = strings.TrimSpace(result.Stdout)
		}
		return nil, fmt.Errorf("%s exited %d: %s", argv[0], result.ExitCode, stderr)
	}

	return map[string]any{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
	}, nil
}

// renderArgv substitutes declared argument values into the command
// template. Required args must be present; optional args fall back to
// their defaults.
func renderArgv(template []string, specs map[string]ArgSpec, args map[string]any) ([]string, error) {
	values := make(map[string]string, len(specs))
	for name, spec := range specs {
		raw, present := args[name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("%s is required", name)
			}
			values[name] = spec.Default
			continue
		}
		rendered, err := formatArgValue(raw)
		if err != nil {
			return nil, fmt.Errorf("arg %s: %w", name, err)
		}
		if len(spec.Enum) > 0 && !containsString(spec.Enum, rendered) {
			return nil, fmt.Errorf("arg %s: %q not in %v", name, rendered, spec.Enum)
		}
		values[name] = rendered
	}

	argv := make([]string, 0, len(template))
	for _, elem := range template {
		var renderErr error
		out := placeholderRe.ReplaceAllStringFunc(elem, func(match string) string {
			name := placeholderRe.FindStringSubmatch(match)[1]
			v, ok := values[name]
			if !ok {
				renderErr = fmt.Errorf("command references undeclared arg %q", name)
			}
			return v
		})
		if renderErr != nil {
			return nil, renderErr
		}
		argv = append(argv, out)
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("command template rendered empty")
	}
	return argv, nil
}

// formatArgValue renders a JSON-shaped argument value as a command-line
// string.
func formatArgValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
