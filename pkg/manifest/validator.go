// Package manifest validates generated Kubernetes manifests before they
// reach the cluster: a local structural pass over each YAML document,
// then a server-side dry run against the live schema. Validation never
// mutates cluster state.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/logx"
)

// IssueKind distinguishes structural failures from schema failures.
type IssueKind string

const (
	// IssueMissingField marks a required field that is absent.
	IssueMissingField IssueKind = "missing_field"
	// IssueUnknownField marks a field the server schema does not know.
	IssueUnknownField IssueKind = "unknown_field"
	// IssueTypeMismatch marks a value whose type the schema rejects.
	IssueTypeMismatch IssueKind = "type_mismatch"
	// IssueSchema marks any other server-side schema rejection.
	IssueSchema IssueKind = "schema"
	// IssueMetadata marks missing recommended metadata. Warning only.
	IssueMetadata IssueKind = "metadata"
	// IssueSyntax marks YAML that does not parse.
	IssueSyntax IssueKind = "syntax"
)

// Issue is one validation finding.
type Issue struct {
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
	Kind    IssueKind `json:"kind"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s: %s", i.Field, i.Message)
	}
	return i.Message
}

// Result reports one validation call. Errors block deployment;
// warnings do not.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Result) addError(kind IssueKind, field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...), Kind: kind})
}

func (r *Result) addWarning(kind IssueKind, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...), Kind: kind})
}

// Summary renders the findings for folding back into model context
// during the generate-validate-repair loop.
func (r *Result) Summary() string {
	if r.Valid && len(r.Warnings) == 0 {
		return "manifest is valid"
	}
	var b strings.Builder
	for _, issue := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", issue)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", issue)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Validator dry-run validates manifests against the live cluster.
type Validator struct {
	kubectl *cluster.Kubectl
	logger  *logx.Logger
}

// New creates a validator over the kubectl wrapper.
func New(k *cluster.Kubectl) *Validator {
	return &Validator{
		kubectl: k,
		logger:  logx.NewLogger("validator"),
	}
}

// document is the subset of manifest structure the local pass inspects.
type document struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name      string            `yaml:"name"`
		Namespace string            `yaml:"namespace"`
		Labels    map[string]string `yaml:"labels"`
	} `yaml:"metadata"`
}

// Validate checks manifestYAML, which may hold multiple documents
// separated by "---". The structural pass runs first; when it finds no
// hard errors the manifest goes to the server as a dry run so unknown
// fields and type mismatches surface against the live schema. The
// returned error covers infrastructure failures only (kubectl could not
// run); schema problems land in the Result.
func (v *Validator) Validate(ctx context.Context, manifestYAML, namespace string) (*Result, error) {
	result := &Result{}

	docs, err := splitDocuments(manifestYAML)
	if err != nil {
		result.addError(IssueSyntax, "", "manifest does not parse: %v", err)
		return result, nil
	}
	if len(docs) == 0 {
		result.addError(IssueSyntax, "", "manifest contains no documents")
		return result, nil
	}

	for i, doc := range docs {
		v.checkStructure(result, i, doc)
	}

	if len(result.Errors) == 0 {
		if err := v.dryRun(ctx, manifestYAML, namespace, result); err != nil {
			return nil, err
		}
	}

	result.Valid = len(result.Errors) == 0
	v.logger.Debug("validated %d documents: valid=%t errors=%d warnings=%d",
		len(docs), result.Valid, len(result.Errors), len(result.Warnings))
	return result, nil
}

// checkStructure runs the local required-field and recommended-metadata
// checks on one document.
func (v *Validator) checkStructure(result *Result, index int, doc document) {
	prefix := fmt.Sprintf("document[%d]", index)

	if doc.APIVersion == "" {
		result.addError(IssueMissingField, prefix+".apiVersion", "apiVersion is required")
	}
	if doc.Kind == "" {
		result.addError(IssueMissingField, prefix+".kind", "kind is required")
	}
	if doc.Metadata.Name == "" {
		result.addError(IssueMissingField, prefix+".metadata.name", "metadata.name is required")
	}

	if len(doc.Metadata.Labels) == 0 {
		result.addWarning(IssueMetadata, prefix+".metadata.labels",
			"no labels set; recommended for selection and ownership tracking")
	}
	if doc.Metadata.Namespace == "" && !clusterScoped(doc.Kind) {
		result.addWarning(IssueMetadata, prefix+".metadata.namespace",
			"no namespace set; the configured default namespace will apply")
	}
}

// dryRun submits the manifest with --dry-run=server and converts
// rejections into structured issues.
func (v *Validator) dryRun(ctx context.Context, manifestYAML, namespace string, result *Result) error {
	_, err := v.kubectl.Apply(ctx, manifestYAML, namespace, true)
	if err == nil {
		return nil
	}

	var cmdErr *cluster.CommandError
	if !errors.As(err, &cmdErr) {
		return fmt.Errorf("dry-run validation did not run: %w", err)
	}

	for _, line := range strings.Split(cmdErr.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		result.Errors = append(result.Errors, classifyServerError(line))
	}
	if len(result.Errors) == 0 {
		result.addError(IssueSchema, "", "server rejected manifest: %s", strings.TrimSpace(cmdErr.Stderr))
	}
	return nil
}

// classifyServerError maps one kubectl stderr line onto the issue
// taxonomy. kubectl's messages are stable enough to match on.
func classifyServerError(line string) Issue {
	issue := Issue{Message: line, Kind: IssueSchema}

	switch {
	case strings.Contains(line, "unknown field"):
		issue.Kind = IssueUnknownField
		issue.Field = quotedFragment(line)
	case strings.Contains(line, "missing required field"), strings.Contains(line, "Required value"):
		issue.Kind = IssueMissingField
		issue.Field = quotedFragment(line)
	case strings.Contains(line, "invalid type"), strings.Contains(line, "cannot unmarshal"),
		strings.Contains(line, "Invalid value"):
		issue.Kind = IssueTypeMismatch
		issue.Field = quotedFragment(line)
	}
	return issue
}

// quotedFragment extracts the first double-quoted fragment, which is
// where kubectl names the offending field.
func quotedFragment(line string) string {
	start := strings.Index(line, `"`)
	if start < 0 {
		return ""
	}
	rest := line[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// splitDocuments decodes a YAML stream into its documents, skipping
// empty ones.
func splitDocuments(manifestYAML string) ([]document, error) {
	dec := yaml.NewDecoder(strings.NewReader(manifestYAML))
	var docs []document
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if node.Kind == 0 {
			continue
		}
		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.APIVersion == "" && doc.Kind == "" && doc.Metadata.Name == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// clusterScoped reports whether a kind conventionally lives outside
// namespaces. Not exhaustive; unknown kinds get the namespace warning,
// which is harmless noise for cluster-scoped CRDs.
func clusterScoped(kind string) bool {
	switch kind {
	case "Namespace", "Node", "PersistentVolume", "ClusterRole", "ClusterRoleBinding",
		"CustomResourceDefinition", "StorageClass", "PriorityClass", "IngressClass":
		return true
	}
	return false
}
