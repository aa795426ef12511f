package capindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kubepilot/pkg/logx"
)

// maxDescriptionLen caps the description taken from schema docs; the
// summary paragraph is what matters for embedding quality.
const maxDescriptionLen = 500

// ClusterInspector is the discovery surface a scan needs from the
// cluster CLI.
type ClusterInspector interface {
	APIResources(ctx context.Context) (string, error)
	Explain(ctx context.Context, resource string) (string, error)
	CustomResourceDefinitions(ctx context.Context) (string, error)
}

// ScanReport summarizes one cluster scan.
type ScanReport struct {
	Discovered int      // Resource types seen in discovery output
	Indexed    int      // Records written to the index
	Skipped    int      // Discovery rows that did not yield a valid schema
	Failures   []string // Human-readable failure notes
}

// Scanner walks a live cluster's discovery data and feeds the index.
type Scanner struct {
	cluster ClusterInspector
	index   *Index
	logger  *logx.Logger
}

// NewScanner wires a scanner over the cluster CLI and the index.
func NewScanner(cluster ClusterInspector, index *Index) *Scanner {
	return &Scanner{
		cluster: cluster,
		index:   index,
		logger:  logx.NewLogger("capindex.scan"),
	}
}

// Scan discovers every resource type the API server exposes, enriches
// each with schema documentation and provider affinity, and indexes the
// lot. Enrichment is best-effort; discovery and indexing failures are
// reported.
func (s *Scanner) Scan(ctx context.Context) (*ScanReport, error) {
	raw, err := s.cluster.APIResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover api resources: %w", err)
	}

	schemas, skipped, err := ParseAPIResources(raw)
	if err != nil {
		return nil, err
	}
	report := &ScanReport{
		Discovered: len(schemas) + skipped,
		Skipped:    skipped,
	}
	if len(schemas) == 0 {
		return report, nil
	}

	crdGroups := s.crdGroups(ctx)
	valid := make([]ResourceSchema, 0, len(schemas))
	for i := range schemas {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.enrich(ctx, &schemas[i], crdGroups)
		if err := schemas[i].Validate(); err != nil {
			report.Skipped++
			report.Failures = append(report.Failures, err.Error())
			continue
		}
		valid = append(valid, schemas[i])
	}

	records, err := s.index.IndexBatch(ctx, valid)
	report.Indexed = len(records)
	if err != nil {
		report.Failures = append(report.Failures, err.Error())
		return report, fmt.Errorf("index scanned capabilities: %w", err)
	}

	s.logger.Info("cluster scan complete: %d discovered, %d indexed, %d skipped",
		report.Discovered, report.Indexed, report.Skipped)
	return report, nil
}

// enrich fills the description from schema docs and the provider from
// CRD ownership. Both are best-effort.
func (s *Scanner) enrich(ctx context.Context, schema *ResourceSchema, crdGroups map[string]bool) {
	out, err := s.cluster.Explain(ctx, schema.Name)
	if err != nil {
		s.logger.Debug("explain %s unavailable: %v", schema.Name, err)
	} else if desc := parseExplainDescription(out); desc != "" {
		schema.Description = desc
	}

	if crdGroups[schema.Group] {
		schema.Provider = schema.Group
	}
}

// crdGroups returns the API groups owned by installed CRDs. An empty map
// on failure just means provider affinity falls back to heuristics.
func (s *Scanner) crdGroups(ctx context.Context) map[string]bool {
	out, err := s.cluster.CustomResourceDefinitions(ctx)
	if err != nil {
		s.logger.Debug("crd listing unavailable: %v", err)
		return nil
	}

	var crdList struct {
		Items []struct {
			Spec struct {
				Group string `json:"group"`
			} `json:"spec"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &crdList); err != nil {
		s.logger.Warn("unparseable crd listing: %v", err)
		return nil
	}

	groups := make(map[string]bool, len(crdList.Items))
	for _, item := range crdList.Items {
		if item.Spec.Group != "" {
			groups[item.Spec.Group] = true
		}
	}
	return groups
}

// apiResourceColumns are the headers of `api-resources -o wide` output,
// in order. Values are read by column offset because SHORTNAMES and
// CATEGORIES are frequently empty.
//
//nolint:gochecknoglobals // Static column layout
var apiResourceColumns = []string{"NAME", "SHORTNAMES", "APIVERSION", "NAMESPACED", "KIND", "VERBS", "CATEGORIES"}

// ParseAPIResources turns `kubectl api-resources -o wide` output into
// schemas. Rows missing identity fields are counted, not returned. The
// error is reserved for output whose header this parser does not
// understand.
func ParseAPIResources(out string) ([]ResourceSchema, int, error) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, 0, fmt.Errorf("empty api-resources output")
	}

	spans, err := columnSpans(lines[0], apiResourceColumns)
	if err != nil {
		return nil, 0, fmt.Errorf("unsupported api-resources output: %w", err)
	}

	var schemas []ResourceSchema
	skipped := 0
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		group, version := splitAPIVersion(fieldAt(line, spans[2]))
		schema := ResourceSchema{
			Name:       fieldAt(line, spans[0]),
			Group:      group,
			Version:    version,
			Namespaced: fieldAt(line, spans[3]) == "true",
			Kind:       fieldAt(line, spans[4]),
			ShortNames: splitList(fieldAt(line, spans[1]), ","),
			Verbs:      splitList(strings.Trim(fieldAt(line, spans[5]), "[]"), " "),
			Categories: splitList(fieldAt(line, spans[6]), ","),
		}
		if schema.Validate() != nil {
			skipped++
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas, skipped, nil
}

// columnSpans locates each header label and derives the half-open byte
// range of its column. The final column runs to end of line.
func columnSpans(header string, labels []string) ([][2]int, error) {
	spans := make([][2]int, len(labels))
	pos := 0
	for i, label := range labels {
		idx := strings.Index(header[pos:], label)
		if idx < 0 {
			return nil, fmt.Errorf("missing %s column", label)
		}
		spans[i][0] = pos + idx
		pos += idx + len(label)
	}
	for i := range spans {
		if i+1 < len(spans) {
			spans[i][1] = spans[i+1][0]
		} else {
			spans[i][1] = -1
		}
	}
	return spans, nil
}

func fieldAt(line string, span [2]int) string {
	if span[0] >= len(line) {
		return ""
	}
	end := span[1]
	if end < 0 || end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[span[0]:end])
}

func splitAPIVersion(apiVersion string) (group, version string) {
	if idx := strings.Index(apiVersion, "/"); idx >= 0 {
		return apiVersion[:idx], apiVersion[idx+1:]
	}
	return "", apiVersion
}

func splitList(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseExplainDescription extracts the summary paragraph from `explain`
// output: the first paragraph under DESCRIPTION, up to the next section
// or a blank line.
func parseExplainDescription(out string) string {
	var parts []string
	in := false
	for _, line := range strings.Split(out, "\n") {
		if !in {
			if strings.HasPrefix(line, "DESCRIPTION:") {
				in = true
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		// Section labels sit at column zero; description text is indented.
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			break
		}
		parts = append(parts, trimmed)
	}

	desc := strings.Join(parts, " ")
	if len(desc) > maxDescriptionLen {
		cut := strings.LastIndex(desc[:maxDescriptionLen], " ")
		if cut <= 0 {
			cut = maxDescriptionLen
		}
		desc = desc[:cut] + "..."
	}
	return desc
}
