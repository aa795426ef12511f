package capindex

import (
	"sort"
	"strings"
)

// kindCapabilities maps well-known kinds to their semantic tags. Kinds
// outside this table fall back to group-derived tags.
//
//nolint:gochecknoglobals // Static classification table
var kindCapabilities = map[string][]string{
	"Pod":                      {"workload"},
	"Deployment":               {"workload", "scaling", "rollout"},
	"ReplicaSet":               {"workload", "scaling"},
	"StatefulSet":              {"workload", "scaling", "storage", "ordered-rollout"},
	"DaemonSet":                {"workload", "node-local"},
	"Job":                      {"batch"},
	"CronJob":                  {"batch", "scheduling"},
	"Service":                  {"networking", "service-discovery"},
	"Endpoints":                {"networking"},
	"EndpointSlice":            {"networking"},
	"Ingress":                  {"networking", "routing", "tls"},
	"IngressClass":             {"networking", "routing"},
	"NetworkPolicy":            {"networking", "security"},
	"ConfigMap":                {"configuration"},
	"Secret":                   {"configuration", "security"},
	"PersistentVolume":         {"storage"},
	"PersistentVolumeClaim":    {"storage"},
	"StorageClass":             {"storage", "provisioning"},
	"VolumeSnapshot":           {"storage", "backup"},
	"HorizontalPodAutoscaler":  {"scaling", "autoscaling"},
	"VerticalPodAutoscaler":    {"scaling", "autoscaling"},
	"PodDisruptionBudget":      {"availability"},
	"PriorityClass":            {"scheduling"},
	"Namespace":                {"tenancy"},
	"ResourceQuota":            {"tenancy", "limits"},
	"LimitRange":               {"tenancy", "limits"},
	"ServiceAccount":           {"identity", "security"},
	"Role":                     {"rbac", "security"},
	"ClusterRole":              {"rbac", "security"},
	"RoleBinding":              {"rbac", "security"},
	"ClusterRoleBinding":       {"rbac", "security"},
	"CustomResourceDefinition": {"extension"},
	"Node":                     {"infrastructure"},
	"Event":                    {"observability"},
	"Lease":                    {"coordination"},
}

// kindComplexity rates how much operational judgment a kind demands,
// from 1 (fire and forget) to 5 (expert territory).
//
//nolint:gochecknoglobals // Static classification table
var kindComplexity = map[string]int{
	"ConfigMap":                      1,
	"Namespace":                      1,
	"Secret":                         1,
	"ServiceAccount":                 1,
	"LimitRange":                     1,
	"Event":                          1,
	"Pod":                            2,
	"Service":                        2,
	"Deployment":                     2,
	"ReplicaSet":                     2,
	"Job":                            2,
	"ResourceQuota":                  2,
	"PersistentVolumeClaim":          2,
	"Role":                           2,
	"RoleBinding":                    2,
	"CronJob":                        3,
	"StatefulSet":                    3,
	"DaemonSet":                      3,
	"Ingress":                        3,
	"HorizontalPodAutoscaler":        3,
	"NetworkPolicy":                  3,
	"PodDisruptionBudget":            3,
	"ClusterRole":                    3,
	"ClusterRoleBinding":             3,
	"PersistentVolume":               4,
	"StorageClass":                   4,
	"Node":                           4,
	"CustomResourceDefinition":       5,
	"MutatingWebhookConfiguration":   5,
	"ValidatingWebhookConfiguration": 5,
}

// groupTags supplies tags when the kind table has no entry, keyed by a
// substring of the API group.
//
//nolint:gochecknoglobals // Static classification table
var groupTags = []struct {
	fragment string
	tags     []string
}{
	{"networking", []string{"networking"}},
	{"storage", []string{"storage"}},
	{"autoscaling", []string{"scaling", "autoscaling"}},
	{"rbac", []string{"rbac", "security"}},
	{"batch", []string{"batch"}},
	{"monitoring", []string{"observability"}},
	{"metrics", []string{"observability"}},
	{"certificates", []string{"security", "tls"}},
	{"cert-manager", []string{"security", "tls"}},
	{"policy", []string{"availability"}},
	{"scheduling", []string{"scheduling"}},
	{"coordination", []string{"coordination"}},
}

// capabilityTags derives the semantic tags for a schema from its kind,
// API group, and discovery categories.
func capabilityTags(schema ResourceSchema) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || tag == "all" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, tag := range kindCapabilities[schema.Kind] {
		add(tag)
	}
	if len(tags) == 0 {
		for _, gt := range groupTags {
			if strings.Contains(schema.Group, gt.fragment) {
				for _, tag := range gt.tags {
					add(tag)
				}
				break
			}
		}
	}
	if isCustomGroup(schema.Group) {
		add("custom-resource")
		add("operator")
	}
	for _, cat := range schema.Categories {
		add(cat)
	}

	sort.Strings(tags)
	return tags
}

// complexityOf rates a schema. Unknown core kinds land mid-scale;
// unknown custom resources rate higher because an operator owns their
// lifecycle.
func complexityOf(schema ResourceSchema) int {
	if rating, ok := kindComplexity[schema.Kind]; ok {
		return rating
	}
	if isCustomGroup(schema.Group) {
		return 4
	}
	return 3
}

// providerOf names who stands behind a resource type: "core" for
// built-ins, the owning API group for operator-installed CRDs.
func providerOf(schema ResourceSchema) string {
	if schema.Provider != "" {
		return schema.Provider
	}
	if isCustomGroup(schema.Group) {
		return schema.Group
	}
	return "core"
}

// isCoreGroup reports whether the group ships with the platform itself.
func isCoreGroup(group string) bool {
	switch group {
	case "", "apps", "batch", "autoscaling", "policy", "extensions":
		return true
	}
	return strings.HasSuffix(group, ".k8s.io")
}

// isCustomGroup reports whether the group belongs to an installed
// extension rather than the platform.
func isCustomGroup(group string) bool {
	return group != "" && !isCoreGroup(group)
}
