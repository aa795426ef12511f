package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWeaviateParsesURL(t *testing.T) {
	store, err := NewWeaviate("http://localhost:8080", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultClass, store.class)

	store, err = NewWeaviate("https://vectors.internal:443", "CustomClass")
	require.NoError(t, err)
	assert.Equal(t, "CustomClass", store.class)
}

func TestNewWeaviateRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "not a url", "://nope"} {
		_, err := NewWeaviate(raw, "")
		assert.Error(t, err, "url %q", raw)
	}
}

func TestObjectUUIDDeterministic(t *testing.T) {
	a := objectUUID("cap-1234567890abcdef1234")
	b := objectUUID("cap-1234567890abcdef1234")
	c := objectUUID("cap-feedfacefeedfacefeed")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// RFC 4122 text form so weaviate accepts it as an object id.
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, string(a))
}

func TestClassSchemaProperties(t *testing.T) {
	store, err := NewWeaviate("http://localhost:8080", "")
	require.NoError(t, err)

	class := store.classSchema()
	assert.Equal(t, DefaultClass, class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		names[p.Name] = true
	}
	for _, want := range []string{
		"capId", "name", "group", "version", "kind", "description",
		"capabilities", "verbs", "complexity", "provider", "indexedAt",
	} {
		assert.True(t, names[want], "missing property %s", want)
	}
}

func TestBuildWhere(t *testing.T) {
	assert.Nil(t, buildWhere(Filters{}))
	assert.NotNil(t, buildWhere(Filters{Group: "apps"}))
	assert.NotNil(t, buildWhere(Filters{Verb: "patch"}))
	assert.NotNil(t, buildWhere(Filters{MaxComplexity: 3}))
	assert.NotNil(t, buildWhere(Filters{Group: "apps", Verb: "get", MaxComplexity: 2}))
}

func TestParseMetadataFromGraphQLObject(t *testing.T) {
	obj := map[string]interface{}{
		"capId":        "cap-abc",
		"name":         "deployments",
		"group":        "apps",
		"version":      "v1",
		"kind":         "Deployment",
		"description":  "Manages replicated workloads",
		"capabilities": []interface{}{"workload", "scaling"},
		"verbs":        []interface{}{"get", "patch"},
		"complexity":   float64(2),
		"provider":     "core",
	}

	meta := parseMetadata(obj)
	assert.Equal(t, "deployments", meta.Name)
	assert.Equal(t, "apps", meta.Group)
	assert.Equal(t, "v1", meta.Version)
	assert.Equal(t, "Deployment", meta.Kind)
	assert.Equal(t, []string{"workload", "scaling"}, meta.Capabilities)
	assert.Equal(t, []string{"get", "patch"}, meta.Verbs)
	assert.Equal(t, 2, meta.Complexity)
	assert.Equal(t, "core", meta.Provider)
}

func TestParseMetadataTolerantOfMissingFields(t *testing.T) {
	meta := parseMetadata(map[string]interface{}{"kind": "Pod"})
	assert.Equal(t, "Pod", meta.Kind)
	assert.Empty(t, meta.Group)
	assert.Nil(t, meta.Verbs)
	assert.Zero(t, meta.Complexity)
}

func TestAdditionalFieldExtraction(t *testing.T) {
	obj := map[string]interface{}{
		"_additional": map[string]interface{}{
			"certainty": 0.92,
			"vector":    []interface{}{0.1, 0.2, 0.3},
		},
	}

	assert.InDelta(t, 0.92, additionalFloat(obj, "certainty"), 1e-9)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, additionalVector(obj))

	// No _additional block at all.
	assert.Zero(t, additionalFloat(map[string]interface{}{}, "certainty"))
	assert.Nil(t, additionalVector(map[string]interface{}{}))
}

func TestPropertiesForCarriesAllMetadata(t *testing.T) {
	meta := Metadata{
		Name:         "cronjobs",
		Group:        "batch",
		Version:      "v1",
		Kind:         "CronJob",
		Description:  "Scheduled batch workloads",
		Capabilities: []string{"batch", "scheduling"},
		Verbs:        []string{"get", "create"},
		Complexity:   3,
		Provider:     "core",
	}

	props := propertiesFor("cap-abc", meta)
	assert.Equal(t, "cap-abc", props["capId"])
	assert.Equal(t, "cronjobs", props["name"])
	assert.Equal(t, "batch", props["group"])
	assert.Equal(t, "CronJob", props["kind"])
	assert.Equal(t, 3, props["complexity"])
	assert.NotZero(t, props["indexedAt"])
}
