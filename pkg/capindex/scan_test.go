package capindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/llm"
	"kubepilot/pkg/vectorstore"
)

func apiResourcesFixture(rows ...[7]string) string {
	var b strings.Builder
	write := func(cols [7]string) {
		fmt.Fprintf(&b, "%-24s%-13s%-22s%-13s%-26s%-64s%s\n",
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6])
	}
	write([7]string{"NAME", "SHORTNAMES", "APIVERSION", "NAMESPACED", "KIND", "VERBS", "CATEGORIES"})
	for _, row := range rows {
		write(row)
	}
	return b.String()
}

const allVerbs = "[create delete deletecollection get list patch update watch]"

func TestParseAPIResources(t *testing.T) {
	out := apiResourcesFixture(
		[7]string{"bindings", "", "v1", "true", "Binding", "[create]", ""},
		[7]string{"configmaps", "cm", "v1", "true", "ConfigMap", allVerbs, ""},
		[7]string{"deployments", "deploy", "apps/v1", "true", "Deployment", allVerbs, "all"},
		[7]string{"certificates", "cert,certs", "cert-manager.io/v1", "true", "Certificate", allVerbs, ""},
		[7]string{"nodes", "no", "v1", "false", "Node", allVerbs, ""},
	)

	schemas, skipped, err := ParseAPIResources(out)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, schemas, 5)

	byKind := make(map[string]ResourceSchema, len(schemas))
	for _, s := range schemas {
		byKind[s.Kind] = s
	}

	dep := byKind["Deployment"]
	assert.Equal(t, "deployments", dep.Name)
	assert.Equal(t, "apps", dep.Group)
	assert.Equal(t, "v1", dep.Version)
	assert.True(t, dep.Namespaced)
	assert.Equal(t, []string{"deploy"}, dep.ShortNames)
	assert.Len(t, dep.Verbs, 8)
	assert.Contains(t, dep.Verbs, "deletecollection")
	assert.Equal(t, []string{"all"}, dep.Categories)

	cert := byKind["Certificate"]
	assert.Equal(t, "cert-manager.io", cert.Group)
	assert.Equal(t, []string{"cert", "certs"}, cert.ShortNames)

	bind := byKind["Binding"]
	assert.Equal(t, []string{"create"}, bind.Verbs)
	assert.Empty(t, bind.ShortNames)

	assert.False(t, byKind["Node"].Namespaced)
}

func TestParseAPIResourcesCountsMalformedRows(t *testing.T) {
	out := apiResourcesFixture(
		[7]string{"deployments", "deploy", "apps/v1", "true", "Deployment", allVerbs, "all"},
		[7]string{"broken", "", "", "true", "", "[get]", ""},
	)

	schemas, skipped, err := ParseAPIResources(out)
	require.NoError(t, err)
	assert.Len(t, schemas, 1)
	assert.Equal(t, 1, skipped)
}

func TestParseAPIResourcesRejectsUnknownHeader(t *testing.T) {
	_, _, err := ParseAPIResources("NAME   SHORTNAMES   APIGROUP   NAMESPACED   KIND\npods      v1   true   Pod\n")
	assert.Error(t, err)

	_, _, err = ParseAPIResources("")
	assert.Error(t, err)
}

const deploymentExplain = `KIND:       Deployment
VERSION:    apps/v1

DESCRIPTION:
     Deployment enables declarative updates for Pods and
     ReplicaSets.

FIELDS:
   apiVersion	<string>
     APIVersion defines the versioned schema of this representation of an
     object.
`

func TestParseExplainDescription(t *testing.T) {
	desc := parseExplainDescription(deploymentExplain)
	assert.Equal(t, "Deployment enables declarative updates for Pods and ReplicaSets.", desc)
}

func TestParseExplainDescriptionStopsAtSecondParagraph(t *testing.T) {
	out := "DESCRIPTION:\n     First paragraph line one\n     and line two.\n\n     Second paragraph should not appear.\n"
	assert.Equal(t, "First paragraph line one and line two.", parseExplainDescription(out))
}

func TestParseExplainDescriptionTruncates(t *testing.T) {
	long := "DESCRIPTION:\n     " + strings.Repeat("word ", 200) + "\n"
	desc := parseExplainDescription(long)

	assert.LessOrEqual(t, len(desc), maxDescriptionLen+3)
	assert.True(t, strings.HasSuffix(desc, "..."))
}

func TestParseExplainDescriptionMissingSection(t *testing.T) {
	assert.Empty(t, parseExplainDescription("KIND: Pod\nVERSION: v1\n"))
	assert.Empty(t, parseExplainDescription(""))
}

type fakeInspector struct {
	apiResources string
	apiErr       error
	explains     map[string]string
	explainErr   error
	crds         string
	crdErr       error

	explainCalls []string
}

func (f *fakeInspector) APIResources(context.Context) (string, error) {
	return f.apiResources, f.apiErr
}

func (f *fakeInspector) Explain(_ context.Context, resource string) (string, error) {
	f.explainCalls = append(f.explainCalls, resource)
	if f.explainErr != nil {
		return "", f.explainErr
	}
	return f.explains[resource], nil
}

func (f *fakeInspector) CustomResourceDefinitions(context.Context) (string, error) {
	return f.crds, f.crdErr
}

func TestScannerScan(t *testing.T) {
	inspector := &fakeInspector{
		apiResources: apiResourcesFixture(
			[7]string{"deployments", "deploy", "apps/v1", "true", "Deployment", allVerbs, "all"},
			[7]string{"certificates", "cert,certs", "cert-manager.io/v1", "true", "Certificate", allVerbs, ""},
			[7]string{"broken", "", "", "true", "", "[get]", ""},
		),
		explains: map[string]string{"deployments": deploymentExplain},
		crds:     `{"items":[{"spec":{"group":"cert-manager.io"}}]}`,
	}
	store := vectorstore.NewMemory()
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(0))
	scanner := NewScanner(inspector, ix)

	report, err := scanner.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, inspector.explainCalls, "deployments")

	dep, err := ix.GetByName(context.Background(), "apps", "v1", "Deployment")
	require.NoError(t, err)
	assert.Contains(t, dep.Description, "declarative updates")

	cert, err := ix.GetByName(context.Background(), "cert-manager.io", "v1", "Certificate")
	require.NoError(t, err)
	assert.Equal(t, "cert-manager.io", cert.Provider)
}

func TestScannerToleratesExplainFailure(t *testing.T) {
	inspector := &fakeInspector{
		apiResources: apiResourcesFixture(
			[7]string{"deployments", "deploy", "apps/v1", "true", "Deployment", allVerbs, "all"},
		),
		explainErr: errors.New("explain unavailable"),
	}
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	report, err := NewScanner(inspector, ix).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	dep, err := ix.GetByName(context.Background(), "apps", "v1", "Deployment")
	require.NoError(t, err)
	assert.NotEmpty(t, dep.Description, "fallback description fills in")
}

func TestScannerDiscoveryFailure(t *testing.T) {
	inspector := &fakeInspector{apiErr: errors.New("connection refused")}
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	_, err := NewScanner(inspector, ix).Scan(context.Background())
	assert.Error(t, err)
}

func TestScannerIndexFailureReported(t *testing.T) {
	inspector := &fakeInspector{
		apiResources: apiResourcesFixture(
			[7]string{"deployments", "deploy", "apps/v1", "true", "Deployment", allVerbs, "all"},
		),
	}
	embedder := &countingEmbedder{
		Embedder:  llm.NewMockEmbedder(8),
		failFirst: 10,
		failWith:  errors.New("model timeout"),
	}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(0))

	report, err := NewScanner(inspector, ix).Scan(context.Background())
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Indexed)
	assert.NotEmpty(t, report.Failures)
}
