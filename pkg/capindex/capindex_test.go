package capindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/llm/llmerrors"
	"kubepilot/pkg/vectorstore"
)

// countingEmbedder fails its first failFirst calls, then delegates.
type countingEmbedder struct {
	llm.Embedder
	calls     int
	failFirst int
	failWith  error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failFirst {
		return nil, e.failWith
	}
	return e.Embedder.Embed(ctx, texts)
}

// keywordEmbedder gives texts a one-hot-ish vector per keyword they
// contain, making similarity outcomes fully predictable.
type keywordEmbedder struct {
	keywords []string
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		vec := make([]float32, len(e.keywords))
		for j, k := range e.keywords {
			if strings.Contains(lower, k) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (e *keywordEmbedder) GetModelName() string { return "keyword-embedder" }

// failingStore fails its first failFirst upserts, then delegates.
type failingStore struct {
	vectorstore.Store
	upserts   int
	failFirst int
	failWith  error
}

func (s *failingStore) Upsert(ctx context.Context, id string, vector []float32, meta vectorstore.Metadata) error {
	s.upserts++
	if s.upserts <= s.failFirst {
		return s.failWith
	}
	return s.Store.Upsert(ctx, id, vector, meta)
}

func fastConfig(retries int) Config {
	return Config{
		Retries: retries,
		Backoff: backoff.Config{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func deploymentSchema() ResourceSchema {
	return ResourceSchema{
		Name:        "deployments",
		Group:       "apps",
		Version:     "v1",
		Kind:        "Deployment",
		Namespaced:  true,
		ShortNames:  []string{"deploy"},
		Verbs:       []string{"create", "delete", "get", "list", "PATCH", "update", "watch"},
		Categories:  []string{"all"},
		Description: "Deployment enables declarative updates for Pods and ReplicaSets.",
	}
}

func certificateSchema() ResourceSchema {
	return ResourceSchema{
		Name:        "certificates",
		Group:       "cert-manager.io",
		Version:     "v1",
		Kind:        "Certificate",
		Namespaced:  true,
		Verbs:       []string{"create", "delete", "get", "list", "patch", "update", "watch"},
		Description: "A Certificate resource requests a signed certificate from an issuer.",
	}
}

func TestCapabilityID(t *testing.T) {
	id := CapabilityID("apps", "v1", "Deployment")
	assert.Regexp(t, `^cap-[0-9a-f]{20}$`, id)

	// Pure function of the qualified name, case-insensitive.
	assert.Equal(t, id, CapabilityID("apps", "v1", "Deployment"))
	assert.Equal(t, id, CapabilityID("Apps", "V1", "deployment"))

	assert.NotEqual(t, id, CapabilityID("apps", "v1", "StatefulSet"))
	assert.NotEqual(t, id, CapabilityID("apps", "v2", "Deployment"))
	assert.NotEqual(t, id, CapabilityID("", "v1", "Deployment"))
}

func TestResourceSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ResourceSchema)
		wantErr bool
	}{
		{"valid", func(*ResourceSchema) {}, false},
		{"missing kind", func(s *ResourceSchema) { s.Kind = "" }, true},
		{"whitespace kind", func(s *ResourceSchema) { s.Kind = "  " }, true},
		{"missing version", func(s *ResourceSchema) { s.Version = "" }, true},
		{"missing name", func(s *ResourceSchema) { s.Name = "" }, true},
		{"empty group is fine", func(s *ResourceSchema) { s.Group = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := deploymentSchema()
			tt.mutate(&schema)
			err := schema.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedSchema)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIndexStoresRecord(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(0))

	rec, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)

	assert.Equal(t, CapabilityID("apps", "v1", "Deployment"), rec.ID)
	assert.Equal(t, "Deployment", rec.Kind)
	assert.Equal(t, "apps", rec.Group)
	assert.Contains(t, rec.Capabilities, "workload")
	assert.Contains(t, rec.Capabilities, "scaling")
	assert.NotContains(t, rec.Capabilities, "all")
	assert.Contains(t, rec.Verbs, "patch", "verbs normalize to lower case")
	assert.Equal(t, 2, rec.Complexity)
	assert.Equal(t, "core", rec.Provider)
	assert.NotEmpty(t, rec.Vector)

	stored, err := ix.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Description, stored.Description)
	assert.Equal(t, rec.Capabilities, stored.Capabilities)
}

func TestIndexCustomResourceClassification(t *testing.T) {
	ctx := context.Background()
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	rec, err := ix.Index(ctx, certificateSchema())
	require.NoError(t, err)

	assert.Equal(t, "cert-manager.io", rec.Provider)
	assert.Contains(t, rec.Capabilities, "custom-resource")
	assert.Contains(t, rec.Capabilities, "operator")
	assert.Contains(t, rec.Capabilities, "tls")
}

func TestIndexMalformedSchemaFailsFast(t *testing.T) {
	embedder := &countingEmbedder{Embedder: llm.NewMockEmbedder(8)}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(3))

	schema := deploymentSchema()
	schema.Kind = ""
	_, err := ix.Index(context.Background(), schema)

	assert.ErrorIs(t, err, ErrMalformedSchema)
	assert.Zero(t, embedder.calls, "malformed schemas never reach the model service")
}

func TestIndexSupersedesOnReindex(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(0))

	first, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)

	updated := deploymentSchema()
	updated.Description = "Updated description after rescan."
	second, err := ix.Index(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.Len(), "rescans supersede, never duplicate")

	got, err := ix.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated description after rescan.", got.Description)
}

func TestIndexBatchChunksEmbedCalls(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{Embedder: llm.NewMockEmbedder(8)}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(0))

	schemas := make([]ResourceSchema, 20)
	for i := range schemas {
		schemas[i] = ResourceSchema{
			Name:    fmt.Sprintf("widgets%02d", i),
			Group:   "example.io",
			Version: "v1",
			Kind:    fmt.Sprintf("Widget%02d", i),
			Verbs:   []string{"get", "list"},
		}
	}

	records, err := ix.IndexBatch(ctx, schemas)
	require.NoError(t, err)
	assert.Len(t, records, 20)
	assert.Equal(t, 2, embedder.calls, "20 schemas embed in chunks of 16")
}

func TestIndexRetriesTransientEmbedFailure(t *testing.T) {
	embedder := &countingEmbedder{
		Embedder:  llm.NewMockEmbedder(8),
		failFirst: 1,
		failWith:  llmerrors.NewRateLimitError("anthropic", errors.New("429 too many requests")),
	}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(2))

	_, err := ix.Index(context.Background(), deploymentSchema())
	require.NoError(t, err)
	assert.Equal(t, 2, embedder.calls)
}

func TestIndexGivesUpAfterRetries(t *testing.T) {
	embedder := &countingEmbedder{
		Embedder:  llm.NewMockEmbedder(8),
		failFirst: 10,
		failWith:  backoff.Transient(errors.New("model service down")),
	}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(1))

	_, err := ix.Index(context.Background(), deploymentSchema())
	assert.Error(t, err)
	assert.Equal(t, 2, embedder.calls, "retryCount 1 means two attempts")
}

func TestIndexDoesNotRetryPermanentStoreFailure(t *testing.T) {
	store := &failingStore{
		Store:     vectorstore.NewMemory(),
		failFirst: 10,
		failWith:  backoff.Permanent(errors.New("schema mismatch")),
	}
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(3))

	_, err := ix.Index(context.Background(), deploymentSchema())
	assert.Error(t, err)
	assert.Equal(t, 1, store.upserts)
}

func TestIndexRetriesTransientStoreFailure(t *testing.T) {
	store := &failingStore{
		Store:     vectorstore.NewMemory(),
		failFirst: 1,
		failWith:  backoff.Transient(errors.New("connection reset")),
	}
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(2))

	_, err := ix.Index(context.Background(), deploymentSchema())
	require.NoError(t, err)
	assert.Equal(t, 2, store.upserts)
}

func TestGetByNameMatchesIndexedID(t *testing.T) {
	ctx := context.Background()
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	rec, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)

	byName, err := ix.GetByName(ctx, "apps", "v1", "Deployment")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byName.ID)
}

func TestListResolvesToIdenticalRecords(t *testing.T) {
	ctx := context.Background()
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	_, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)
	_, err = ix.Index(ctx, certificateSchema())
	require.NoError(t, err)

	listed, err := ix.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	for _, rec := range listed {
		direct, err := ix.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, *direct)
	}
}

func TestSearchRanksNamedResourceFirst(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{keywords: []string{"deployment", "certificate"}}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(0))

	_, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)
	_, err = ix.Index(ctx, certificateSchema())
	require.NoError(t, err)

	results, err := ix.Search(ctx, "roll out a new deployment", Filters{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "Deployment", results[0].Kind)
	if len(results) > 1 {
		assert.Greater(t, results[0].Score, results[1].Score)
	}
}

func TestSearchAppliesFilters(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{keywords: []string{"deployment", "certificate"}}
	ix := New(vectorstore.NewMemory(), embedder, fastConfig(0))

	_, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)
	_, err = ix.Index(ctx, certificateSchema())
	require.NoError(t, err)

	results, err := ix.Search(ctx, "issue a tls certificate", Filters{Group: "apps"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Deployment", results[0].Kind)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	ix := New(vectorstore.NewMemory(), llm.NewMockEmbedder(8), fastConfig(0))

	_, err := ix.Search(context.Background(), "   ", Filters{}, 5)
	assert.Error(t, err)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	ix := New(store, llm.NewMockEmbedder(8), fastConfig(0))

	rec, err := ix.Index(ctx, deploymentSchema())
	require.NoError(t, err)
	_, err = ix.Index(ctx, certificateSchema())
	require.NoError(t, err)

	require.NoError(t, ix.Delete(ctx, rec.ID))
	_, err = ix.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)

	require.NoError(t, ix.DeleteAll(ctx))
	assert.Equal(t, 0, store.Len())
}
