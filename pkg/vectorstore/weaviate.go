package vectorstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"kubepilot/pkg/logx"
)

// DefaultClass is the weaviate class holding capability records.
const DefaultClass = "ClusterCapability"

// listLimit bounds List queries. Clusters top out at a few hundred
// resource types even with heavy CRD use.
const listLimit = 10000

// WeaviateStore implements Store against a weaviate instance with
// client-side vectors (vectorizer "none").
type WeaviateStore struct {
	client *weaviate.Client
	class  string
	logger *logx.Logger
}

var _ Store = (*WeaviateStore)(nil)

// NewWeaviate connects to the weaviate instance at rawURL
// (e.g. "http://localhost:8080"). An empty class selects DefaultClass.
// The class schema is not touched here; call EnsureSchema before first use.
func NewWeaviate(rawURL, class string) (*WeaviateStore, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if class == "" {
		class = DefaultClass
	}
	return &WeaviateStore{
		client: client,
		class:  class,
		logger: logx.NewLogger("vectorstore"),
	}, nil
}

// Ready reports whether the weaviate instance answers its readiness probe.
func (s *WeaviateStore) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness probe: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate at class %s not ready", s.class)
	}
	return nil
}

// EnsureSchema creates the capability class if it does not exist yet.
// Idempotent.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx); err == nil {
		s.logger.Debug("weaviate class %s already exists", s.class)
		return nil
	}
	s.logger.Info("creating weaviate class %s", s.class)
	if err := s.client.Schema().ClassCreator().WithClass(s.classSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	return nil
}

// classSchema builds the capability class definition. Vectors are
// supplied by the caller, so the vectorizer is disabled.
func (s *WeaviateStore) classSchema() *models.Class {
	filterable := new(bool)
	*filterable = true

	return &models.Class{
		Class:       s.class,
		Description: "Semantic index of cluster resource types",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "capId",
				DataType:        []string{"text"},
				Description:     "Deterministic capability identifier",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:            "name",
				DataType:        []string{"text"},
				Description:     "Plural resource name",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:            "group",
				DataType:        []string{"text"},
				Description:     "API group, empty for core",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:         "version",
				DataType:     []string{"text"},
				Description:  "API version",
				Tokenization: "field",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Resource kind",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:         "description",
				DataType:     []string{"text"},
				Description:  "Human-readable purpose summary",
				Tokenization: "word",
			},
			{
				Name:         "capabilities",
				DataType:     []string{"text[]"},
				Description:  "Semantic capability tags",
				Tokenization: "word",
			},
			{
				Name:            "verbs",
				DataType:        []string{"text[]"},
				Description:     "Supported API verbs",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:            "complexity",
				DataType:        []string{"int"},
				Description:     "Operational complexity rating 1-5",
				IndexFilterable: filterable,
			},
			{
				Name:            "provider",
				DataType:        []string{"text"},
				Description:     "Provider affinity",
				IndexFilterable: filterable,
				Tokenization:    "field",
			},
			{
				Name:        "indexedAt",
				DataType:    []string{"int"},
				Description: "Unix millis of last upsert",
			},
		},
	}
}

// Upsert writes the record under a UUID derived from id, so re-indexing
// the same capability replaces the previous object.
func (s *WeaviateStore) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if id == "" {
		return fmt.Errorf("empty record id")
	}
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for %s", id)
	}

	obj := &models.Object{
		Class:      s.class,
		ID:         objectUUID(id),
		Vector:     vector,
		Properties: propertiesFor(id, meta),
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("upsert %s: %s", id, item.Result.Errors.Error[0].Message)
		}
	}
	s.logger.Debug("upserted capability %s (%s)", id, meta.Kind)
	return nil
}

// Search runs a nearVector query and returns hits ordered by descending
// certainty, as weaviate returns them.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, f Filters, limit int) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	fields := append(metadataFields(),
		graphql.Field{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	)

	near := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	query := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(near).
		WithLimit(limit)
	if where := buildWhere(f); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	objects := s.resultObjects(result.Data["Get"])
	hits := make([]Hit, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			ID:       getString(obj, "capId"),
			Score:    additionalFloat(obj, "certainty"),
			Metadata: parseMetadata(obj),
		})
	}
	return hits, nil
}

// Get looks up a single record by its capability id.
func (s *WeaviateStore) Get(ctx context.Context, id string) (*Record, error) {
	records, err := s.fetch(ctx, whereCapID(id), 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("capability %s: %w", id, ErrNotFound)
	}
	return &records[0], nil
}

// List returns every stored record.
func (s *WeaviateStore) List(ctx context.Context) ([]Record, error) {
	return s.fetch(ctx, nil, listLimit)
}

// fetch runs a plain (non-vector) Get query, including stored vectors.
func (s *WeaviateStore) fetch(ctx context.Context, where *filters.WhereBuilder, limit int) ([]Record, error) {
	fields := append(metadataFields(),
		graphql.Field{Name: "_additional", Fields: []graphql.Field{
			{Name: "vector"},
		}},
	)

	query := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithLimit(limit)
	if where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query: %s", result.Errors[0].Message)
	}

	objects := s.resultObjects(result.Data["Get"])
	records := make([]Record, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		records = append(records, Record{
			ID:       getString(obj, "capId"),
			Vector:   additionalVector(obj),
			Metadata: parseMetadata(obj),
		})
	}
	return records, nil
}

// Delete removes the record with the given capability id. Deleting an
// absent id is not an error.
func (s *WeaviateStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithWhere(whereCapID(id)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteAll drops the class and recreates it empty.
func (s *WeaviateStore) DeleteAll(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(s.class).Do(ctx); err != nil {
		return fmt.Errorf("drop class %s: %w", s.class, err)
	}
	s.logger.Info("dropped weaviate class %s", s.class)
	return s.EnsureSchema(ctx)
}

// resultObjects digs the object list for our class out of the "Get"
// payload of a GraphQL response. Missing levels mean an empty result,
// not an error.
func (s *WeaviateStore) resultObjects(payload interface{}) []interface{} {
	get, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[s.class].([]interface{})
	if !ok {
		return nil
	}
	return objects
}

// objectUUID derives a stable weaviate object UUID from a capability id,
// giving batch writes replace-on-conflict semantics.
func objectUUID(id string) strfmt.UUID {
	sum := sha256.Sum256([]byte(id))
	u, _ := uuid.FromBytes(sum[:16])
	return strfmt.UUID(u.String())
}

func propertiesFor(id string, meta Metadata) map[string]interface{} {
	return map[string]interface{}{
		"capId":        id,
		"name":         meta.Name,
		"group":        meta.Group,
		"version":      meta.Version,
		"kind":         meta.Kind,
		"description":  meta.Description,
		"capabilities": meta.Capabilities,
		"verbs":        meta.Verbs,
		"complexity":   meta.Complexity,
		"provider":     meta.Provider,
		"indexedAt":    time.Now().UnixMilli(),
	}
}

func metadataFields() []graphql.Field {
	return []graphql.Field{
		{Name: "capId"},
		{Name: "name"},
		{Name: "group"},
		{Name: "version"},
		{Name: "kind"},
		{Name: "description"},
		{Name: "capabilities"},
		{Name: "verbs"},
		{Name: "complexity"},
		{Name: "provider"},
	}
}

func whereCapID(id string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"capId"}).
		WithOperator(filters.Equal).
		WithValueString(id)
}

// buildWhere translates Filters into a weaviate where clause. Equal on a
// text[] property matches when any element equals the value, which gives
// the verb constraint containment semantics.
func buildWhere(f Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if f.Group != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"group"}).
			WithOperator(filters.Equal).
			WithValueString(f.Group))
	}
	if f.Verb != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"verbs"}).
			WithOperator(filters.Equal).
			WithValueString(f.Verb))
	}
	if f.MaxComplexity > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"complexity"}).
			WithOperator(filters.LessThanEqual).
			WithValueInt(int64(f.MaxComplexity)))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

func parseMetadata(obj map[string]interface{}) Metadata {
	return Metadata{
		Name:         getString(obj, "name"),
		Group:        getString(obj, "group"),
		Version:      getString(obj, "version"),
		Kind:         getString(obj, "kind"),
		Description:  getString(obj, "description"),
		Capabilities: getStrings(obj, "capabilities"),
		Verbs:        getStrings(obj, "verbs"),
		Complexity:   getInt(obj, "complexity"),
		Provider:     getString(obj, "provider"),
	}
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// getInt reads a numeric property. GraphQL JSON delivers ints as float64.
func getInt(m map[string]interface{}, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}

func additionalFloat(obj map[string]interface{}, key string) float64 {
	add, ok := obj["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	if f, ok := add[key].(float64); ok {
		return f
	}
	return 0
}

func additionalVector(obj map[string]interface{}) []float32 {
	add, ok := obj["_additional"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := add["vector"].([]interface{})
	if !ok {
		return nil
	}
	vec := make([]float32, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			vec = append(vec, float32(f))
		}
	}
	return vec
}
