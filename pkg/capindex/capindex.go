// Package capindex maintains the semantic capability index: one record
// per cluster resource type, embedded and searchable by natural-language
// intent. Records carry deterministic identifiers so repeated scans
// supersede rather than duplicate.
package capindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/llm/llmerrors"
	"kubepilot/pkg/logx"
	"kubepilot/pkg/vectorstore"
)

// ErrMalformedSchema marks input the index refuses to ingest. Not
// retryable: the same schema fails the same way every time.
var ErrMalformedSchema = errors.New("capindex: malformed resource schema")

const (
	// embedBatchSize bounds how many description documents go to the
	// model service in one embedding call.
	embedBatchSize = 16

	// searchOverfetch widens the vector query so ranking boosts can
	// promote hits from beyond the requested window.
	searchOverfetch = 3

	// DefaultSearchLimit applies when a caller passes limit <= 0.
	DefaultSearchLimit = 5
)

// Filters narrow searches; re-exported so callers need not import the
// storage layer.
type Filters = vectorstore.Filters

// ResourceSchema is one discovered resource type, as reported by the
// cluster API discovery surface.
type ResourceSchema struct {
	Name        string // Plural resource name, e.g. "deployments"
	Group       string // API group, "" for the core group
	Version     string // API version, e.g. "v1"
	Kind        string // Kind, e.g. "Deployment"
	Namespaced  bool
	ShortNames  []string
	Verbs       []string
	Categories  []string // Discovery categories, e.g. "all"
	Description string   // Schema documentation, may be empty
	Provider    string   // Affinity, filled during scans; "" = infer
}

// Validate reports whether the schema carries enough identity to index.
func (s ResourceSchema) Validate() error {
	if strings.TrimSpace(s.Kind) == "" {
		return fmt.Errorf("%w: missing kind", ErrMalformedSchema)
	}
	if strings.TrimSpace(s.Version) == "" {
		return fmt.Errorf("%w: missing version for kind %s", ErrMalformedSchema, s.Kind)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: missing resource name for kind %s", ErrMalformedSchema, s.Kind)
	}
	return nil
}

// CapabilityRecord is the indexed semantic description of one resource
// type.
type CapabilityRecord struct {
	ID           string
	Name         string
	Group        string
	Version      string
	Kind         string
	Description  string
	Capabilities []string
	Verbs        []string
	Complexity   int
	Provider     string
	Vector       []float32
}

// SearchResult pairs a record with its ranking score. Vector is not
// populated on search results.
type SearchResult struct {
	CapabilityRecord
	Score float64
}

// CapabilityID derives the record identifier from the qualified resource
// name. It is a pure function: listing and direct lookup agree on it.
func CapabilityID(group, version, kind string) string {
	qualified := strings.ToLower(fmt.Sprintf("%s/%s/%s", group, version, kind))
	sum := sha256.Sum256([]byte(qualified))
	return "cap-" + hex.EncodeToString(sum[:10])
}

// Config tunes an Index. The zero value is usable.
type Config struct {
	Ranker  Ranker         // nil selects DefaultRanker
	Retries int            // Retry count for transient embed/store failures
	Backoff backoff.Config // Zero value selects backoff.DefaultConfig
}

// Index ties the embedding model and the vector store together behind
// the capability operations.
type Index struct {
	store    vectorstore.Store
	embedder llm.Embedder
	ranker   Ranker
	retries  int
	delays   backoff.Config
	logger   *logx.Logger
}

// New builds an Index over the given store and embedder.
func New(store vectorstore.Store, embedder llm.Embedder, cfg Config) *Index {
	ranker := cfg.Ranker
	if ranker == nil {
		ranker = DefaultRanker
	}
	delays := cfg.Backoff
	if delays == (backoff.Config{}) {
		delays = backoff.DefaultConfig
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Index{
		store:    store,
		embedder: embedder,
		ranker:   ranker,
		retries:  retries,
		delays:   delays,
		logger:   logx.NewLogger("capindex"),
	}
}

// Index validates, embeds, and upserts one schema. Malformed schemas
// fail immediately with ErrMalformedSchema; transient embed/store
// failures are retried.
func (ix *Index) Index(ctx context.Context, schema ResourceSchema) (*CapabilityRecord, error) {
	records, err := ix.IndexBatch(ctx, []ResourceSchema{schema})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// IndexBatch indexes several schemas, embedding their description
// documents in chunks so a cluster scan costs one model call per
// embedBatchSize resources. All schemas must validate. On embed or
// store failure the records already written are returned alongside the
// error.
func (ix *Index) IndexBatch(ctx context.Context, schemas []ResourceSchema) ([]*CapabilityRecord, error) {
	for _, schema := range schemas {
		if err := schema.Validate(); err != nil {
			return nil, err
		}
	}

	indexed := make([]*CapabilityRecord, 0, len(schemas))
	for start := 0; start < len(schemas); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(schemas) {
			end = len(schemas)
		}
		chunk := schemas[start:end]

		records := make([]*CapabilityRecord, len(chunk))
		docs := make([]string, len(chunk))
		for i, schema := range chunk {
			records[i] = newRecord(schema)
			docs[i] = describeDocument(records[i])
		}

		vectors, err := backoff.RetryValue(ctx, ix.retries, ix.delays, retryable,
			func(ctx context.Context) ([][]float32, error) {
				return ix.embedder.Embed(ctx, docs)
			})
		if err != nil {
			return indexed, fmt.Errorf("embed %d capability documents: %w", len(docs), err)
		}
		if len(vectors) != len(docs) {
			return indexed, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
		}

		for i, rec := range records {
			rec.Vector = vectors[i]
			err := backoff.Retry(ctx, ix.retries, ix.delays, retryable,
				func(ctx context.Context) error {
					return ix.store.Upsert(ctx, rec.ID, rec.Vector, metadataFor(rec))
				})
			if err != nil {
				return indexed, fmt.Errorf("store capability %s: %w", rec.ID, err)
			}
			indexed = append(indexed, rec)
		}
	}

	ix.logger.Debug("indexed %d capability records", len(indexed))
	return indexed, nil
}

// Search embeds the query, runs a filtered vector search, and hands the
// hits to the ranker. Results come back ordered by descending score.
func (ix *Index) Search(ctx context.Context, query string, f Filters, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vectors, err := backoff.RetryValue(ctx, ix.retries, ix.delays, retryable,
		func(ctx context.Context) ([][]float32, error) {
			return ix.embedder.Embed(ctx, []string{query})
		})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	hits, err := backoff.RetryValue(ctx, ix.retries, ix.delays, retryable,
		func(ctx context.Context) ([]vectorstore.Hit, error) {
			return ix.store.Search(ctx, vectors[0], f, limit*searchOverfetch)
		})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ranked := ix.ranker(query, f, hits)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]SearchResult, len(ranked))
	for i, hit := range ranked {
		results[i] = SearchResult{
			CapabilityRecord: recordFromMetadata(hit.ID, hit.Metadata),
			Score:            hit.Score,
		}
	}
	return results, nil
}

// Get returns the record stored under id. vectorstore.ErrNotFound passes
// through for absence checks.
func (ix *Index) Get(ctx context.Context, id string) (*CapabilityRecord, error) {
	stored, err := ix.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := recordFromMetadata(stored.ID, stored.Metadata)
	rec.Vector = stored.Vector
	return &rec, nil
}

// GetByName resolves the qualified resource name to its deterministic id
// and looks that up, so listing and direct lookup always agree.
func (ix *Index) GetByName(ctx context.Context, group, version, kind string) (*CapabilityRecord, error) {
	return ix.Get(ctx, CapabilityID(group, version, kind))
}

// List returns every indexed record.
func (ix *Index) List(ctx context.Context) ([]CapabilityRecord, error) {
	stored, err := ix.store.List(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]CapabilityRecord, len(stored))
	for i, s := range stored {
		records[i] = recordFromMetadata(s.ID, s.Metadata)
		records[i].Vector = s.Vector
	}
	return records, nil
}

// Delete removes one record.
func (ix *Index) Delete(ctx context.Context, id string) error {
	return ix.store.Delete(ctx, id)
}

// DeleteAll clears the index.
func (ix *Index) DeleteAll(ctx context.Context) error {
	return ix.store.DeleteAll(ctx)
}

// retryable classifies failures for the backoff loop. Model-service
// errors carry their own taxonomy; everything else falls back to the
// generic classifier.
func retryable(err error) bool {
	var lerr *llmerrors.Error
	if errors.As(err, &lerr) {
		return llmerrors.IsRetryable(err)
	}
	return backoff.IsRetryable(err)
}

// newRecord derives the full capability record from a validated schema.
func newRecord(schema ResourceSchema) *CapabilityRecord {
	desc := strings.TrimSpace(schema.Description)
	if desc == "" {
		desc = fallbackDescription(schema)
	}
	return &CapabilityRecord{
		ID:           CapabilityID(schema.Group, schema.Version, schema.Kind),
		Name:         schema.Name,
		Group:        schema.Group,
		Version:      schema.Version,
		Kind:         schema.Kind,
		Description:  desc,
		Capabilities: capabilityTags(schema),
		Verbs:        normalizeVerbs(schema.Verbs),
		Complexity:   complexityOf(schema),
		Provider:     providerOf(schema),
	}
}

// describeDocument renders the text that gets embedded. Everything the
// ranker boosts on must appear here so vector similarity and keyword
// signals agree.
func describeDocument(rec *CapabilityRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, resource %s): %s", rec.Kind, qualifiedVersion(rec.Group, rec.Version), rec.Name, rec.Description)
	if len(rec.Capabilities) > 0 {
		fmt.Fprintf(&b, " Capabilities: %s.", strings.Join(rec.Capabilities, ", "))
	}
	if len(rec.Verbs) > 0 {
		fmt.Fprintf(&b, " Supported verbs: %s.", strings.Join(rec.Verbs, ", "))
	}
	return b.String()
}

func qualifiedVersion(group, version string) string {
	if group == "" {
		return version
	}
	return group + "/" + version
}

func fallbackDescription(schema ResourceSchema) string {
	scope := "cluster-scoped"
	if schema.Namespaced {
		scope = "namespaced"
	}
	if schema.Group == "" {
		return fmt.Sprintf("%s is a %s core resource.", schema.Kind, scope)
	}
	return fmt.Sprintf("%s is a %s resource from the %s API group.", schema.Kind, scope, schema.Group)
}

func normalizeVerbs(verbs []string) []string {
	out := make([]string, 0, len(verbs))
	for _, v := range verbs {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func metadataFor(rec *CapabilityRecord) vectorstore.Metadata {
	return vectorstore.Metadata{
		Name:         rec.Name,
		Group:        rec.Group,
		Version:      rec.Version,
		Kind:         rec.Kind,
		Description:  rec.Description,
		Capabilities: rec.Capabilities,
		Verbs:        rec.Verbs,
		Complexity:   rec.Complexity,
		Provider:     rec.Provider,
	}
}

func recordFromMetadata(id string, meta vectorstore.Metadata) CapabilityRecord {
	return CapabilityRecord{
		ID:           id,
		Name:         meta.Name,
		Group:        meta.Group,
		Version:      meta.Version,
		Kind:         meta.Kind,
		Description:  meta.Description,
		Capabilities: meta.Capabilities,
		Verbs:        meta.Verbs,
		Complexity:   meta.Complexity,
		Provider:     meta.Provider,
	}
}
