package vectorstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store backed by a map and brute-force cosine
// similarity. It mirrors the weaviate scoring (certainty in [0, 1]) so
// tests exercise the same contract the production backend provides.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("empty record id")
	}
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = Record{
		ID:       id,
		Vector:   slices.Clone(vector),
		Metadata: meta,
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, f Filters, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.records))
	for _, rec := range m.records {
		if !matchesFilters(rec.Metadata, f) {
			continue
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Score:    certainty(vector, rec.Vector),
			Metadata: rec.Metadata,
		})
	}

	// Ties break on id so results are stable across runs.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("capability %s: %w", id, ErrNotFound)
	}
	out := rec
	out.Vector = slices.Clone(rec.Vector)
	return &out, nil
}

func (m *Memory) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Vector = slices.Clone(rec.Vector)
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

// Len reports the number of stored records. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matchesFilters(meta Metadata, f Filters) bool {
	if f.Group != "" && meta.Group != f.Group {
		return false
	}
	if f.Verb != "" && !containsFold(meta.Verbs, f.Verb) {
		return false
	}
	if f.MaxComplexity > 0 && meta.Complexity > f.MaxComplexity {
		return false
	}
	return true
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// certainty maps cosine similarity onto [0, 1] the way weaviate reports
// it: (1 + cos) / 2. Mismatched dimensions score zero.
func certainty(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (1 + cos) / 2
}
