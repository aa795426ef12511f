// Package vectorstore persists capability embeddings and answers
// similarity queries over them. The production backend is weaviate;
// Memory provides the same contract for tests and degraded operation.
package vectorstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record carries the given id.
var ErrNotFound = errors.New("vectorstore: record not found")

// Metadata describes one indexed cluster resource type. Fields map 1:1
// onto weaviate class properties.
type Metadata struct {
	Name         string   // Plural resource name, e.g. "deployments"
	Group        string   // API group, "" for core
	Version      string   // API version, e.g. "v1"
	Kind         string   // Kind, e.g. "Deployment"
	Description  string   // Human-readable purpose summary
	Capabilities []string // Semantic tags, e.g. "workload", "scaling"
	Verbs        []string // Supported verbs, e.g. "get", "patch"
	Complexity   int      // Rating 1 (trivial) to 5 (expert)
	Provider     string   // Affinity, e.g. "core", "crd", vendor name
}

// Record is a stored entry: id, its embedding, and its metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Hit is one similarity-search result. Score is a certainty in [0, 1],
// higher is closer.
type Hit struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filters narrow a similarity search. Zero values mean "no constraint".
type Filters struct {
	Group         string // Exact API group match
	Verb          string // Record must support this verb
	MaxComplexity int    // Record complexity must be <= this rating
}

// Store is the persistence contract for capability embeddings.
// Upsert with an existing id replaces the record.
type Store interface {
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error
	Search(ctx context.Context, vector []float32, f Filters, limit int) ([]Hit, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}
