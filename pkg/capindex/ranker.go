package capindex

import (
	"sort"
	"strings"

	"kubepilot/pkg/vectorstore"
)

// Ranker reorders raw vector hits for a query. Implementations must
// return results ordered by descending Score and may rescore but not
// invent hits. The engine swaps rankers without touching the index.
type Ranker func(query string, f Filters, hits []vectorstore.Hit) []vectorstore.Hit

// Ranking boost weights. Exact identity matches dominate tag matches;
// both stay small next to the similarity signal so the vector ordering
// only shifts between close neighbors.
const (
	exactNameBoost = 0.15
	tagMatchBoost  = 0.05
	maxTagBoost    = 0.15
)

// DefaultRanker adds keyword boosts on top of embedding similarity:
// a query naming a kind or resource outright wins over a merely similar
// one, and capability-tag mentions nudge matching records up.
func DefaultRanker(query string, _ Filters, hits []vectorstore.Hit) []vectorstore.Hit {
	terms := queryTerms(query)

	ranked := make([]vectorstore.Hit, len(hits))
	copy(ranked, hits)
	for i := range ranked {
		ranked[i].Score += nameBoost(terms, ranked[i].Metadata) + tagBoost(terms, ranked[i].Metadata)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// queryTerms lowercases and splits a query into words, stripping common
// punctuation so "Deployments?" still matches.
func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, raw := range strings.Fields(strings.ToLower(query)) {
		term := strings.Trim(raw, `.,;:!?"'()`)
		if term != "" {
			terms[term] = true
		}
	}
	return terms
}

// nameBoost rewards queries that name the record outright, by kind,
// plural resource name, or the singular form of either.
func nameBoost(terms map[string]bool, meta vectorstore.Metadata) float64 {
	candidates := []string{
		strings.ToLower(meta.Kind),
		strings.ToLower(meta.Name),
		strings.TrimSuffix(strings.ToLower(meta.Name), "s"),
	}
	for _, c := range candidates {
		if c != "" && (terms[c] || terms[c+"s"]) {
			return exactNameBoost
		}
	}
	return 0
}

// tagBoost rewards capability tags mentioned in the query, capped so a
// tag-heavy record cannot outrank an exact name match on tags alone.
func tagBoost(terms map[string]bool, meta vectorstore.Metadata) float64 {
	var boost float64
	for _, tag := range meta.Capabilities {
		if terms[strings.ToLower(tag)] {
			boost += tagMatchBoost
		}
	}
	if boost > maxTagBoost {
		boost = maxTagBoost
	}
	return boost
}
