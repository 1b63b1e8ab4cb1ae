package vectordb

import (
	"slices"
	"sort"
	"strings"
)

// rank drops results below threshold, orders the rest by similarity with
// ties broken by insertion order, and caps them at topK.
func rank(results []Result, threshold float32, topK int) []Result {
	kept := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Similarity >= threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Chunk.IndexedAt.Equal(b.Chunk.IndexedAt) {
			return a.Chunk.IndexedAt.Before(b.Chunk.IndexedAt)
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// coversTies reports whether a best-first result list fetched with limit
// already holds every candidate tied with its topK-th similarity. When it
// does not, the cut may have dropped an equal-scoring, earlier-inserted
// chunk and the caller must fetch more.
func coversTies(sims []float32, limit, topK int) bool {
	if len(sims) < limit || len(sims) < topK {
		return true
	}
	return sims[len(sims)-1] < sims[topK-1]
}

// NormalizeTags lowercases, trims and de-duplicates tags, preserving order.
func NormalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
