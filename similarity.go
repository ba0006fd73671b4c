package grove

import (
	"fmt"
	"math"
	"sort"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a
// semantic_similarity relationship to be emitted.
const DefaultSimilarityThreshold = 0.8

// RelSemanticSimilarity is the relationship type emitted by similarity
// inference.
const RelSemanticSimilarity = "semantic_similarity"

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths and zero-magnitude vectors yield 0, never an error:
// malformed embeddings degrade gracefully rather than aborting a run.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// InferSimilarities computes pairwise cosine similarity over all resolvable
// embeddings and returns semantic_similarity relationships for pairs at or
// above threshold. Embeddings whose symbol key has no durable id are skipped
// silently — partial extraction is expected, not an error.
//
// Cost is O(n²) in the number of symbols with embeddings; for large projects
// this dominates the enrichment pass. Any future bucketing optimization must
// preserve the threshold semantics (it may only omit far pairs).
//
// Output invariants: for each unordered pair at most one relationship is
// emitted, with FromSymbolID < ToSymbolID (canonical pair ordering).
func InferSimilarities(embeddings []Embedding, keyToID map[string]int64, threshold float64) []InferredRelationship {
	type ref struct {
		id   int64
		vec  []float64
		dims int
	}
	refs := make([]ref, 0, len(embeddings))
	for _, emb := range embeddings {
		id, ok := keyToID[emb.SymbolKey]
		if !ok {
			continue
		}
		refs = append(refs, ref{id: id, vec: emb.Vector, dims: emb.Dimensions})
	}
	// Deterministic pair ordering regardless of input order.
	sort.Slice(refs, func(i, j int) bool { return refs[i].id < refs[j].id })

	var rels []InferredRelationship
	seen := make(map[string]bool)
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			a, b := refs[i], refs[j]
			if a.id == b.id {
				continue
			}
			lo, hi := a.id, b.id
			if lo > hi {
				lo, hi = hi, lo
			}
			pairKey := fmt.Sprintf("%d-%d", lo, hi)
			if seen[pairKey] {
				continue
			}
			seen[pairKey] = true

			sim := CosineSimilarity(a.vec, b.vec)
			if sim < threshold {
				continue
			}
			rels = append(rels, InferredRelationship{
				FromSymbolID: lo,
				ToSymbolID:   hi,
				Type:         RelSemanticSimilarity,
				Confidence:   math.Min(0.9, sim*1.1),
				Strength:     sim,
				Evidence:     fmt.Sprintf(`{"similarity":%.4f,"dimensions":%d,"threshold":%.2f}`, sim, a.dims, threshold),
			})
		}
	}
	return rels
}
