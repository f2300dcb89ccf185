package search

import (
	"math"
	"strings"
)

// cosine returns the cosine similarity of two vectors, 0 for degenerate
// input.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

// tokens splits a normalized label into its word set.
func tokens(label string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(label) {
		set[w] = true
	}
	return set
}

// jaccard is the token-overlap fallback used when no embedder is
// available.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
