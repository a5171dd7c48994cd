// Package vigil is the semantic gate between ingestion and the expensive
// LLM analysis stage: only articles close enough to the stack profile pass.
package vigil

import "math"

// Decision is the filter's verdict for one article.
type Decision struct {
	Score    float64
	Accepted bool
}

// Decide scores an article embedding against every profile reference vector
// and accepts it iff the best-matching facet clears the threshold. The
// maximum wins, not the average: an article about one dependency must not be
// penalized for ignoring the other nine. Pure function of its inputs.
func Decide(embedding []float32, profile [][]float32, threshold float64) Decision {
	best := math.Inf(-1)
	for _, reference := range profile {
		if score, ok := Cosine(embedding, reference); ok && score > best {
			best = score
		}
	}

	if math.IsInf(best, -1) {
		return Decision{Score: 0, Accepted: false}
	}

	return Decision{Score: best, Accepted: best >= threshold}
}

// Cosine computes the cosine similarity of two vectors in [-1, 1]. The
// second return is false when the vectors are incomparable (length mismatch,
// empty, or zero magnitude).
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, false
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
