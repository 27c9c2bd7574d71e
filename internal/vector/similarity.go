// Package vector provides similarity helpers for embedding vectors.
package vector

import "math"

// Dot returns the inner product of two vectors accumulated in float64.
// Vectors of different length yield 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b. ok is false when the similarity is
// undefined: mismatched or empty dimensions, or a zero-norm vector.
func Cosine(a, b []float32) (sim float64, ok bool) {
	return CosineWithNorms(a, L2Norm(a), b, L2Norm(b))
}

// CosineWithNorms is Cosine with precomputed norms, for scoring one query against
// many stored rows.
func CosineWithNorms(a []float32, normA float64, b []float32, normB float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) || normA == 0 || normB == 0 {
		return 0, false
	}
	sim := Dot(a, b) / (normA * normB)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	// Rounding can push parallel vectors a hair past ±1.
	return math.Max(-1, math.Min(1, sim)), true
}
