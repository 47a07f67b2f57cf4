package model

import (
	"math"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// EmbeddingDimension is the fixed length of every stored and queried embedding.
const EmbeddingDimension = 768

// VectorIndexName is the stable name of the amenity vector index across rebuilds.
const VectorIndexName = "amenity_embedding"

// ValidateEmbedding rejects vectors whose length differs from EmbeddingDimension.
func ValidateEmbedding(vec []float32) error {
	if len(vec) != EmbeddingDimension {
		return errdefs.Validationf("embedding has %d dimensions, want %d", len(vec), EmbeddingDimension)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when either is
// empty, zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// UnitScoreFromCosine maps cosine similarity in [-1, 1] to the [0, 1] score reported by
// Neo4j and Atlas cosine vector indexes.
func UnitScoreFromCosine(cos float64) float64 { return (1 + cos) / 2 }

// CosineFromUnitScore is the inverse of UnitScoreFromCosine.
func CosineFromUnitScore(score float64) float64 { return 2*score - 1 }

// Float64s widens an embedding for drivers that only accept float64 lists.
func Float64s(vec []float32) []float64 {
	if vec == nil {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// Float32s narrows a driver value back into an embedding. It accepts []float64, []float32
// and []any of numbers.
func Float32s(v any) []float32 {
	switch t := v.(type) {
	case []float32:
		return append([]float32(nil), t...)
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(t))
		for _, item := range t {
			switch n := item.(type) {
			case float64:
				out = append(out, float32(n))
			case float32:
				out = append(out, n)
			case int64:
				out = append(out, float32(n))
			case int:
				out = append(out, float32(n))
			}
		}
		return out
	}
	return nil
}
