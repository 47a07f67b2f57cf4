package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
)

// Deterministic hashes words into buckets and normalises the result. Texts sharing words
// land close together, which is enough for offline runs and tests. No network is involved.
type Deterministic struct{}

func (Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	return DeterministicEmbedding(text), nil
}

// DeterministicEmbedding is the vector Deterministic returns for text.
func DeterministicEmbedding(text string) []float32 {
	vec := make([]float32, model.EmbeddingDimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%model.EmbeddingDimension] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
