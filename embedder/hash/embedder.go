// Package hash implements an offline Embedder. Each lower-cased word is hashed
// into one signed bucket, so texts that share words land near each other.
package hash

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/w-h-a/memories/embedder"
)

type hashEmbedder struct {
	options embedder.Options
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.options.Dimensions < 1 {
		return nil, fmt.Errorf("hash embedder needs a positive width, got %d", e.options.Dimensions)
	}

	vec := make([]float32, e.options.Dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		idx := sum % uint64(len(vec))
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	return normalize(vec), nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// colliding +1/-1 tokens; any fixed unit vector keeps cosine defined
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func NewEmbedder(opts ...embedder.Option) embedder.Embedder {
	options := embedder.NewOptions(opts...)

	return &hashEmbedder{
		options: options,
	}
}
