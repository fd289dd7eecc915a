package metadata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
)

// LangChainEmbedder adapts a langchaingo embedder (ollama, openai, ...).
func LangChainEmbedder(embedder embeddings.Embedder) EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vector, err := embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vector) == 0 {
			return nil, fmt.Errorf("embed text: empty vector")
		}
		return vector, nil
	}
}

// HashEmbedder is a deterministic bag-of-words embedder using feature hashing.
// It needs no model and is what the test profile runs with.
func HashEmbedder(dims int) EmbeddingFunc {
	if dims < 2 {
		dims = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vector := make([]float32, dims)
		// Constant component keeps empty text from producing a zero vector.
		vector[0] = 0.01
		for _, token := range tokenize(text) {
			for _, feature := range []string{token, stem(token)} {
				h := fnv.New32a()
				_, _ = h.Write([]byte(feature))
				vector[1+int(h.Sum32()%uint32(dims-1))]++
			}
		}
		var norm float64
		for _, v := range vector {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
		return vector, nil
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stem strips a plural suffix so "customers" and "customer" share a feature.
func stem(token string) string {
	switch {
	case strings.HasSuffix(token, "ies") && len(token) > 4:
		return strings.TrimSuffix(token, "ies") + "y"
	case strings.HasSuffix(token, "s") && !strings.HasSuffix(token, "ss") && len(token) > 3:
		return strings.TrimSuffix(token, "s")
	default:
		return token
	}
}
