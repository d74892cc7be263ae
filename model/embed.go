// Package model holds the external model boundaries: embedding providers and
// the claim query parser.
package model

import (
	"log"
	"math"
	"os"
)

// Embedder generates fixed-dimension vectors for text. Implementations return
// an empty vector (never a partial one) for failed items so downstream
// indexing can simply skip them.
type Embedder interface {
	Embed(text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, positionally aligned.
	// Failed items are empty vectors; a batch never aborts as a whole.
	EmbedBatch(texts []string) [][]float32
	Dimension() int
	Model() string
}

// NewEmbedderFromEnv selects the embedding provider. EMBEDDING_PROVIDER is
// "openai" or "ollama"; OpenAI is the default when an API key is present.
func NewEmbedderFromEnv() (Embedder, error) {
	provider := os.Getenv("EMBEDDING_PROVIDER")
	if provider == "" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			provider = "openai"
		} else {
			provider = "ollama"
		}
	}

	switch provider {
	case "ollama":
		log.Printf("[EMBEDDER] using local Ollama embeddings (%s)", os.Getenv("OLLAMA_EMBEDDING_MODEL"))
		return NewOllamaEmbedder(), nil
	default:
		e, err := NewOpenAIEmbedder()
		if err != nil {
			return nil, err
		}
		log.Printf("[EMBEDDER] using OpenAI embeddings (%s)", e.Model())
		return e, nil
	}
}

// l2normalize scales v to unit length in place so that inner-product search
// over the vectors equals cosine similarity.
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
