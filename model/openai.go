package model

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const openaiBatchSize = 100

// OpenAIEmbedder generates embeddings through the OpenAI API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}

	dim := 1536
	if model == "text-embedding-3-large" {
		dim = 3072
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dim = n
		}
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(key),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *OpenAIEmbedder) Embed(text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned from API")
	}

	v := append([]float32(nil), resp.Data[0].Embedding...)
	l2normalize(v)
	return v, nil
}

// EmbedBatch embeds texts in API batches. A failed batch degrades to empty
// vectors for its items rather than failing the whole call.
func (e *OpenAIEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += openaiBatchSize {
		end := start + openaiBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: batch,
		})
		cancel()

		if err != nil || len(resp.Data) != len(batch) {
			log.Printf("[EMBEDDER] batch %d-%d failed: %v", start, end, err)
			for i := start; i < end; i++ {
				out[i] = nil
			}
			continue
		}

		for i, data := range resp.Data {
			v := append([]float32(nil), data.Embedding...)
			l2normalize(v)
			out[start+i] = v
		}
	}

	return out
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Model() string { return e.model }
