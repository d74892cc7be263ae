package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

// OllamaEmbedder generates embeddings through a local Ollama endpoint.
type OllamaEmbedder struct {
	apiURL string
	model  string
	dim    int
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder() *OllamaEmbedder {
	dim := 768
	if v := os.Getenv("OLLAMA_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dim = n
		}
	}
	return &OllamaEmbedder{
		apiURL: os.Getenv("OLLAMA_EMBEDDING_URL"),
		model:  os.Getenv("OLLAMA_EMBEDDING_MODEL"),
		dim:    dim,
	}
}

func (e *OllamaEmbedder) Embed(text string) ([]float32, error) {
	req := ollamaEmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ollamaResp ollamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	embedding := make([]float32, len(ollamaResp.Embedding))
	for i, v := range ollamaResp.Embedding {
		embedding[i] = float32(v)
	}
	l2normalize(embedding)

	return embedding, nil
}

// EmbedBatch embeds texts one by one; the Ollama embeddings endpoint has no
// batch call. Failed items become empty vectors.
func (e *OllamaEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(text)
		if err != nil {
			log.Printf("[EMBEDDER] ollama embedding %d/%d failed: %v", i+1, len(texts), err)
			continue
		}
		out[i] = v
	}
	return out
}

func (e *OllamaEmbedder) Dimension() int { return e.dim }

func (e *OllamaEmbedder) Model() string { return e.model }
