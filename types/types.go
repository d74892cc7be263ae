package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is the atomic retrieval unit: a bounded piece of one document's text
// plus its derived metadata.
type Chunk struct {
	Text    string    `json:"text"`
	Source  string    `json:"source"`
	ChunkID string    `json:"chunk_id"`
	Section string    `json:"section,omitempty"`
	Meta    ChunkMeta `json:"meta"`
}

// ChunkMeta is the fixed-shape derived state of a chunk. The embedding is
// optional: a chunk without one is skipped at index build time. Extra carries
// truly ad hoc fields that have no struct slot.
type ChunkMeta struct {
	TokenCount     int               `json:"token_count"`
	Embedding      []float32         `json:"embedding,omitempty"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Embedded reports whether the chunk carries a vector of the given dimension.
func (c *Chunk) Embedded(dim int) bool {
	return dim > 0 && len(c.Meta.Embedding) == dim
}

// MakeChunkID returns the id of the n-th chunk of a source. Counters start at
// 1 and increase by one per closed chunk within an ingestion run.
func MakeChunkID(source string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", source, n)
}

// SeqFromChunkID splits a chunk id into its base and trailing counter.
// Neighbor lookup relies on this counter being contiguous per source. Counters
// with cross-run gaps (delete followed by re-ingest) yield wrong or missing
// neighbors; that is an accepted limitation, not repaired here.
func SeqFromChunkID(id string) (base string, n int, err error) {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return "", 0, fmt.Errorf("chunk id %q has no counter suffix", id)
	}
	n, err = strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("chunk id %q has no numeric counter", id)
	}
	return id[:i], n, nil
}

// NeighborChunkID rebuilds a sibling id from a base returned by SeqFromChunkID.
func NeighborChunkID(base string, n int) string {
	return base + "_" + strconv.Itoa(n)
}

// DocumentStats summarizes one ingested source for listing.
type DocumentStats struct {
	Name            string `json:"name"`
	Chunks          int    `json:"chunks"`
	EstimatedTokens int    `json:"estimated_tokens"`
}
