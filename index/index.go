// Package index provides exact inner-product search over L2-normalized chunk
// embeddings. The index is an immutable snapshot: mutations happen by
// rebuilding from the embedding store and swapping the reference.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"policypilot/types"
)

// ErrNotReady reports a query against an index with no vectors. Callers treat
// it as "no searchable content yet", distinct from a search with no matches.
var ErrNotReady = errors.New("index not ready: no vectors indexed")

// Hit is one search result: the position of the chunk in the index and its
// similarity score.
type Hit struct {
	Pos   int
	Score float32
}

// VectorIndex holds normalized embeddings and their chunks side by side.
// Position i in vectors corresponds to chunks[i].
type VectorIndex struct {
	dim     int
	vectors [][]float32
	chunks  []types.Chunk
	byID    map[string]int
}

// Build creates an index over the chunks that carry a complete embedding of
// the expected dimension. Chunks with empty or mismatched vectors are skipped;
// indexed vectors are normalized copies, the input is not mutated.
func Build(chunks []types.Chunk, dim int) *VectorIndex {
	idx := &VectorIndex{
		dim:  dim,
		byID: make(map[string]int),
	}

	for _, c := range chunks {
		if !c.Embedded(dim) {
			continue
		}
		v := append([]float32(nil), c.Meta.Embedding...)
		normalize(v)
		idx.byID[c.ChunkID] = len(idx.chunks)
		idx.vectors = append(idx.vectors, v)
		idx.chunks = append(idx.chunks, c)
	}

	return idx
}

// Ready reports whether the index holds at least one vector.
func (x *VectorIndex) Ready() bool { return len(x.vectors) > 0 }

// Size returns the number of indexed chunks.
func (x *VectorIndex) Size() int { return len(x.chunks) }

// Chunk returns the chunk at position pos.
func (x *VectorIndex) Chunk(pos int) types.Chunk { return x.chunks[pos] }

// Chunks returns the indexed chunks in position order.
func (x *VectorIndex) Chunks() []types.Chunk { return x.chunks }

// ChunkByID looks a chunk up by its identifier.
func (x *VectorIndex) ChunkByID(id string) (types.Chunk, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return types.Chunk{}, false
	}
	return x.chunks[pos], true
}

// Query returns the k most similar chunks to the query vector, scored by
// inner product, in descending score order. Ties keep insertion order. The
// query vector is normalized on a copy; k larger than the index is clamped.
func (x *VectorIndex) Query(queryVec []float32, k int) ([]Hit, error) {
	if !x.Ready() {
		return nil, ErrNotReady
	}
	if len(queryVec) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(queryVec), x.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(x.vectors) {
		k = len(x.vectors)
	}

	q := append([]float32(nil), queryVec...)
	normalize(q)

	hits := make([]Hit, len(x.vectors))
	for i, v := range x.vectors {
		hits[i] = Hit{Pos: i, Score: dot(q, v)}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	return hits[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) {
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
