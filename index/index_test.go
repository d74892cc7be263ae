package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policypilot/types"
)

func chunkWithVec(id string, vec []float32) types.Chunk {
	return types.Chunk{
		Text:    "text of " + id,
		Source:  "doc.pdf",
		ChunkID: id,
		Meta:    types.ChunkMeta{Embedding: vec},
	}
}

func TestBuildSkipsUnembeddedChunks(t *testing.T) {
	chunks := []types.Chunk{
		chunkWithVec("doc.pdf_chunk_1", []float32{1, 0, 0}),
		chunkWithVec("doc.pdf_chunk_2", nil),
		chunkWithVec("doc.pdf_chunk_3", []float32{1, 0}), // wrong dimension
		chunkWithVec("doc.pdf_chunk_4", []float32{0, 1, 0}),
	}

	idx := Build(chunks, 3)
	assert.Equal(t, 2, idx.Size())

	_, ok := idx.ChunkByID("doc.pdf_chunk_2")
	assert.False(t, ok)
	_, ok = idx.ChunkByID("doc.pdf_chunk_4")
	assert.True(t, ok)
}

func TestQueryNotReady(t *testing.T) {
	idx := Build(nil, 3)
	assert.False(t, idx.Ready())

	_, err := idx.Query([]float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestQueryDimensionMismatch(t *testing.T) {
	idx := Build([]types.Chunk{chunkWithVec("doc.pdf_chunk_1", []float32{1, 0, 0})}, 3)

	_, err := idx.Query([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotReady)
}

func TestQueryRanksByInnerProduct(t *testing.T) {
	chunks := []types.Chunk{
		chunkWithVec("doc.pdf_chunk_1", []float32{0, 1, 0}),
		chunkWithVec("doc.pdf_chunk_2", []float32{1, 0, 0}),
		chunkWithVec("doc.pdf_chunk_3", []float32{0.9, 0.1, 0}),
	}

	idx := Build(chunks, 3)
	hits, err := idx.Query([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "doc.pdf_chunk_2", idx.Chunk(hits[0].Pos).ChunkID)
	assert.Equal(t, "doc.pdf_chunk_3", idx.Chunk(hits[1].Pos).ChunkID)
	assert.Equal(t, "doc.pdf_chunk_1", idx.Chunk(hits[2].Pos).ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestQueryIsDeterministic(t *testing.T) {
	chunks := []types.Chunk{
		chunkWithVec("a_chunk_1", []float32{1, 0}),
		chunkWithVec("a_chunk_2", []float32{0, 1}),
		chunkWithVec("a_chunk_3", []float32{1, 1}),
	}
	idx := Build(chunks, 2)

	first, err := idx.Query([]float32{1, 1}, 3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := idx.Query([]float32{1, 1}, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	// identical vectors, identical scores: insertion order must decide
	chunks := []types.Chunk{
		chunkWithVec("a_chunk_1", []float32{1, 0}),
		chunkWithVec("a_chunk_2", []float32{1, 0}),
		chunkWithVec("a_chunk_3", []float32{1, 0}),
	}
	idx := Build(chunks, 2)

	hits, err := idx.Query([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{hits[0].Pos, hits[1].Pos, hits[2].Pos})
}

func TestQueryClampsK(t *testing.T) {
	idx := Build([]types.Chunk{
		chunkWithVec("a_chunk_1", []float32{1, 0}),
		chunkWithVec("a_chunk_2", []float32{0, 1}),
	}, 2)

	hits, err := idx.Query([]float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestQueryDoesNotMutateInput(t *testing.T) {
	idx := Build([]types.Chunk{chunkWithVec("a_chunk_1", []float32{3, 4})}, 2)

	q := []float32{3, 4}
	_, err := idx.Query(q, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, q, "query vector must be normalized on a copy")
}

func TestPersistReloadRoundtrip(t *testing.T) {
	dir := t.TempDir()

	chunks := []types.Chunk{
		chunkWithVec("doc.pdf_chunk_1", []float32{1, 0, 0}),
		chunkWithVec("doc.pdf_chunk_2", []float32{0, 1, 0}),
	}
	idx := Build(chunks, 3)
	require.NoError(t, idx.Persist(dir))

	loaded, err := Reload(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), loaded.Size())

	c, ok := loaded.ChunkByID("doc.pdf_chunk_2")
	require.True(t, ok)
	assert.Equal(t, "text of doc.pdf_chunk_2", c.Text)

	hits, err := loaded.Query([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf_chunk_2", loaded.Chunk(hits[0].Pos).ChunkID)
}

func TestReloadFailsClosedOnMissingHalf(t *testing.T) {
	dir := t.TempDir()

	idx := Build([]types.Chunk{chunkWithVec("a_chunk_1", []float32{1, 0})}, 2)
	require.NoError(t, idx.Persist(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, chunksFile)))

	_, err := Reload(dir, 2)
	assert.Error(t, err)
}

func TestReloadFailsClosedOnCorruptHalf(t *testing.T) {
	dir := t.TempDir()

	idx := Build([]types.Chunk{chunkWithVec("a_chunk_1", []float32{1, 0})}, 2)
	require.NoError(t, idx.Persist(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, vectorsFile), []byte("garbage"), 0o644))

	_, err := Reload(dir, 2)
	assert.Error(t, err)
}

func TestReloadFailsClosedOnDimensionMismatch(t *testing.T) {
	dir := t.TempDir()

	idx := Build([]types.Chunk{chunkWithVec("a_chunk_1", []float32{1, 0})}, 2)
	require.NoError(t, idx.Persist(dir))

	_, err := Reload(dir, 3)
	assert.Error(t, err)
}

func TestReloadEmptyDir(t *testing.T) {
	_, err := Reload(t.TempDir(), 3)
	assert.Error(t, err)
}
