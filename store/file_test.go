package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policypilot/types"
)

func TestFileStoreRoundtrip(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	chunks := []types.Chunk{
		{
			Text:    "first clause",
			Source:  "policy.pdf",
			ChunkID: "policy.pdf_chunk_1",
			Section: "Section 2",
			Meta: types.ChunkMeta{
				TokenCount:     3,
				Embedding:      []float32{0.1, 0.2, 0.3},
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		{
			Text:    "second clause",
			Source:  "policy.pdf",
			ChunkID: "policy.pdf_chunk_2",
			Meta:    types.ChunkMeta{TokenCount: 3},
		},
	}

	require.NoError(t, st.Save(context.Background(), chunks))

	loaded, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chunks, loaded)
}

func TestFileStoreLoadMissingIsEmpty(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	loaded, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStoreSaveReplacesWholeSet(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	first := []types.Chunk{{Text: "old", Source: "a.txt", ChunkID: "a.txt_chunk_1"}}
	second := []types.Chunk{{Text: "new", Source: "b.txt", ChunkID: "b.txt_chunk_1"}}

	require.NoError(t, st.Save(context.Background(), first))
	require.NoError(t, st.Save(context.Background(), second))

	loaded, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, loaded)
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, st.Save(context.Background(), []types.Chunk{
		{Text: "x", Source: "a.txt", ChunkID: "a.txt_chunk_1"},
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, embeddingsFile, entries[0].Name())
	assert.Equal(t, embeddingsFile, filepath.Base(entries[0].Name()))
}
