package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeChunkID(t *testing.T) {
	assert.Equal(t, "policy.pdf_chunk_1", MakeChunkID("policy.pdf", 1))
	assert.Equal(t, "terms_v2.txt_chunk_12", MakeChunkID("terms_v2.txt", 12))
}

func TestSeqFromChunkID(t *testing.T) {
	base, n, err := SeqFromChunkID("policy.pdf_chunk_3")
	require.NoError(t, err)
	assert.Equal(t, "policy.pdf_chunk", base)
	assert.Equal(t, 3, n)

	// sources with underscores split on the last separator only
	base, n, err = SeqFromChunkID("my_policy_doc.pdf_chunk_7")
	require.NoError(t, err)
	assert.Equal(t, "my_policy_doc.pdf_chunk", base)
	assert.Equal(t, 7, n)
}

func TestSeqFromChunkIDRoundtrip(t *testing.T) {
	id := MakeChunkID("policy.pdf", 4)
	base, n, err := SeqFromChunkID(id)
	require.NoError(t, err)

	assert.Equal(t, id, NeighborChunkID(base, n))
	assert.Equal(t, "policy.pdf_chunk_5", NeighborChunkID(base, n+1))
	assert.Equal(t, "policy.pdf_chunk_3", NeighborChunkID(base, n-1))
}

func TestSeqFromChunkIDMalformed(t *testing.T) {
	_, _, err := SeqFromChunkID("no-separator")
	assert.Error(t, err)

	_, _, err = SeqFromChunkID("policy.pdf_chunk_x")
	assert.Error(t, err)
}

func TestEmbedded(t *testing.T) {
	c := Chunk{Meta: ChunkMeta{Embedding: []float32{1, 2, 3}}}
	assert.True(t, c.Embedded(3))
	assert.False(t, c.Embedded(4))
	assert.False(t, c.Embedded(0))

	empty := Chunk{}
	assert.False(t, empty.Embedded(3))
}

func TestQueryParamsValidate(t *testing.T) {
	valid := QueryParams{Query: "knee surgery coverage"}
	assert.Empty(t, valid.Validate())

	invalid := QueryParams{}
	errs := invalid.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs, "Query")
}
