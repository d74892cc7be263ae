package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policypilot/ingest"
	"policypilot/types"
)

// memStore is an in-memory Storer for tests.
type memStore struct {
	chunks []types.Chunk
	saves  int
}

func (s *memStore) Save(_ context.Context, chunks []types.Chunk) error {
	s.chunks = append([]types.Chunk(nil), chunks...)
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context) ([]types.Chunk, error) {
	return append([]types.Chunk(nil), s.chunks...), nil
}

func (s *memStore) Close() {}

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (e *fakeEmbedder) Embed(text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, e.dim), nil
}

func (e *fakeEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(t)
	}
	return out
}

func (e *fakeEmbedder) Dimension() int { return e.dim }
func (e *fakeEmbedder) Model() string  { return "fake" }

func testConfig(t *testing.T) types.Config {
	t.Helper()
	return types.Config{
		ChunkSize:        500,
		ChunkOverlap:     50,
		MaxDocumentSize:  50 * 1024 * 1024,
		TopK:             5,
		MinScore:         0.3,
		IncludeNeighbors: true,
		NeighborRadius:   1,
		MaxContextTokens: 2000,
		DataDir:          t.TempDir(),
		IndexDir:         t.TempDir(),
	}
}

// fiveChunkDoc builds doc.pdf_chunk_1..5 where only chunk 3 matches the
// x-axis query; the rest are orthogonal.
func fiveChunkDoc() []types.Chunk {
	vecs := [][]float32{
		{0, 1, 0},
		{0, 0.9, 0.1},
		{1, 0, 0},
		{0, 0.1, 0.9},
		{0, 0, 1},
	}
	chunks := make([]types.Chunk, 5)
	for i := range chunks {
		chunks[i] = types.Chunk{
			Text:    "clause text",
			Source:  "doc.pdf",
			ChunkID: types.MakeChunkID("doc.pdf", i+1),
			Meta:    types.ChunkMeta{TokenCount: 3, Embedding: vecs[i]},
		}
	}
	return chunks
}

func newTestRetriever(t *testing.T, stored []types.Chunk, cfg types.Config) *Retriever {
	t.Helper()
	st := &memStore{chunks: stored}
	emb := &fakeEmbedder{dim: 3, vectors: map[string][]float32{}}
	r := New(st, emb, ingest.New(cfg), cfg)
	require.NoError(t, r.LoadIndex(context.Background()))
	return r
}

func TestSearchEmitsNeighborsAtDecayedScore(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "doc.pdf_chunk_3", results[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)

	// neighbors of the hit at exactly 0.8x its score, in rank order
	neighborIDs := map[string]bool{
		results[1].Chunk.ChunkID: true,
		results[2].Chunk.ChunkID: true,
	}
	assert.True(t, neighborIDs["doc.pdf_chunk_2"])
	assert.True(t, neighborIDs["doc.pdf_chunk_4"])
	assert.InDelta(t, 0.8, float64(results[1].Score), 1e-5)
	assert.InDelta(t, 0.8, float64(results[2].Score), 1e-5)
}

func TestSearchSkipsAlreadyEmittedCandidates(t *testing.T) {
	// chunk 3 is the top hit and chunk 2 also clears the threshold on its
	// own; once chunk 2 has been emitted as chunk 3's neighbor, its own
	// candidate turn must be skipped entirely, so chunk 1 (reachable only
	// through chunk 2's expansion) never appears
	chunks := fiveChunkDoc()
	chunks[1].Meta.Embedding = []float32{0.8, 0.6, 0}

	r := newTestRetriever(t, chunks, testConfig(t))
	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := make(map[string]float32)
	for _, res := range results {
		got[res.Chunk.ChunkID] = res.Score
	}
	assert.Contains(t, got, "doc.pdf_chunk_3")
	assert.Contains(t, got, "doc.pdf_chunk_2")
	assert.Contains(t, got, "doc.pdf_chunk_4")
	assert.NotContains(t, got, "doc.pdf_chunk_1")
	assert.InDelta(t, 0.8, float64(got["doc.pdf_chunk_2"]), 1e-5)
}

func TestSearchNeverReturnsDuplicates(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, res := range results {
		assert.False(t, seen[res.Chunk.ChunkID], "duplicate chunk %s", res.Chunk.ChunkID)
		seen[res.Chunk.ChunkID] = true
	}
}

func TestSearchWithoutNeighbors(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	opts := r.Options()
	opts.IncludeNeighbors = false
	results, err := r.Search([]float32{1, 0, 0}, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc.pdf_chunk_3", results[0].Chunk.ChunkID)
}

func TestSearchOptionsVaryPerCall(t *testing.T) {
	// one retriever, different knobs per call, no reconstruction needed
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	strict := r.Options()
	strict.MinScore = 0.95
	strict.IncludeNeighbors = false
	results, err := r.Search([]float32{1, 0, 0}, strict)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc.pdf_chunk_3", results[0].Chunk.ChunkID)

	relaxed := r.Options()
	relaxed.MinScore = 0
	results, err = r.Search([]float32{1, 0, 0}, relaxed)
	require.NoError(t, err)
	assert.Greater(t, len(results), 1)
}

func TestSearchNeighborResultsAreSuperset(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	plainOpts := r.Options()
	plainOpts.IncludeNeighbors = false
	plainResults, err := r.Search([]float32{1, 0, 0}, plainOpts)
	require.NoError(t, err)

	expandedResults, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, res := range expandedResults {
		got[res.Chunk.ChunkID] = true
	}
	for _, res := range plainResults {
		assert.True(t, got[res.Chunk.ChunkID],
			"expanded search must contain every plain hit, missing %s", res.Chunk.ChunkID)
	}
}

func TestSearchFiltersByMinScore(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	opts := r.Options()
	opts.MinScore = 0.95
	opts.IncludeNeighbors = false
	results, err := r.Search([]float32{0, 1, 0.2}, opts)
	require.NoError(t, err)
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, float32(0.95))
	}
}

func TestSearchScoresDescend(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	results, err := r.Search([]float32{0.7, 0.7, 0.1}, r.Options())
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchEmptyIndexReturnsNoResultsNoError(t *testing.T) {
	r := newTestRetriever(t, nil, testConfig(t))
	assert.False(t, r.Ready())

	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	opts := r.Options()
	opts.TopK = 1
	results, err := r.Search([]float32{1, 0, 0}, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc.pdf_chunk_3", results[0].Chunk.ChunkID)
}

func TestSearchSkipsMalformedChunkIDs(t *testing.T) {
	chunks := fiveChunkDoc()
	chunks[2].ChunkID = "no-counter-suffix"

	r := newTestRetriever(t, chunks, testConfig(t))
	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)

	// the malformed chunk itself is still a hit, only its expansion is skipped
	require.Len(t, results, 1)
	assert.Equal(t, "no-counter-suffix", results[0].Chunk.ChunkID)
}

func TestAddDocumentRecordsGivenSourceName(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRetriever(t, nil, cfg)

	// staged under a synthetic name, recorded under the display name
	staged := filepath.Join(t.TempDir(), "3f2a9c_terms.txt")
	require.NoError(t, os.WriteFile(staged, []byte("Coverage starts after 90 days.\n"), 0o644))

	chunks, err := r.AddDocument(context.Background(), staged, "terms.txt")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "terms.txt", chunks[0].Source)
	assert.Equal(t, "terms.txt_chunk_1", chunks[0].ChunkID)

	docs, err := r.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "terms.txt", docs[0].Name)
}

func TestAddDocumentReplacesSameSource(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRetriever(t, nil, cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "staged.txt")
	require.NoError(t, os.WriteFile(path, []byte("first version\n"), 0o644))
	_, err := r.AddDocument(context.Background(), path, "policy.txt")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second version\n"), 0o644))
	_, err = r.AddDocument(context.Background(), path, "policy.txt")
	require.NoError(t, err)

	docs, err := r.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Chunks)
}

func TestDeleteSourceLeavesOthersIntact(t *testing.T) {
	stored := append(fiveChunkDoc(), types.Chunk{
		Text:    "other doc clause",
		Source:  "other.pdf",
		ChunkID: "other.pdf_chunk_1",
		Meta:    types.ChunkMeta{TokenCount: 4, Embedding: []float32{0.5, 0.5, 0}},
	})
	r := newTestRetriever(t, stored, testConfig(t))

	removed, err := r.DeleteSource(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, r.IndexSize())

	docs, err := r.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "other.pdf", docs[0].Name)
}

func TestDeleteUnknownSource(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))

	_, err := r.DeleteSource(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestDeleteLastSourceLeavesIndexNotReady(t *testing.T) {
	r := newTestRetriever(t, fiveChunkDoc(), testConfig(t))
	require.True(t, r.Ready())

	_, err := r.DeleteSource(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.False(t, r.Ready())

	results, err := r.Search([]float32{1, 0, 0}, r.Options())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListDocumentsAggregates(t *testing.T) {
	stored := append(fiveChunkDoc(), types.Chunk{
		Text:    "12345678",
		Source:  "other.pdf",
		ChunkID: "other.pdf_chunk_1",
		Meta:    types.ChunkMeta{TokenCount: 2, Embedding: []float32{0, 0, 1}},
	})
	r := newTestRetriever(t, stored, testConfig(t))

	docs, err := r.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// first-appearance order
	assert.Equal(t, "doc.pdf", docs[0].Name)
	assert.Equal(t, 5, docs[0].Chunks)
	assert.Equal(t, "other.pdf", docs[1].Name)
	assert.Equal(t, 1, docs[1].Chunks)
	assert.Equal(t, ingest.EstimateTokens("12345678"), docs[1].EstimatedTokens)
}

func TestBuildContextFormat(t *testing.T) {
	results := []Result{
		{
			Chunk: types.Chunk{
				Text:    "Knee surgery is covered after 90 days.",
				Source:  "policy.pdf",
				ChunkID: "policy.pdf_chunk_1",
				Section: "Section 4",
			},
			Score: 0.912,
		},
	}

	ctx := BuildContext(results, 2000)
	assert.Contains(t, ctx, "Source: policy.pdf")
	assert.Contains(t, ctx, "Relevance Score: 0.912")
	assert.Contains(t, ctx, "Section 4")
	assert.Contains(t, ctx, "Knee surgery is covered after 90 days.")
	assert.Contains(t, ctx, "---")
}

func TestBuildContextZeroBudgetKeepsFirstBlock(t *testing.T) {
	results := []Result{
		{Chunk: types.Chunk{Text: "first clause", Source: "a.pdf"}, Score: 0.9},
		{Chunk: types.Chunk{Text: "second clause", Source: "a.pdf"}, Score: 0.8},
	}

	ctx := BuildContext(results, 0)
	assert.Contains(t, ctx, "first clause")
	assert.NotContains(t, ctx, "second clause")
}

func TestBuildContextRespectsBudget(t *testing.T) {
	results := []Result{
		{Chunk: types.Chunk{Text: "aaaa", Source: "a.pdf"}, Score: 0.9},  // 1 token
		{Chunk: types.Chunk{Text: "bbbb", Source: "a.pdf"}, Score: 0.8},  // 1 token
		{Chunk: types.Chunk{Text: "cccc", Source: "a.pdf"}, Score: 0.7},  // 1 token
	}

	ctx := BuildContext(results, 2)
	assert.Contains(t, ctx, "aaaa")
	assert.Contains(t, ctx, "bbbb")
	assert.NotContains(t, ctx, "cccc")
}

func TestBuildContextConsumesInputOrder(t *testing.T) {
	results := []Result{
		{Chunk: types.Chunk{Text: "low scored but first", Source: "a.pdf"}, Score: 0.4},
		{Chunk: types.Chunk{Text: "high scored but second", Source: "a.pdf"}, Score: 0.9},
	}

	ctx := BuildContext(results, 1)
	assert.Contains(t, ctx, "low scored but first")
	assert.NotContains(t, ctx, "high scored but second")
}

func TestBuildContextEmptySection(t *testing.T) {
	results := []Result{
		{Chunk: types.Chunk{Text: "tail chunk", Source: "a.pdf"}, Score: 0.5},
	}
	assert.Contains(t, BuildContext(results, 100), "Section N/A")
}

func TestBuildContextEmptyResults(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil, 100))
}
