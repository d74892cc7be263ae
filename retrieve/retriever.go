// Package retrieve owns the retrieval pipeline: it feeds ingested chunks
// through the embedder into the store, maintains the swappable similarity
// index over them and answers search and context-assembly requests.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"policypilot/index"
	"policypilot/ingest"
	"policypilot/model"
	"policypilot/store"
	"policypilot/types"
)

// neighborDecay scales the parent hit's score for emitted neighbor chunks.
const neighborDecay = 0.8

// ErrUnknownSource reports a delete for a document that has no stored chunks.
var ErrUnknownSource = errors.New("unknown document source")

// Result is one retrieval hit with its final score. Neighbor chunks carry
// their parent's score decayed by neighborDecay.
type Result struct {
	Chunk types.Chunk
	Score float32
}

// Retriever is the retrieval service. The index reference is guarded by mu;
// mutations rebuild a fresh index from the store and swap it in, so searches
// always run against a consistent snapshot.
type Retriever struct {
	mu  sync.RWMutex
	idx *index.VectorIndex

	store    store.Storer
	embedder model.Embedder
	ingestor *ingest.Ingestor
	cfg      types.Config
}

func New(st store.Storer, emb model.Embedder, ing *ingest.Ingestor, cfg types.Config) *Retriever {
	return &Retriever{
		idx:      index.Build(nil, emb.Dimension()),
		store:    st,
		embedder: emb,
		ingestor: ing,
		cfg:      cfg,
	}
}

// Ready reports whether the index holds searchable content.
func (r *Retriever) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.Ready()
}

// LoadIndex restores the index at startup: first from the persisted pair on
// disk, then by rebuilding from the embedding store when the pair is missing
// or unusable.
func (r *Retriever) LoadIndex(ctx context.Context) error {
	dim := r.embedder.Dimension()

	if idx, err := index.Reload(r.cfg.IndexDir, dim); err == nil {
		r.swap(idx)
		log.Printf("[INDEX] restored %d chunks from %s", idx.Size(), r.cfg.IndexDir)
		return nil
	} else {
		log.Printf("[INDEX] persisted index unusable, rebuilding from store: %v", err)
	}

	chunks, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load embedding store: %w", err)
	}
	idx := index.Build(chunks, dim)
	r.swap(idx)
	if idx.Ready() {
		if err := idx.Persist(r.cfg.IndexDir); err != nil {
			log.Printf("[INDEX] persist after rebuild failed: %v", err)
		}
	}
	log.Printf("[INDEX] rebuilt with %d of %d stored chunks", idx.Size(), len(chunks))
	return nil
}

func (r *Retriever) swap(idx *index.VectorIndex) {
	r.mu.Lock()
	r.idx = idx
	r.mu.Unlock()
}

// SearchOptions are the per-call retrieval knobs. Start from Options() and
// override what the call needs; the zero value is not a usable default.
type SearchOptions struct {
	TopK             int
	MinScore         float32
	IncludeNeighbors bool
	NeighborRadius   int
}

// Options returns the configured retrieval defaults.
func (r *Retriever) Options() SearchOptions {
	return SearchOptions{
		TopK:             r.cfg.TopK,
		MinScore:         r.cfg.MinScore,
		IncludeNeighbors: r.cfg.IncludeNeighbors,
		NeighborRadius:   r.cfg.NeighborRadius,
	}
}

// SearchText embeds the query and searches with the given options.
func (r *Retriever) SearchText(query string, opts SearchOptions) ([]Result, error) {
	vec, err := r.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.Search(vec, opts)
}

// Search returns up to opts.TopK chunks ranked by similarity to the query
// vector. The candidate pool is widened to topK*3 before threshold filtering
// so that near-misses below strong hits still surface. Each accepted hit may
// pull in its adjacent chunks at a decayed score; a candidate whose id was
// already emitted (as an earlier hit's neighbor) is skipped entirely,
// expansion included. An index with no content yields an empty result, not an
// error.
func (r *Retriever) Search(queryVec []float32, opts SearchOptions) ([]Result, error) {
	r.mu.RLock()
	idx := r.idx
	r.mu.RUnlock()

	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	searchK := topK * 3
	if searchK > idx.Size() {
		searchK = idx.Size()
	}

	hits, err := idx.Query(queryVec, searchK)
	if errors.Is(err, index.ErrNotReady) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var results []Result
	seen := make(map[string]bool)

	for _, hit := range hits {
		if hit.Score < opts.MinScore {
			continue
		}
		chunk := idx.Chunk(hit.Pos)
		if seen[chunk.ChunkID] {
			continue
		}
		seen[chunk.ChunkID] = true
		results = append(results, Result{Chunk: chunk, Score: hit.Score})

		if opts.IncludeNeighbors {
			results = appendNeighbors(idx, results, seen, chunk.ChunkID, hit.Score, opts.NeighborRadius)
		}

		if len(results) >= topK {
			break
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// appendNeighbors emits the chunks adjacent to id at a decayed score. A chunk
// id that does not parse is logged and skipped; missing neighbors (document
// edges) are silently skipped.
func appendNeighbors(idx *index.VectorIndex, results []Result, seen map[string]bool, id string, score float32, radius int) []Result {
	base, n, err := types.SeqFromChunkID(id)
	if err != nil {
		log.Printf("[SEARCH] cannot expand neighbors of %q: %v", id, err)
		return results
	}

	for d := -radius; d <= radius; d++ {
		if d == 0 {
			continue
		}
		m := n + d
		if m < 1 {
			continue
		}
		neighborID := types.NeighborChunkID(base, m)
		if seen[neighborID] {
			continue
		}
		neighbor, ok := idx.ChunkByID(neighborID)
		if !ok {
			continue
		}
		seen[neighborID] = true
		results = append(results, Result{Chunk: neighbor, Score: score * neighborDecay})
	}
	return results
}

// BuildContext concatenates results into a prompt context under a token
// budget. Results are consumed in the order given; the first block is always
// included even when it alone exceeds the budget, so a single long chunk
// still produces usable context.
func BuildContext(results []Result, maxTokens int) string {
	var parts []string
	total := 0

	for _, res := range results {
		tokens := ingest.EstimateTokens(res.Chunk.Text)
		if total+tokens > maxTokens && len(parts) > 0 {
			break
		}

		section := res.Chunk.Section
		if section == "" {
			section = "Section N/A"
		}
		parts = append(parts, fmt.Sprintf(
			"Source: %s\nRelevance Score: %.3f\n%s\n\n%s\n---",
			res.Chunk.Source, res.Score, section, res.Chunk.Text,
		))
		total += tokens
	}

	return strings.Join(parts, "\n")
}

// AddDocument ingests, embeds and stores one document under the given source
// name, then rebuilds the index. The name is separate from the path so
// staged uploads keep their display name. Chunks previously stored for the
// same source are replaced so chunk counters stay contiguous. Items whose
// embedding failed are stored without a vector and excluded from the index.
func (r *Retriever) AddDocument(ctx context.Context, path, source string) ([]types.Chunk, error) {
	chunks, err := r.ingestor.IngestFileAs(path, source)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := r.embedder.EmbedBatch(texts)
	embedded := 0
	for i := range chunks {
		if len(vectors[i]) > 0 {
			chunks[i].Meta.Embedding = vectors[i]
			chunks[i].Meta.EmbeddingModel = r.embedder.Model()
			embedded++
		}
	}
	if embedded < len(chunks) {
		log.Printf("[EMBEDDER] %d of %d chunks have no embedding and will not be indexed", len(chunks)-embedded, len(chunks))
	}

	stored, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embedding store: %w", err)
	}
	kept := stored[:0]
	for _, c := range stored {
		if c.Source != source {
			kept = append(kept, c)
		}
	}
	kept = append(kept, chunks...)

	if err := r.store.Save(ctx, kept); err != nil {
		return nil, fmt.Errorf("save embedding store: %w", err)
	}

	r.rebuild(kept)
	return chunks, nil
}

// DeleteSource removes every chunk of one document and rebuilds the index.
// Other documents' chunks are untouched. Deleting the last document leaves
// the index in the not-ready state.
func (r *Retriever) DeleteSource(ctx context.Context, source string) (int, error) {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load embedding store: %w", err)
	}

	kept := stored[:0]
	removed := 0
	for _, c := range stored {
		if c.Source == source {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	if err := r.store.Save(ctx, kept); err != nil {
		return 0, fmt.Errorf("save embedding store: %w", err)
	}

	r.rebuild(kept)
	log.Printf("[STORE] deleted %d chunks of %s", removed, source)
	return removed, nil
}

// rebuild constructs a fresh index over chunks, persists it and swaps it in.
// A failed persist only loses the warm start; the live index still swaps.
func (r *Retriever) rebuild(chunks []types.Chunk) {
	idx := index.Build(chunks, r.embedder.Dimension())
	if err := idx.Persist(r.cfg.IndexDir); err != nil {
		log.Printf("[INDEX] persist failed: %v", err)
	}
	r.swap(idx)
}

// ListDocuments aggregates the stored chunks per source, in first-appearance
// order.
func (r *Retriever) ListDocuments(ctx context.Context) ([]types.DocumentStats, error) {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embedding store: %w", err)
	}

	var order []string
	bySource := make(map[string]*types.DocumentStats)
	for _, c := range stored {
		stats, ok := bySource[c.Source]
		if !ok {
			stats = &types.DocumentStats{Name: c.Source}
			bySource[c.Source] = stats
			order = append(order, c.Source)
		}
		stats.Chunks++
		stats.EstimatedTokens += ingest.EstimateTokens(c.Text)
	}

	out := make([]types.DocumentStats, 0, len(order))
	for _, source := range order {
		out = append(out, *bySource[source])
	}
	return out, nil
}

// IndexSize returns the number of indexed chunks.
func (r *Retriever) IndexSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.Size()
}
