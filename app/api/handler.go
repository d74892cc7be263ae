package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"policypilot/app/agent"
	"policypilot/ingest"
	"policypilot/model"
	"policypilot/retrieve"
	"policypilot/types"
)

type RequestHandler struct {
	retriever *retrieve.Retriever
	parser    *model.QueryParser
	reasoner  *agent.Reasoner
	cfg       types.Config
}

func NewRequestHandler(retriever *retrieve.Retriever, reasoner *agent.Reasoner, cfg types.Config) *RequestHandler {
	return &RequestHandler{
		retriever: retriever,
		parser:    model.NewQueryParser(),
		reasoner:  reasoner,
		cfg:       cfg,
	}
}

// QueryResponse is the answer to a claim question: the decision (when
// reasoning is on) plus the retrieval evidence behind it.
type QueryResponse struct {
	Query          string            `json:"query"`
	ParsedQuery    model.ParsedQuery `json:"parsed_query"`
	Decision       *agent.Result     `json:"decision,omitempty"`
	Results        []types.SearchHit `json:"results"`
	ContextPreview string            `json:"context_preview,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// HandleQuery parses the question, retrieves matching policy chunks and,
// unless reasoning is disabled, asks the reasoner for a decision.
func (h *RequestHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return types.NewValidationError(errs)
	}

	parsed := h.parser.Parse(params.Query)

	opts := h.retriever.Options()
	if params.TopK > 0 {
		opts.TopK = params.TopK
	}
	results, err := h.retriever.SearchText(parsed.EnhancedQuery(), opts)
	if err != nil {
		return err
	}

	resp := QueryResponse{
		Query:       params.Query,
		ParsedQuery: parsed,
		Results:     toSearchHits(results),
		Timestamp:   time.Now(),
	}

	useReasoning := h.reasoner != nil
	if params.UseReasoning != nil {
		useReasoning = useReasoning && *params.UseReasoning
	}
	if useReasoning {
		policyContext := retrieve.BuildContext(results, h.cfg.MaxContextTokens)
		decision := h.reasoner.Evaluate(c.Context(), parsed, policyContext)
		resp.Decision = &decision
		resp.ContextPreview = preview(policyContext, 500)
	}

	return c.JSON(resp)
}

// HandleSearch returns raw retrieval hits for a query without reasoning.
// The retrieval knobs come from the query string; configured defaults apply
// otherwise.
func (h *RequestHandler) HandleSearch(c *fiber.Ctx) error {
	query := c.Params("query")
	if query == "" {
		return ErrBadRequest()
	}

	opts := h.retriever.Options()
	opts.TopK = c.QueryInt("top_k", opts.TopK)
	opts.MinScore = float32(c.QueryFloat("min_score", float64(opts.MinScore)))
	opts.IncludeNeighbors = c.QueryBool("include_neighbors", opts.IncludeNeighbors)
	opts.NeighborRadius = c.QueryInt("neighbor_radius", opts.NeighborRadius)

	results, err := h.retriever.SearchText(query, opts)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": toSearchHits(results),
		"count":   len(results),
	})
}

// HandleUpload accepts one policy document, stages it under a unique name and
// runs the full ingest-embed-index pipeline. Validation failures surface
// before any durable state changes.
func (h *RequestHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	if fileHeader.Size > h.cfg.MaxDocumentSize {
		return ErrPayloadTooLarge(fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxDocumentSize))
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	// unique staging name so concurrent uploads of the same file never
	// clash; the display name travels separately
	staged := filepath.Join(h.cfg.UploadDir, uuid.New().String()+"_"+fileHeader.Filename)
	if err := c.SaveFile(fileHeader, staged); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	defer os.Remove(staged)

	chunks, err := h.retriever.AddDocument(c.Context(), staged, fileHeader.Filename)
	if errors.Is(err, ingest.ErrUnsupportedType) {
		return ErrUnsupportedMedia(err.Error())
	}
	if errors.Is(err, ingest.ErrDocumentTooLarge) {
		return ErrPayloadTooLarge(err.Error())
	}
	if err != nil {
		return err
	}

	log.Printf("[UPLOAD] processed %s into %d chunks", fileHeader.Filename, len(chunks))
	return c.JSON(types.UploadResponse{
		Message:       "document processed",
		Filename:      fileHeader.Filename,
		ChunksCreated: len(chunks),
		Success:       true,
	})
}

// HandleListDocuments aggregates the stored chunks per source document.
func (h *RequestHandler) HandleListDocuments(c *fiber.Ctx) error {
	docs, err := h.retriever.ListDocuments(context.Background())
	if err != nil {
		return err
	}

	totalChunks := 0
	for _, d := range docs {
		totalChunks += d.Chunks
	}
	return c.JSON(types.DocumentListResponse{
		TotalDocuments: len(docs),
		TotalChunks:    totalChunks,
		Documents:      docs,
	})
}

// HandleDeleteDocument removes one document's chunks from the store and the
// index. Other documents are untouched.
func (h *RequestHandler) HandleDeleteDocument(c *fiber.Ctx) error {
	source := c.Params("source")
	if source == "" {
		return ErrBadRequest()
	}

	removed, err := h.retriever.DeleteSource(context.Background(), source)
	if errors.Is(err, retrieve.ErrUnknownSource) {
		return ErrNotFound(source, "document")
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":        fmt.Sprintf("deleted %s", source),
		"chunks_removed": removed,
	})
}

func toSearchHits(results []retrieve.Result) []types.SearchHit {
	hits := make([]types.SearchHit, len(results))
	for i, res := range results {
		hits[i] = types.SearchHit{
			Text:       res.Chunk.Text,
			Source:     res.Chunk.Source,
			ChunkID:    res.Chunk.ChunkID,
			Section:    res.Chunk.Section,
			Score:      res.Score,
			TokenCount: res.Chunk.Meta.TokenCount,
		}
	}
	return hits
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
