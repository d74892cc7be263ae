// Package ingest turns raw policy documents into overlapping, token-budgeted
// chunks ready for embedding.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"policypilot/types"
)

var (
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")
)

var supportedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// Section is one loaded unit of document text with its locator number
// (page for PDFs, line for plain text).
type Section struct {
	Text   string
	Number int
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// letters and digits of any script survive, not just ASCII
	allowlistRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:-]`)
)

// EstimateTokens approximates the token count of s as ceil(len/4) over
// bytes, not runes. Chunk boundaries depend on this exact formula, so it
// must not change silently.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// CleanText collapses whitespace runs to single spaces, strips characters
// outside the allow-list and trims the ends.
func CleanText(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = allowlistRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Ingestor splits documents into chunks under a token budget.
type Ingestor struct {
	chunkSize    int
	chunkOverlap int
	maxDocSize   int64
	converterURL string
	cropTop      float64
	cropBottom   float64
}

func New(cfg types.Config) *Ingestor {
	return &Ingestor{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		maxDocSize:   cfg.MaxDocumentSize,
		converterURL: cfg.ConverterURL,
		cropTop:      cfg.PDFCropTop,
		cropBottom:   cfg.PDFCropBottom,
	}
}

// CreateChunks greedily packs cleaned section text into chunks of at most
// chunkSize estimated tokens. When a section would push the running buffer
// over budget, the buffer closes as a chunk and the next one is seeded with
// the last chunkOverlap words of it. A single oversized section still becomes
// one chunk; there is no mid-section splitting.
func (g *Ingestor) CreateChunks(sections []Section, source string) []types.Chunk {
	var chunks []types.Chunk
	var current string
	currentTokens := 0
	counter := 1

	for _, sec := range sections {
		cleaned := CleanText(sec.Text)
		secTokens := EstimateTokens(cleaned)

		if currentTokens+secTokens > g.chunkSize && current != "" {
			chunks = append(chunks, types.Chunk{
				Text:    strings.TrimSpace(current),
				Source:  source,
				ChunkID: types.MakeChunkID(source, counter),
				Section: fmt.Sprintf("Section %d", sec.Number),
				Meta:    types.ChunkMeta{TokenCount: currentTokens},
			})
			counter++

			current = overlapTail(current, g.chunkOverlap) + " " + cleaned
			currentTokens = EstimateTokens(current)
			continue
		}

		if current != "" {
			current += " " + cleaned
		} else {
			current = cleaned
		}
		currentTokens = EstimateTokens(current)
	}

	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, types.Chunk{
			Text:    strings.TrimSpace(current),
			Source:  source,
			ChunkID: types.MakeChunkID(source, counter),
			Meta:    types.ChunkMeta{TokenCount: currentTokens},
		})
	}

	log.Printf("[INGEST] created %d chunks from %s", len(chunks), source)
	return chunks
}

// overlapTail returns the last n words of text, approximating n overlap
// tokens by word count.
func overlapTail(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

// IngestFile validates, loads and chunks a single document, recording chunks
// under the file's base name.
func (g *Ingestor) IngestFile(path string) ([]types.Chunk, error) {
	return g.IngestFileAs(path, filepath.Base(path))
}

// IngestFileAs ingests path but records chunks under the given source name,
// for callers that stage files under synthetic names. Size and type checks
// happen here, before any state is touched.
func (g *Ingestor) IngestFileAs(path, source string) ([]types.Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if g.maxDocSize > 0 && info.Size() > g.maxDocSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrDocumentTooLarge, path, info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	var sections []Section
	switch ext {
	case ".pdf":
		sections, err = g.loadPDF(path)
	default:
		sections, err = loadText(path)
	}
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		log.Printf("[INGEST] no text content in %s", path)
		return nil, nil
	}

	return g.CreateChunks(sections, source), nil
}

// loadText reads a plain text or markdown file line by line; each non-empty
// line becomes a section numbered by its position in the file.
func loadText(path string) ([]Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var sections []Section
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		sections = append(sections, Section{Text: text, Number: lineNum})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return sections, nil
}
