package types

import (
	"os"
	"strconv"
	"time"
)

// Config collects the environment-driven settings shared by the server and
// the loader daemon.
type Config struct {
	ListenAddr string

	// Document processing
	ChunkSize       int
	ChunkOverlap    int
	MaxDocumentSize int64
	UploadDir       string
	ConverterURL    string
	PDFCropTop      float64
	PDFCropBottom   float64

	// Retrieval
	TopK             int
	MinScore         float32
	IncludeNeighbors bool
	NeighborRadius   int
	MaxContextTokens int

	// Persistence
	DataDir  string
	IndexDir string

	// Loader daemon
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
}

// ConfigFromEnv reads the configuration from the environment, falling back to
// defaults suitable for a local run.
func ConfigFromEnv() Config {
	return Config{
		ListenAddr: envStr("SERVER_ADDR", ":8000"),

		ChunkSize:       envInt("CHUNK_SIZE", 500),
		ChunkOverlap:    envInt("CHUNK_OVERLAP", 50),
		MaxDocumentSize: int64(envInt("MAX_DOCUMENT_SIZE", 50*1024*1024)),
		UploadDir:       envStr("UPLOAD_DIR", "data/uploads"),
		ConverterURL:    os.Getenv("CONVERTER_URL"),
		PDFCropTop:      envFloat("PDF_CROP_TOP", 0),
		PDFCropBottom:   envFloat("PDF_CROP_BOTTOM", 0),

		TopK:             envInt("TOP_K_RESULTS", 5),
		MinScore:         float32(envFloat("SIMILARITY_THRESHOLD", 0.3)),
		IncludeNeighbors: envBool("INCLUDE_NEIGHBORS", true),
		NeighborRadius:   envInt("NEIGHBOR_RADIUS", 1),
		MaxContextTokens: envInt("MAX_CONTEXT_TOKENS", 2000),

		DataDir:  envStr("DATA_DIR", "data/embeddings"),
		IndexDir: envStr("INDEX_DIR", "data/index"),

		SourceDir:      envStr("LOADER_SOURCE_DIR", "data/source"),
		ArchiveDir:     envStr("LOADER_ARCHIVE_DIR", "data/archive"),
		BadDir:         envStr("LOADER_BAD_DIR", "data/bad"),
		MonitoringTime: time.Duration(envInt("LOADER_MONITORING_SECONDS", 3)) * time.Second,
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
