package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"policypilot/types"
)

const embeddingsFile = "embeddings.json"

// FileStore keeps the embedded chunks in a single JSON file so the stored
// records stay inspectable with standard tools.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the full chunk set to a temp file and renames it over the old
// one, so a crash mid-write never corrupts the stored data.
func (s *FileStore) Save(_ context.Context, chunks []types.Chunk) error {
	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}

	target := filepath.Join(s.dir, embeddingsFile)
	tmp, err := os.CreateTemp(s.dir, embeddingsFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", embeddingsFile, err)
	}
	return nil
}

// Load returns every stored chunk. A store that was never written is empty,
// not an error.
func (s *FileStore) Load(_ context.Context) ([]types.Chunk, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, embeddingsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", embeddingsFile, err)
	}

	var chunks []types.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode %s: %w", embeddingsFile, err)
	}
	return chunks, nil
}

func (s *FileStore) Close() {}
