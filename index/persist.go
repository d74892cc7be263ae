package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"policypilot/types"
)

const (
	vectorsFile = "index.gob"
	chunksFile  = "chunks.gob"
)

type vectorsSnapshot struct {
	Dim     int
	Vectors [][]float32
}

// Persist writes the index as a two-file pair: the vectors and the chunk list
// they belong to. Each file is written to a temp name and renamed into place,
// so a crash leaves the previous pair intact.
func (x *VectorIndex) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	snap := vectorsSnapshot{Dim: x.dim, Vectors: x.vectors}
	if err := writeGob(dir, vectorsFile, snap); err != nil {
		return err
	}
	if err := writeGob(dir, chunksFile, x.chunks); err != nil {
		return err
	}
	return nil
}

func writeGob(dir, name string, v any) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp for %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// Reload reads a persisted index pair. Both halves must exist, decode cleanly
// and agree with each other and the expected dimension; otherwise the load
// fails and the caller falls back to rebuilding from the embedding store.
func Reload(dir string, expectedDim int) (*VectorIndex, error) {
	var snap vectorsSnapshot
	if err := readGob(dir, vectorsFile, &snap); err != nil {
		return nil, err
	}

	var chunks []types.Chunk
	if err := readGob(dir, chunksFile, &chunks); err != nil {
		return nil, err
	}

	if snap.Dim != expectedDim {
		return nil, fmt.Errorf("persisted index dimension %d does not match expected %d", snap.Dim, expectedDim)
	}
	if len(snap.Vectors) != len(chunks) {
		return nil, fmt.Errorf("index pair out of sync: %d vectors, %d chunks", len(snap.Vectors), len(chunks))
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), snap.Dim)
		}
	}

	idx := &VectorIndex{
		dim:     snap.Dim,
		vectors: snap.Vectors,
		chunks:  chunks,
		byID:    make(map[string]int, len(chunks)),
	}
	for i, c := range chunks {
		idx.byID[c.ChunkID] = i
	}
	return idx, nil
}

func readGob(dir, name string, v any) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
