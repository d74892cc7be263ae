// Package store persists embedded chunks. The embedding store is the durable
// source of truth; the in-memory similarity index is rebuilt from it.
package store

import (
	"context"

	"policypilot/types"
)

// Storer is the durable chunk store. Save replaces the full stored set
// atomically; Load returns all stored chunks, empty when nothing has been
// saved yet.
type Storer interface {
	Save(ctx context.Context, chunks []types.Chunk) error
	Load(ctx context.Context) ([]types.Chunk, error)
	Close()
}
