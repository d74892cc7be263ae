package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"policypilot/types"
)

// PostgresStore keeps embedded chunks in a pgvector-enabled table. It is a
// drop-in alternative to FileStore for deployments that already run Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, connStr string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool, dim: dim}
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		position INT NOT NULL,
		section TEXT,
		content TEXT NOT NULL,
		token_count INT NOT NULL,
		embedding_model TEXT,
		embedding vector(%d)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`, s.dim)
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Save replaces the stored chunk set in a single transaction so readers never
// observe a partial mix of old and new rows.
func (s *PostgresStore) Save(ctx context.Context, chunks []types.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	query := `
	INSERT INTO chunks (chunk_id, source, position, section, content, token_count, embedding_model, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, c := range chunks {
		var vec any
		if len(c.Meta.Embedding) > 0 {
			vec = pgvector.NewVector(c.Meta.Embedding)
		}
		_, err := tx.Exec(ctx, query,
			c.ChunkID, c.Source, i, c.Section, c.Text,
			c.Meta.TokenCount, c.Meta.EmbeddingModel, vec,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit(ctx)
}

// Load returns every stored chunk in insertion order.
func (s *PostgresStore) Load(ctx context.Context) ([]types.Chunk, error) {
	query := `
	SELECT chunk_id, source, section, content, token_count, embedding_model, embedding
	FROM chunks
	ORDER BY position
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var vec *pgvector.Vector
		if err := rows.Scan(
			&c.ChunkID,
			&c.Source,
			&c.Section,
			&c.Text,
			&c.Meta.TokenCount,
			&c.Meta.EmbeddingModel,
			&vec,
		); err != nil {
			return nil, err
		}
		if vec != nil {
			c.Meta.Embedding = vec.Slice()
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
}
