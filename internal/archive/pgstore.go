package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var _ ChunkStore = (*PGStore)(nil)

// ddl returns the transcript_chunks DDL. The vector dimension is fixed at
// creation; changing the embedding model later needs a manual migration.
func ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
    id          TEXT         PRIMARY KEY,
    file_id     TEXT         NOT NULL,
    name        TEXT         NOT NULL DEFAULT '',
    seq         INT          NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    indexed_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_file
    ON transcript_chunks (file_id);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// PGStore is a [ChunkStore] on PostgreSQL with the pgvector extension.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects to dsn, registers the pgvector types on every
// connection and creates the schema for vectors of length dims.
func OpenPGStore(ctx context.Context, dsn string, dims int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl(dims)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PGStore) Close() { s.pool.Close() }

// Upsert implements ChunkStore. Old chunks of the affected files are
// deleted in the same transaction.
func (s *PGStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	files := make(map[string]bool)
	for _, c := range chunks {
		files[c.FileID] = true
	}
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transcript_chunks WHERE file_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("archive: delete old chunks: %w", err)
		}
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`
				INSERT INTO transcript_chunks (id, file_id, name, seq, content, embedding)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				c.ID, c.FileID, c.Name, c.Seq, c.Content, pgvector.NewVector(c.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("archive: insert chunks: %w", err)
		}
		return nil
	})
}

// Nearest implements ChunkStore.
func (s *PGStore) Nearest(ctx context.Context, vec []float32, limit int) ([]ScoredChunk, error) {
	const q = `
		SELECT id, file_id, name, seq, content, embedding <=> $1 AS distance
		FROM   transcript_chunks
		ORDER  BY distance
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("archive: nearest: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredChunk, error) {
		var c ScoredChunk
		err := row.Scan(&c.ID, &c.FileID, &c.Name, &c.Seq, &c.Content, &c.Distance)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan: %w", err)
	}
	return out, nil
}

// FileIDs implements ChunkStore.
func (s *PGStore) FileIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT file_id FROM transcript_chunks`)
	if err != nil {
		return nil, fmt.Errorf("archive: file ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("archive: file ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
