package postgres

import (
	"context"
	"fmt"
)

// hnsw indexes in pgvector support at most this many dimensions.
const maxIndexedDimensions = 2000

func schemaStatements(dimensions int) []string {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			source TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			structured JSONB NOT NULL,
			transcript_segments JSONB NOT NULL DEFAULT '[]',
			geolocation JSONB,
			photos JSONB NOT NULL DEFAULT '[]',
			plugins_results JSONB NOT NULL DEFAULT '[]',
			external_data JSONB,
			discarded BOOLEAN NOT NULL DEFAULT FALSE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			visibility TEXT NOT NULL DEFAULT 'private',
			processing_memory_id TEXT,
			status TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS memories_user_created_idx ON memories (user_id, created_at DESC)`,
	}

	if dimensions <= maxIndexedDimensions {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)`)
	}

	return stmts
}

func (p *postgresStorer) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(p.options.Dimensions) {
		if _, err := p.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure postgres schema: %w", err)
		}
	}
	return nil
}
