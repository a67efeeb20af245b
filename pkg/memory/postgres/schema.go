// Package postgres provides a PostgreSQL-backed implementation of the
// correction learning store.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveCorrection(ctx, rec)
//	matches, _ := store.SimilarCorrections(ctx, embedding, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCorrections returns the corrections DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlCorrections(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corrections (
    id              BIGSERIAL    PRIMARY KEY,
    text            TEXT         NOT NULL,
    task            TEXT         NOT NULL DEFAULT '',
    reason          TEXT         NOT NULL,
    corrected_task  TEXT         NOT NULL DEFAULT '',
    corrected_text  TEXT         NOT NULL DEFAULT '',
    detail          TEXT         NOT NULL DEFAULT '',
    embedding       vector(%d),
    observed_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_corrections_text
    ON corrections (text);

CREATE INDEX IF NOT EXISTS idx_corrections_observed_at
    ON corrections (observed_at);

CREATE INDEX IF NOT EXISTS idx_corrections_embedding
    ON corrections USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the corrections table and its indexes exist. It
// is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlCorrections(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
