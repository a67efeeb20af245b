package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hark-voice/hark/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// defaultQueryLimit bounds Corrections results when no explicit limit is set.
const defaultQueryLimit = 100

// Store is the PostgreSQL-backed learning store. It holds a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate] to ensure the schema
// exists.
//
// embeddingDimensions must match the output dimension of the configured
// embeddings model.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types so embedding columns scan into
	// pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveCorrection implements [memory.Store].
func (s *Store) SaveCorrection(ctx context.Context, rec memory.CorrectionRecord) error {
	const q = `
		INSERT INTO corrections
		    (text, task, reason, corrected_task, corrected_text, detail, embedding, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var vec any
	if rec.Embedding != nil {
		vec = pgvector.NewVector(rec.Embedding)
	}
	_, err := s.pool.Exec(ctx, q,
		rec.Text,
		string(rec.Task),
		string(rec.Reason),
		string(rec.CorrectedTask),
		rec.CorrectedText,
		rec.Detail,
		vec,
		rec.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save correction: %w", err)
	}
	return nil
}

// Corrections implements [memory.Store].
func (s *Store) Corrections(ctx context.Context, text string, opts ...memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	return s.query(ctx, []string{"text = $1"}, []any{text}, opts)
}

// RecentCorrections implements [memory.Store].
func (s *Store) RecentCorrections(ctx context.Context, opts ...memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	return s.query(ctx, nil, nil, opts)
}

// query runs a filtered, newest-first select over the corrections table with
// the resolved query options appended to the given base conditions.
func (s *Store) query(ctx context.Context, conditions []string, args []any, opts []memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	reasons, since, limit := memory.ApplyQueryOpts(opts)
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(reasons) > 0 {
		strs := make([]string, len(reasons))
		for i, r := range reasons {
			strs[i] = string(r)
		}
		conditions = append(conditions, "reason = ANY("+next(strs)+")")
	}
	if !since.IsZero() {
		conditions = append(conditions, "observed_at > "+next(since))
	}
	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT id, text, task, reason, corrected_task, corrected_text, detail, embedding, observed_at
		FROM   corrections
		WHERE  %s
		ORDER  BY observed_at DESC
		LIMIT  %s`, where, next(limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: corrections: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan corrections: %w", err)
	}
	if records == nil {
		records = []memory.CorrectionRecord{}
	}
	return records, nil
}

// SimilarCorrections implements [memory.Store] using pgvector cosine
// distance. Rows without an embedding never match.
func (s *Store) SimilarCorrections(ctx context.Context, embedding []float32, topK int) ([]memory.CorrectionMatch, error) {
	const q = `
		SELECT id, text, task, reason, corrected_task, corrected_text, detail, embedding, observed_at,
		       embedding <=> $1 AS distance
		FROM   corrections
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar corrections: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.CorrectionMatch, error) {
		var (
			m   memory.CorrectionMatch
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&m.Record.ID,
			&m.Record.Text,
			&m.Record.Task,
			&m.Record.Reason,
			&m.Record.CorrectedTask,
			&m.Record.CorrectedText,
			&m.Record.Detail,
			&vec,
			&m.Record.ObservedAt,
			&m.Distance,
		); err != nil {
			return memory.CorrectionMatch{}, err
		}
		if vec != nil {
			m.Record.Embedding = vec.Slice()
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan matches: %w", err)
	}
	if matches == nil {
		matches = []memory.CorrectionMatch{}
	}
	return matches, nil
}

// Rewrites implements [memory.Store]. The DISTINCT ON keeps only the newest
// correction per text.
func (s *Store) Rewrites(ctx context.Context) (map[string]string, error) {
	const q = `
		SELECT DISTINCT ON (text) text, corrected_text
		FROM   corrections
		WHERE  reason = 'explicit' AND corrected_text <> ''
		ORDER  BY text, observed_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: rewrites: %w", err)
	}
	defer rows.Close()

	rewrites := make(map[string]string)
	for rows.Next() {
		var text, corrected string
		if err := rows.Scan(&text, &corrected); err != nil {
			return nil, fmt.Errorf("postgres store: scan rewrites: %w", err)
		}
		rewrites[text] = corrected
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: rewrites: %w", err)
	}
	return rewrites, nil
}

// scanRecord scans one corrections row into a CorrectionRecord.
func scanRecord(row pgx.CollectableRow) (memory.CorrectionRecord, error) {
	var (
		rec memory.CorrectionRecord
		vec *pgvector.Vector
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Text,
		&rec.Task,
		&rec.Reason,
		&rec.CorrectedTask,
		&rec.CorrectedText,
		&rec.Detail,
		&vec,
		&rec.ObservedAt,
	); err != nil {
		return memory.CorrectionRecord{}, err
	}
	if vec != nil {
		rec.Embedding = vec.Slice()
	}
	return rec, nil
}
