// Package memory defines the persistent learning store used by the correction
// learner.
//
// The store is an append-oriented log of [CorrectionRecord] values, one per
// observed correction event, with four retrieval paths:
//
//   - recent listing: corrections across all transcripts, newest first, used
//     to rebuild suspect marks and confidence floors at session start
//   - exact-text lookup: all corrections recorded for one normalized
//     transcript, newest first, used to recall adjustments for a transcript
//     whose in-memory history is gone
//   - similarity lookup: nearest recorded corrections by embedding distance,
//     used to seed adjustments for transcripts the system has not seen
//     verbatim (backends without vector support return an empty result)
//   - rewrite extraction: the accumulated raw-text to corrected-text pairs
//     learned from explicit misrecognition corrections
//
// Interfaces are public so external packages can supply alternative backends
// (Postgres/pgvector, append-only file, in-memory). Every implementation must
// be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/hark-voice/hark/pkg/types"
)

// CorrectionRecord is one persisted correction event.
type CorrectionRecord struct {
	// ID is assigned by the backend on save. Zero until then.
	ID int64

	// Text is the normalized transcript the correction applies to.
	Text string

	// Task is the task type the pipeline originally resolved.
	Task types.TaskType

	// Reason tags the trigger source of the correction.
	Reason types.CorrectionReason

	// CorrectedTask is the user's intended task type for explicit
	// corrections, or empty.
	CorrectedTask types.TaskType

	// CorrectedText is the user's intended transcript text for explicit
	// corrections of a misrecognition, or empty.
	CorrectedText string

	// Detail is optional structured detail from the executor.
	Detail string

	// Embedding is the vector representation of Text, when an embeddings
	// provider is configured. Nil otherwise.
	Embedding []float32

	// ObservedAt is when the correction was observed.
	ObservedAt time.Time
}

// CorrectionMatch pairs a retrieved record with its vector-space distance from
// the query embedding. Lower distance means higher similarity.
type CorrectionMatch struct {
	Record   CorrectionRecord
	Distance float64
}

// Store is the persistence abstraction for correction events.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCorrection appends one correction record. The backend assigns the
	// record ID; the passed record is not mutated.
	SaveCorrection(ctx context.Context, rec CorrectionRecord) error

	// Corrections returns records whose Text equals text, newest first,
	// refined by query options. Returns an empty (non-nil) slice when
	// nothing matches.
	Corrections(ctx context.Context, text string, opts ...QueryOpt) ([]CorrectionRecord, error)

	// RecentCorrections returns records across all transcripts, newest
	// first, refined by query options. Returns an empty (non-nil) slice
	// when nothing matches.
	RecentCorrections(ctx context.Context, opts ...QueryOpt) ([]CorrectionRecord, error)

	// SimilarCorrections returns up to topK records closest to the query
	// embedding, most similar first. Backends without vector support return
	// an empty (non-nil) slice and no error.
	SimilarCorrections(ctx context.Context, embedding []float32, topK int) ([]CorrectionMatch, error)

	// Rewrites returns the learned raw-text to corrected-text pairs from
	// explicit corrections carrying a CorrectedText. Later corrections of
	// the same text win.
	Rewrites(ctx context.Context) (map[string]string, error)
}
