// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// The learning store uses embeddings to retrieve corrections recorded for
// transcripts similar to one the pipeline has not seen verbatim. Any service
// that maps text to dense float32 vectors can back it: a hosted API, a local
// inference server, or a test double.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over a text-embedding backend.
//
// Every vector produced by one Provider instance has the same length,
// reported by Dimensions. Vectors from different providers or models live in
// different spaces and must not be compared against each other.
type Provider interface {
	// Embed computes the vector for a single text. The text is passed to
	// the backend verbatim; any model-specific prompt formatting is the
	// caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one backend call.
	// The result has the same length and order as texts. On error the
	// whole result is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the backend's model identifier, for logging and for
	// verifying that stored vectors match the configured model.
	ModelID() string
}
