// Package classify defines the Provider interface for remote intent
// classification backends.
//
// A classifier receives one normalized transcript plus a short window of
// recent conversation and maps it to a task type with extracted slots. The
// remote tier of the intent engine talks to implementations of this
// interface; the deterministic rule tier lives in the intent engine itself
// and needs no provider.
//
// Implementations must be safe for concurrent use.
package classify

import (
	"context"

	"github.com/hark-voice/hark/pkg/types"
)

// Request carries one transcript to classify.
type Request struct {
	// Text is the normalized transcript.
	Text string

	// Recent holds the texts of the most recent prior turns, newest last.
	// Backends may use them to resolve references like "close it".
	Recent []string
}

// Provider is the abstraction over any remote classification backend.
type Provider interface {
	// Classify maps the request to a [types.ClassificationResult]. The
	// returned result's Task must be a valid task type and its Confidence
	// and Complexity must lie in [0, 1].
	//
	// Classify must respect ctx cancellation; the intent engine enforces a
	// deadline through it and silently falls back to the rule tier on error.
	Classify(ctx context.Context, req Request) (types.ClassificationResult, error)
}
