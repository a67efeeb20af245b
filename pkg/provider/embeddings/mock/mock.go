// Package mock provides a deterministic test double for the
// embeddings.Provider interface.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/hark-voice/hark/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock embeddings.Provider. Vectors are derived
// deterministically from the input text, so identical texts always embed
// identically within one dimension setting. Set Err to force failures or
// Vectors to script exact outputs per text.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length produced. Defaults to 8 when zero.
	Dims int

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Vectors overrides the derived vector for specific texts.
	Vectors map[string][]float32

	// EmbedCalls records every embedded text in order, batch calls
	// flattened.
	EmbedCalls []string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	p.EmbedCalls = append(p.EmbedCalls, text)
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		p.EmbedCalls = append(p.EmbedCalls, t)
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return 8
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock" }

// CallCount returns the number of texts embedded so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

// vectorFor derives a unit-independent pseudo-vector from the text hash.
// Must be called with p.mu held.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	dims := p.Dims
	if dims <= 0 {
		dims = 8
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int32(seed>>33)) / float32(1<<31)
	}
	return vec
}
