// Package mock provides a test double for the classify.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/hark-voice/hark/pkg/provider/classify"
	"github.com/hark-voice/hark/pkg/types"
)

// ClassifyCall records a single invocation of Provider.Classify.
type ClassifyCall struct {
	// Ctx is the context passed to Classify.
	Ctx context.Context
	// Req is the request passed to Classify. Recent is a copy.
	Req classify.Request
}

// Provider is a mock implementation of classify.Provider. Set Result/Err for
// fixed behavior or Fn for per-call logic.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Classify when Fn is nil.
	Result types.ClassificationResult

	// Err, if non-nil, is returned by Classify when Fn is nil.
	Err error

	// Fn, if non-nil, computes the response for each call.
	Fn func(ctx context.Context, req classify.Request) (types.ClassificationResult, error)

	// ClassifyCalls records every call in order.
	ClassifyCalls []ClassifyCall
}

// Classify records the call and returns the scripted response.
func (p *Provider) Classify(ctx context.Context, req classify.Request) (types.ClassificationResult, error) {
	p.mu.Lock()
	recent := make([]string, len(req.Recent))
	copy(recent, req.Recent)
	rec := req
	rec.Recent = recent
	p.ClassifyCalls = append(p.ClassifyCalls, ClassifyCall{Ctx: ctx, Req: rec})
	fn := p.Fn
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// CallCount returns the number of Classify calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ClassifyCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls = nil
}

// Ensure Provider implements classify.Provider at compile time.
var _ classify.Provider = (*Provider)(nil)
