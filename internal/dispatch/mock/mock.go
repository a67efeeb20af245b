// Package mock provides test doubles for the dispatch executor and speech
// output contracts.
package mock

import (
	"context"
	"sync"

	"github.com/hark-voice/hark/internal/dispatch"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface checks.
var (
	_ dispatch.Executor     = (*Executor)(nil)
	_ dispatch.SpeechOutput = (*Speech)(nil)
)

// Executor is a mock dispatch.Executor. Set Result/Err for fixed behavior or
// Fn for per-action logic.
type Executor struct {
	mu sync.Mutex

	// Result is returned by Execute when Fn is nil.
	Result dispatch.Result

	// Err, if non-nil, is returned by Execute when Fn is nil.
	Err error

	// Fn, if non-nil, computes the response for each call.
	Fn func(ctx context.Context, action types.Action) (dispatch.Result, error)

	// ExecuteCalls records every executed action in order. Slot maps are
	// copies.
	ExecuteCalls []types.Action
}

// Execute records the call and returns the scripted response.
func (e *Executor) Execute(ctx context.Context, action types.Action) (dispatch.Result, error) {
	e.mu.Lock()
	rec := action
	rec.Slots = make(map[string]string, len(action.Slots))
	for k, v := range action.Slots {
		rec.Slots[k] = v
	}
	e.ExecuteCalls = append(e.ExecuteCalls, rec)
	fn := e.Fn
	res, err := e.Result, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, action)
	}
	return res, err
}

// CallCount returns the number of Execute calls. Thread-safe.
func (e *Executor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ExecuteCalls)
}

// Reset clears recorded calls.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExecuteCalls = nil
}

// Speech is a mock dispatch.SpeechOutput recording every rendered prompt.
type Speech struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Say.
	Err error

	// SayCalls records every spoken text in order.
	SayCalls []string
}

// Say records the call.
func (s *Speech) Say(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SayCalls = append(s.SayCalls, text)
	return s.Err
}

// CallCount returns the number of Say calls. Thread-safe.
func (s *Speech) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SayCalls)
}
