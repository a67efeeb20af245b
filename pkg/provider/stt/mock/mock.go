// Package mock provides a test double for the stt.Engine interface.
//
// Script the engine with a queue of results or a fixed error, then inspect
// the recorded calls:
//
//	eng := &mock.Engine{}
//	eng.Enqueue(stt.Result{Text: "open notepad"}, nil)
//	res, err := eng.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/hark-voice/hark/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. PCM is a copy.
	Req stt.Request
}

// scripted is one queued Transcribe outcome.
type scripted struct {
	res stt.Result
	err error
}

// Engine is a mock implementation of stt.Engine. The zero value returns empty
// results; use Enqueue or the fixed fields to script behavior.
type Engine struct {
	mu sync.Mutex

	// Result is returned by Transcribe when the scripted queue is empty.
	Result stt.Result

	// Err, if non-nil, is returned by Transcribe when the queue is empty.
	Err error

	// BlockUntil, if non-nil, makes Transcribe wait for the channel (or ctx)
	// before returning. Used to exercise deadline handling.
	BlockUntil <-chan struct{}

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	queue []scripted
}

// Enqueue appends one scripted outcome. Queued outcomes are consumed in FIFO
// order before the fixed Result/Err fields apply.
func (e *Engine) Enqueue(res stt.Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, scripted{res: res, err: err})
}

// Transcribe records the call and returns the next scripted outcome.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	e.mu.Lock()
	pcm := make([]byte, len(req.PCM))
	copy(pcm, req.PCM)
	rec := req
	rec.PCM = pcm
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: rec})

	var out scripted
	if len(e.queue) > 0 {
		out = e.queue[0]
		e.queue = e.queue[1:]
	} else {
		out = scripted{res: e.Result, err: e.Err}
	}
	block := e.BlockUntil
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	return out.res, out.err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.TranscribeCalls)
}

// Reset clears recorded calls and the scripted queue. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
	e.queue = nil
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)
