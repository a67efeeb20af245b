// This file contains the Native engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

//go:build cgo

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hark-voice/hark/pkg/audio"
	"github.com/hark-voice/hark/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Engine.
var _ stt.Engine = (*Native)(nil)

// whisperRate is the only sample rate whisper.cpp accepts.
const whisperRate = 16000

// Native implements [stt.Engine] with in-process whisper.cpp inference,
// eliminating HTTP overhead entirely. The model is loaded once and shared
// across calls; each call gets a fresh whisper context because contexts are
// not safe for concurrent use.
type Native struct {
	model    whisperlib.Model
	language string

	// ctxMu serializes context creation. whisper.cpp context allocation
	// touches shared model state.
	ctxMu sync.Mutex
}

// NativeOption is a functional option for configuring a [Native] engine.
type NativeOption func(*Native)

// WithNativeLanguage sets the default BCP-47 language code for transcription
// (e.g., "en", "de"). Defaults to "en". A per-request language hint takes
// precedence.
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative creates a Native engine that loads the whisper.cpp model from the
// given file path. The caller must call Close when the engine is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over one utterance. The audio is
// resampled to 16 kHz when necessary. whisper.cpp reports no usable
// per-utterance confidence, so Result.HasConfidence is always false.
func (n *Native) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	pcm := audio.ResampleMono16(req.PCM, req.SampleRate, whisperRate)
	samples := audio.PCMToFloat32(pcm)
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	lang := req.Language
	if lang == "" {
		lang = n.language
	}

	n.ctxMu.Lock()
	wctx, err := n.model.NewContext()
	n.ctxMu.Unlock()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	// whisper.cpp inference is not cancellable mid-run; run it in a helper
	// goroutine so the caller's deadline is still honored.
	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		text, err := runInference(wctx, samples)
		ch <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	case out := <-ch:
		if out.err != nil {
			return stt.Result{}, out.err
		}
		return stt.Result{Text: out.text}, nil
	}
}

// runInference processes the samples and concatenates the segment texts.
func runInference(wctx whisperlib.Context, samples []float32) (string, error) {
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
