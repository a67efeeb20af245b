// This file provides the Native engine API for builds without CGO, where
// the whisper.cpp bindings cannot be compiled. Constructing a Native engine
// in such builds fails with a descriptive error.

//go:build !cgo

package whisper

import (
	"context"
	"errors"

	"github.com/hark-voice/hark/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Engine.
var _ stt.Engine = (*Native)(nil)

// errNoCGO reports that the native whisper.cpp engine is unavailable because
// the binary was built with CGO disabled.
var errNoCGO = errors.New("whisper: native engine requires a build with CGO enabled")

// Native implements [stt.Engine] with in-process whisper.cpp inference.
// In builds without CGO it cannot be constructed; NewNative returns an error.
type Native struct {
	language string
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
// given file path. In builds without CGO it always returns an error.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	return nil, errNoCGO
}

// Close releases the whisper model.
func (n *Native) Close() error {
	return nil
}

// Transcribe runs whisper.cpp inference over one utterance. In builds
// without CGO it always returns an error.
func (n *Native) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return stt.Result{}, errNoCGO
}
