// Package stt defines the Engine interface for batch speech recognizers.
//
// An engine receives one complete utterance of PCM audio and returns its
// transcription. Engines are batch by contract: the voice gate has already
// segmented the stream, so there is no partial-result channel and no session
// lifecycle. This keeps recognizer implementations small and makes failover
// between engines a plain retry with a different backend.
//
// Implementations must be safe for concurrent use; the arbiter may probe a
// recovering engine while another call is in flight.
package stt

import "context"

// Request carries one utterance to transcribe.
type Request struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz. Engines that require a fixed
	// rate resample internally.
	SampleRate int

	// Language is a BCP-47 hint (e.g., "en", "de"). Empty lets the engine
	// auto-detect or use its configured default.
	Language string
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed text, untrimmed as returned by the engine.
	Text string

	// Confidence is the engine's self-reported confidence in [0, 1].
	// Only meaningful when HasConfidence is true; engines whose APIs do not
	// expose a score leave it false.
	Confidence float64

	// HasConfidence reports whether Confidence carries a real value.
	HasConfidence bool
}

// Engine is the abstraction over any batch speech recognizer.
type Engine interface {
	// Transcribe recognizes one utterance. An empty Result.Text with a nil
	// error means the engine heard no speech in the audio.
	//
	// Transcribe must respect ctx cancellation; the arbiter enforces a
	// per-engine deadline through it.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
