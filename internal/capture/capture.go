// Package capture turns a raw PCM byte stream into the fixed-size audio
// frames the pipeline consumes.
//
// The capture collaborator is any process that writes 16-bit signed
// little-endian mono PCM to Hark's stdin, e.g.:
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | hark -config hark.yaml
//
// Frames carry monotonic timestamps derived from the number of samples read,
// so downstream timing does not depend on wall-clock scheduling.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/pkg/types"
)

// frameBuf is the depth of the emitted frame channel. Enough to absorb brief
// scheduling hiccups without the reader stalling.
const frameBuf = 32

// Reader frames a PCM byte stream. Construct with [NewReader].
type Reader struct {
	src        io.Reader
	sampleRate int
	frameBytes int
	frameDur   time.Duration
}

// NewReader creates a Reader for the configured PCM format.
func NewReader(src io.Reader, cfg config.AudioConfig) *Reader {
	samplesPerFrame := cfg.SampleRate * cfg.FrameMs / 1000
	return &Reader{
		src:        src,
		sampleRate: cfg.SampleRate,
		frameBytes: samplesPerFrame * 2,
		frameDur:   time.Duration(cfg.FrameMs) * time.Millisecond,
	}
}

// Frames reads the source until EOF or ctx cancellation, emitting one frame
// per FrameMs worth of samples. The returned channel is closed when the
// stream ends; a trailing partial frame is discarded.
func (r *Reader) Frames(ctx context.Context) <-chan types.AudioFrame {
	out := make(chan types.AudioFrame, frameBuf)
	go func() {
		defer close(out)
		var ts time.Duration
		for {
			buf := make([]byte, r.frameBytes)
			if _, err := io.ReadFull(r.src, buf); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("capture: read failed", "error", err)
				}
				return
			}
			frame := types.AudioFrame{
				PCM:        buf,
				SampleRate: r.sampleRate,
				Timestamp:  ts,
			}
			ts += r.frameDur
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Validate reports a configuration the Reader cannot frame.
func Validate(cfg config.AudioConfig) error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("capture: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.FrameMs <= 0 {
		return fmt.Errorf("capture: frame duration %dms must be positive", cfg.FrameMs)
	}
	if cfg.SampleRate*cfg.FrameMs%1000 != 0 {
		return fmt.Errorf("capture: %dms frames at %dHz do not contain a whole number of samples",
			cfg.FrameMs, cfg.SampleRate)
	}
	return nil
}
