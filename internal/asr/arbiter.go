// Package asr arbitrates between the configured speech recognition engines.
//
// The [Arbiter] sends each gated utterance to the primary engine under a
// per-attempt deadline and falls back to the secondary when the primary
// fails, times out, or hears no speech. Each engine sits behind its own
// circuit breaker so a crashed recognizer is skipped instead of re-timed-out
// on every utterance. Successful results are normalized and passed through
// the learner's rewrite table before anything downstream sees them.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/observe"
	"github.com/hark-voice/hark/internal/resilience"
	"github.com/hark-voice/hark/pkg/provider/stt"
	"github.com/hark-voice/hark/pkg/types"
)

// ErrUnavailable is returned by [Arbiter.Recognize] when every configured
// engine failed. The utterance is lost; the pipeline surfaces this to the
// user instead of guessing.
var ErrUnavailable = errors.New("speech recognition unavailable")

// ErrNoSpeech is returned when the engines ran but none heard speech in the
// utterance. This is a quiet outcome, not a failure.
var ErrNoSpeech = errors.New("no speech recognized")

// errEmptyResult marks an engine attempt that succeeded but produced no text.
// It flows through the failover chain like a failure so the secondary gets a
// chance to hear something the primary missed, but settles as success in the
// engine's breaker: a run of quiet utterances must not trip a healthy engine.
var errEmptyResult = fmt.Errorf("engine returned empty text: %w", resilience.ErrBenign)

// Rewriter applies learned transcription corrections to normalized text.
// The correction learner implements this; a nil Rewriter disables rewriting.
type Rewriter interface {
	// Rewrite returns the corrected form of text, or text unchanged when no
	// learned correction applies.
	Rewrite(text string) string
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithRewriter installs the learned-correction rewriter applied to every
// normalized transcript.
func WithRewriter(r Rewriter) Option {
	return func(a *Arbiter) { a.rewriter = r }
}

// WithBreakerConfig overrides the per-engine circuit breaker tuning.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(a *Arbiter) { a.breaker = cfg }
}

// WithMetrics overrides the metrics instance engine calls are recorded to.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// Arbiter owns engine failover, normalization and rewrite application for
// speech recognition. Construct with [New]. Safe for concurrent use.
type Arbiter struct {
	timeout  time.Duration
	langHint string
	langTag  language.Tag
	breaker  resilience.BreakerConfig
	rewriter Rewriter
	metrics  *observe.Metrics

	chain *resilience.Chain[stt.Engine]
}

// New creates an Arbiter over the given engines. secondary may be nil when no
// fallback engine is configured. audioCfg.Language doubles as the recognition
// hint and the normalization locale.
func New(cfg config.ASRConfig, audioCfg config.AudioConfig, primary, secondary stt.Engine, opts ...Option) *Arbiter {
	a := &Arbiter{
		timeout:  cfg.Timeout(),
		langHint: audioCfg.Language,
		langTag:  language.Make(audioCfg.Language),
		breaker: resilience.BreakerConfig{
			Trip:     3,
			Cooldown: 20 * time.Second,
		},
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	a.chain = resilience.NewChain[stt.Engine](a.breaker)
	a.chain.Add(string(types.EnginePrimary), primary)
	if secondary != nil {
		a.chain.Add(string(types.EngineSecondary), secondary)
	}
	return a
}

// Recognize transcribes one utterance. On success the transcript carries the
// serving engine's tag and the utterance's timing and sequence number.
//
// Returns [ErrNoSpeech] when the engines ran but heard nothing, and
// [ErrUnavailable] when every engine failed.
func (a *Arbiter) Recognize(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	if len(u.Frames) == 0 {
		return types.Transcript{}, ErrNoSpeech
	}

	req := stt.Request{
		PCM:        u.PCM(),
		SampleRate: u.Frames[0].SampleRate,
		Language:   a.langHint,
	}

	res, served, err := resilience.Try(a.chain, func(name string, eng stt.Engine) (stt.Result, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		r, err := eng.Transcribe(attemptCtx, req)
		if err != nil {
			a.metrics.RecordEngineRequest(ctx, name, "error")
			return stt.Result{}, fmt.Errorf("engine %s: %w", name, err)
		}
		if Normalize(a.langTag, r.Text) == "" {
			a.metrics.RecordEngineRequest(ctx, name, "empty")
			return stt.Result{}, fmt.Errorf("engine %s: %w", name, errEmptyResult)
		}
		a.metrics.RecordEngineRequest(ctx, name, "ok")
		return r, nil
	})
	if err != nil {
		if errors.Is(err, errEmptyResult) {
			slog.Debug("no speech recognized", "seq", u.Seq)
			return types.Transcript{}, ErrNoSpeech
		}
		return types.Transcript{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	text := Normalize(a.langTag, res.Text)
	if a.rewriter != nil {
		if corrected := a.rewriter.Rewrite(text); corrected != text {
			slog.Debug("applied learned rewrite", "from", text, "to", corrected, "seq", u.Seq)
			text = corrected
		}
	}

	t := types.Transcript{
		Text:          text,
		Raw:           res.Text,
		Engine:        types.EngineTag(served),
		Confidence:    res.Confidence,
		HasConfidence: res.HasConfidence,
		Start:         u.Start,
		End:           u.End,
		Seq:           u.Seq,
	}
	slog.Debug("utterance recognized",
		"seq", u.Seq, "engine", t.Engine, "chars", len(t.Text))
	return t, nil
}
