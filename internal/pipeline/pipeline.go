// Package pipeline orchestrates the decision path from captured audio frames
// to dispatched commands.
//
// Two loops run concurrently under one errgroup: the gate loop consumes the
// capture stream frame by frame and emits utterances, and the turn loop
// processes utterances one at a time through recognition, classification,
// planning and dispatch. Because turns are processed strictly in emission
// order, utterance N's turn is always appended to the session history before
// utterance N+1's, while gating keeps running concurrently with an in-flight
// turn. A full turn queue drops the newest utterance rather than stalling
// frame ingestion.
//
// Per the error design, nothing here is fatal to the session: a failed
// recognition or execution degrades to a spoken prompt and the loops keep
// running.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hark-voice/hark/internal/asr"
	"github.com/hark-voice/hark/internal/dispatch"
	"github.com/hark-voice/hark/internal/gate"
	"github.com/hark-voice/hark/internal/intent"
	"github.com/hark-voice/hark/internal/observe"
	"github.com/hark-voice/hark/internal/planner"
	"github.com/hark-voice/hark/internal/session"
	"github.com/hark-voice/hark/pkg/types"
)

// defaultUtteranceBuf is the default depth of the utterance queue between the
// gate loop and the turn loop. Sized to absorb a burst of short utterances
// while a slow remote classification is in flight.
const defaultUtteranceBuf = 8

// Spoken prompts for the two user-visible failure outcomes.
const (
	promptNotCaught    = "Sorry, I didn't catch that."
	promptUnresolvable = "I'm not sure what you want me to do. Could you say it differently?"
)

// Recognizer turns one utterance into a transcript.
type Recognizer interface {
	Recognize(ctx context.Context, u types.Utterance) (types.Transcript, error)
}

// Classifier maps a transcript to a classification. It never fails.
type Classifier interface {
	Classify(ctx context.Context, tr types.Transcript, history intent.ContextReader) types.ClassificationResult
}

// Planner resolves a classification into a command or a disambiguation
// request.
type Planner interface {
	Plan(cls types.ClassificationResult, history planner.ContextReader) (*types.Command, *planner.DisambiguationRequest, error)
}

// Dispatcher runs a planned command and reports the turn outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd types.Command) (types.Outcome, string)
}

// Learner receives completed turns and correction events. Both calls are
// side-effect only.
type Learner interface {
	Observe(ctx context.Context, ev types.CorrectionEvent)
	ObserveTurn(ctx context.Context, turn types.ContextTurn)
}

// Notifier is told about every completed turn, e.g. by the monitor server's
// event stream. Implementations must not block.
type Notifier interface {
	TurnCompleted(turn types.ContextTurn)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSpeech sets the speech output used for prompts. Defaults to
// [dispatch.LogSpeech].
func WithSpeech(s dispatch.SpeechOutput) Option {
	return func(p *Pipeline) { p.speech = s }
}

// WithLearner attaches the correction learner.
func WithLearner(l Learner) Option {
	return func(p *Pipeline) { p.learner = l }
}

// WithNotifier attaches a turn event listener.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithUtteranceBuffer overrides the utterance queue depth.
func WithUtteranceBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.utteranceBuf = n
		}
	}
}

// WithMetrics overrides the metrics instance stage timings and counters are
// recorded to.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the per-session decision pipeline. Construct with [New] and
// drive it with [Pipeline.Run].
type Pipeline struct {
	gate       *gate.Gate
	recognizer Recognizer
	classifier Classifier
	planner    Planner
	dispatcher Dispatcher
	history    *session.Manager
	speech     dispatch.SpeechOutput
	learner    Learner
	notifier   Notifier
	metrics    *observe.Metrics

	utteranceBuf int
}

// New assembles a Pipeline over the given stages.
func New(g *gate.Gate, rec Recognizer, cls Classifier, pln Planner, disp Dispatcher, history *session.Manager, opts ...Option) *Pipeline {
	p := &Pipeline{
		gate:         g,
		recognizer:   rec,
		classifier:   cls,
		planner:      pln,
		dispatcher:   disp,
		history:      history,
		speech:       dispatch.LogSpeech{},
		metrics:      observe.DefaultMetrics(),
		utteranceBuf: defaultUtteranceBuf,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run consumes frames until the channel closes or ctx is cancelled,
// processing every emitted utterance. It returns ctx's error on
// cancellation and nil when the capture stream ends cleanly.
func (p *Pipeline) Run(ctx context.Context, frames <-chan types.AudioFrame) error {
	utterances := make(chan types.Utterance, p.utteranceBuf)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(utterances)
		return p.gateLoop(ctx, frames, utterances)
	})
	g.Go(func() error {
		return p.turnLoop(ctx, utterances)
	})
	return g.Wait()
}

// Correct forwards an externally observed correction to the learner. No-op
// without one.
func (p *Pipeline) Correct(ctx context.Context, ev types.CorrectionEvent) {
	if p.learner != nil {
		p.learner.Observe(ctx, ev)
	}
}

// gateLoop feeds every captured frame through the voice activity gate and
// queues emitted utterances. It never blocks on a slow turn loop.
func (p *Pipeline) gateLoop(ctx context.Context, frames <-chan types.AudioFrame, out chan<- types.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			u, emitted := p.gate.ProcessFrame(f)
			if !emitted {
				continue
			}
			p.metrics.Utterances.Add(ctx, 1)
			select {
			case out <- u:
				p.metrics.PendingUtterances.Add(ctx, 1)
			default:
				slog.Warn("turn queue full, utterance dropped", "seq", u.Seq)
			}
		}
	}
}

// turnLoop processes utterances strictly in order.
func (p *Pipeline) turnLoop(ctx context.Context, utterances <-chan types.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			p.metrics.PendingUtterances.Add(ctx, -1)
			p.processUtterance(ctx, u)
		}
	}
}

// processUtterance runs one utterance through recognition, classification,
// planning and dispatch, then appends the completed turn.
func (p *Pipeline) processUtterance(ctx context.Context, u types.Utterance) {
	recStart := time.Now()
	tr, err := p.recognizer.Recognize(ctx, u)
	p.metrics.RecognitionDuration.Record(ctx, time.Since(recStart).Seconds())
	if err != nil {
		// A silent capture is dropped without ceremony; a dead recognizer
		// gets a spoken "didn't catch that". Neither appends a turn.
		if errors.Is(err, asr.ErrNoSpeech) {
			slog.Debug("utterance contained no speech", "seq", u.Seq)
			return
		}
		slog.Warn("recognition unavailable, utterance dropped", "seq", u.Seq, "error", err)
		p.say(ctx, promptNotCaught)
		return
	}

	clsStart := time.Now()
	cls := p.classifier.Classify(ctx, tr, p.history)
	p.metrics.ClassificationDuration.Record(ctx, time.Since(clsStart).Seconds())
	p.metrics.RecordClassification(ctx, string(cls.Tier), string(cls.Task))
	slog.Debug("transcript classified",
		"seq", u.Seq, "text", tr.Text, "task", cls.Task, "tier", cls.Tier)

	turn := types.ContextTurn{
		Transcript:     tr,
		Classification: cls,
		CreatedAt:      time.Now(),
	}

	cmd, dis, err := p.planner.Plan(cls, p.history)
	switch {
	case err != nil:
		slog.Info("intent unresolvable", "seq", u.Seq, "text", tr.Text)
		turn.Outcome = types.OutcomeAmbiguous
		p.say(ctx, promptUnresolvable)

	case dis != nil:
		slog.Info("disambiguation required",
			"seq", u.Seq, "task", dis.Task, "missing", dis.Missing)
		turn.Outcome = types.OutcomeAmbiguous
		p.say(ctx, dis.Prompt)

	default:
		dispStart := time.Now()
		outcome, detail := p.dispatcher.Dispatch(ctx, *cmd)
		p.metrics.DispatchDuration.Record(ctx, time.Since(dispStart).Seconds())
		turn.Command = cmd
		turn.Outcome = outcome
		if outcome == types.OutcomeFailed && p.learner != nil {
			p.learner.Observe(ctx, types.CorrectionEvent{
				Turn:       turn,
				Reason:     types.CorrectionExecFailure,
				Detail:     detail,
				MeanEnergy: u.MeanEnergy,
				PeakEnergy: u.PeakEnergy,
				ObservedAt: time.Now(),
			})
		}
	}

	before := p.history.Len()
	p.history.Append(turn)
	p.metrics.ContextTurns.Add(ctx, int64(p.history.Len()-before))
	p.metrics.RecordTurnOutcome(ctx, string(turn.Outcome))
	if p.learner != nil {
		p.learner.ObserveTurn(ctx, turn)
	}
	if p.notifier != nil {
		p.notifier.TurnCompleted(turn)
	}
}

func (p *Pipeline) say(ctx context.Context, text string) {
	if err := p.speech.Say(ctx, text); err != nil {
		slog.Warn("speech output failed", "error", err)
	}
}
