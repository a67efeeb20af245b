// Package learn implements the online correction learner.
//
// The learner consumes correction events and completed turns and answers with
// narrow, clamped parameter updates, never a retrain:
//
//   - explicit corrections boost the rule tier's keyword weight for the
//     intended task, record a transcript rewrite when the user restated the
//     text, and feed the utterance energy profile back into the voice
//     threshold margin
//   - the repeated-utterance heuristic widens the threshold margin and
//     raises the remote-confidence floor for transcripts that keep resolving
//     differently within a short window
//   - executor failures mark the resolved task suspect for that exact
//     transcript, forcing disambiguation until the same input classifies
//     successfully again
//
// Persisted corrections survive restarts: recent records are replayed into
// suspect marks and floor raises at session start, and a failing transcript
// with no in-memory history is recalled from the store — by exact text first,
// then by embedding similarity.
//
// Observation never fails: malformed events are logged and swallowed, and
// persistence or embedding errors degrade to in-memory-only learning.
package learn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/intent"
	"github.com/hark-voice/hark/internal/noise"
	"github.com/hark-voice/hark/internal/observe"
	"github.com/hark-voice/hark/pkg/memory"
	"github.com/hark-voice/hark/pkg/provider/embeddings"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface checks against the consumers' contracts.
var (
	_ interface{ Rewrite(string) string } = (*Learner)(nil)
	_ intent.Feedback                     = (*Learner)(nil)
)

const (
	// floorDeltaStep is how much one repeated-utterance update raises the
	// per-transcript remote-confidence floor.
	floorDeltaStep = 0.05

	// floorDeltaMax bounds the accumulated per-transcript floor raise so
	// flapping can never lock the remote tier out entirely.
	floorDeltaMax = 0.3

	// trailingNoiseRatio marks a detection as noise-padded: when the mean
	// energy is this fraction of the peak or less, much of the captured
	// span was near-silence.
	trailingNoiseRatio = 0.3

	// denseSpeechRatio marks a detection as edge-clipped: mean energy close
	// to peak suggests speech filled the whole capture window.
	denseSpeechRatio = 0.7

	// persistTimeout bounds store and embedding calls made from Observe.
	persistTimeout = 5 * time.Second

	// restoreWindow and restoreLimit bound the correction replay at session
	// start: only recent records rebuild suspect marks and floor raises.
	restoreWindow = 24 * time.Hour
	restoreLimit  = 500

	// similarTopK and similarMaxDistance tune the vector lookup that seeds
	// the confidence floor for transcripts never corrected verbatim.
	similarTopK        = 3
	similarMaxDistance = 0.25

	// reliableRate and reliableMinSamples describe a command with enough
	// dispatch history and a high enough success rate that one execution
	// failure does not warrant a suspect mark.
	reliableRate       = 0.8
	reliableMinSamples = 5
)

// repeatObs is one completed turn recorded for the repeated-utterance window.
type repeatObs struct {
	outcome types.Outcome
	at      time.Time
}

// Option configures a [Learner].
type Option func(*Learner)

// WithStore attaches a persistent learning store. Corrections are saved
// best-effort; store failures are logged and swallowed.
func WithStore(s memory.Store) Option {
	return func(l *Learner) { l.store = s }
}

// WithEmbedder attaches an embeddings provider used to vectorize persisted
// corrections for similarity retrieval.
func WithEmbedder(p embeddings.Provider) Option {
	return func(l *Learner) { l.embedder = p }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// SuccessRates reports per-command dispatch statistics. The session history
// implements this.
type SuccessRates interface {
	// CommandSuccessRate returns the success fraction and sample count for
	// the named command.
	CommandSuccessRate(name string) (rate float64, samples int)
}

// WithSuccessRates lets the learner consult per-command success history
// before marking a task suspect.
func WithSuccessRates(r SuccessRates) Option {
	return func(l *Learner) { l.rates = r }
}

// WithMetrics overrides the metrics instance applied corrections are
// recorded to.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Learner) { l.metrics = m }
}

// Learner holds the mutable adaptation state. Construct with [New]. All
// methods are safe for concurrent use.
type Learner struct {
	cfg      config.LearnerConfig
	rules    *intent.Rules
	tracker  *noise.Tracker
	store    memory.Store
	embedder embeddings.Provider
	rates    SuccessRates
	metrics  *observe.Metrics
	now      func() time.Time

	mu          sync.Mutex
	rewrites    map[string]string
	suspects    map[string]types.TaskType
	floorDeltas map[string]float64
	repeats     map[string][]repeatObs
}

// New creates a Learner adjusting the given rule tier and threshold tracker.
func New(cfg config.LearnerConfig, rules *intent.Rules, tracker *noise.Tracker, opts ...Option) *Learner {
	l := &Learner{
		cfg:         cfg,
		rules:       rules,
		tracker:     tracker,
		metrics:     observe.DefaultMetrics(),
		now:         time.Now,
		rewrites:    make(map[string]string),
		suspects:    make(map[string]types.TaskType),
		floorDeltas: make(map[string]float64),
		repeats:     make(map[string][]repeatObs),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Restore hydrates the in-memory state from the attached store: the whole
// rewrite table, plus suspect marks and per-transcript floor raises replayed
// from recent correction records. A nil store is a no-op. Called once at
// session start.
func (l *Learner) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	rewrites, err := l.store.Rewrites(ctx)
	if err != nil {
		return err
	}
	recent, err := l.store.RecentCorrections(ctx,
		memory.WithSince(l.now().Add(-restoreWindow)),
		memory.WithLimit(restoreLimit),
	)
	if err != nil {
		return err
	}

	l.mu.Lock()
	for text, corrected := range rewrites {
		l.rewrites[text] = corrected
	}
	// RecentCorrections is newest first; replay in observation order so
	// floor raises accumulate the way they originally did.
	for i := len(recent) - 1; i >= 0; i-- {
		l.applyRecordLocked(recent[i])
	}
	nr, ns, nf := len(l.rewrites), len(l.suspects), len(l.floorDeltas)
	l.mu.Unlock()

	slog.Info("learner state restored",
		"rewrites", nr, "suspects", ns, "floor_deltas", nf)
	return nil
}

// applyRecordLocked re-establishes the in-memory adjustment a persisted
// correction stands for. Must be called with l.mu held.
func (l *Learner) applyRecordLocked(rec memory.CorrectionRecord) {
	switch rec.Reason {
	case types.CorrectionExecFailure:
		if rec.Task.IsValid() && rec.Task != types.TaskUnknown {
			l.suspects[rec.Text] = rec.Task
		}
	case types.CorrectionRepeated:
		delta := l.floorDeltas[rec.Text] + floorDeltaStep
		if delta > floorDeltaMax {
			delta = floorDeltaMax
		}
		l.floorDeltas[rec.Text] = delta
	}
}

// Observe applies one correction event. Side-effect only: malformed events
// are logged and dropped, and no failure ever propagates to the caller.
func (l *Learner) Observe(ctx context.Context, ev types.CorrectionEvent) {
	text := ev.Turn.Transcript.Text
	if text == "" {
		slog.Warn("correction ignored: event carries no transcript", "reason", ev.Reason)
		return
	}

	switch ev.Reason {
	case types.CorrectionExplicit:
		l.observeExplicit(text, ev)
	case types.CorrectionRepeated:
		l.applyRepeated(text)
	case types.CorrectionExecFailure:
		l.observeExecFailure(text, ev)
	default:
		slog.Warn("correction ignored: unknown reason", "reason", ev.Reason, "text", text)
		return
	}

	l.metrics.RecordLearnerUpdate(ctx, string(ev.Reason))
	l.persist(ctx, text, ev)
}

// ObserveTurn records one completed turn: it clears suspect marks on success
// and feeds the repeated-utterance window.
func (l *Learner) ObserveTurn(ctx context.Context, turn types.ContextTurn) {
	text := turn.Transcript.Text
	if text == "" {
		return
	}
	at := turn.CreatedAt
	if at.IsZero() {
		at = l.now()
	}

	l.mu.Lock()
	if turn.Outcome == types.OutcomeSucceeded {
		delete(l.suspects, text)
	}
	fired := l.recordRepeatLocked(text, turn.Outcome, at)
	l.mu.Unlock()

	if fired {
		slog.Info("repeated-utterance heuristic fired", "text", text)
		l.applyRepeated(text)
		l.metrics.RecordLearnerUpdate(ctx, string(types.CorrectionRepeated))
		l.persist(ctx, text, types.CorrectionEvent{
			Turn:       turn,
			Reason:     types.CorrectionRepeated,
			ObservedAt: at,
		})
		return
	}

	if turn.Outcome != types.OutcomeSucceeded {
		l.recall(ctx, text)
	}
}

// recall consults the store when a transcript fails without any in-memory
// history: an exact-text match re-establishes the recorded adjustment, and
// failing that the vector index seeds the confidence floor from the nearest
// corrected transcript. No-op without a store.
func (l *Learner) recall(ctx context.Context, text string) {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	_, suspect := l.suspects[text]
	_, floored := l.floorDeltas[text]
	l.mu.Unlock()
	if suspect || floored {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	recs, err := l.store.Corrections(rctx, text,
		memory.WithReasons(types.CorrectionExecFailure, types.CorrectionRepeated),
		memory.WithLimit(1),
	)
	if err != nil {
		slog.Warn("correction recall failed", "error", err, "text", text)
		return
	}
	if len(recs) > 0 {
		l.mu.Lock()
		l.applyRecordLocked(recs[0])
		l.mu.Unlock()
		slog.Info("correction recalled from store", "text", text, "reason", recs[0].Reason)
		return
	}

	if l.embedder == nil {
		return
	}
	vec, err := l.embedder.Embed(rctx, text)
	if err != nil {
		slog.Warn("recall embedding failed", "error", err, "text", text)
		return
	}
	matches, err := l.store.SimilarCorrections(rctx, vec, similarTopK)
	if err != nil {
		slog.Warn("similarity recall failed", "error", err, "text", text)
		return
	}
	for _, m := range matches {
		if m.Distance > similarMaxDistance || m.Record.Text == text {
			continue
		}
		l.mu.Lock()
		delta := l.floorDeltas[text] + floorDeltaStep
		if delta > floorDeltaMax {
			delta = floorDeltaMax
		}
		l.floorDeltas[text] = delta
		l.mu.Unlock()
		slog.Info("confidence floor seeded from similar correction",
			"text", text, "like", m.Record.Text, "distance", m.Distance)
		return
	}
}

// Rewrite maps a normalized transcript through the learned rewrite table.
// Unknown texts pass through unchanged.
func (l *Learner) Rewrite(text string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if corrected, ok := l.rewrites[text]; ok {
		return corrected
	}
	return text
}

// SuspectTask implements the classifier's feedback contract.
func (l *Learner) SuspectTask(text string) (types.TaskType, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.suspects[text]
	return task, ok
}

// FloorDelta implements the classifier's feedback contract.
func (l *Learner) FloorDelta(text string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.floorDeltas[text]
}

func (l *Learner) observeExplicit(text string, ev types.CorrectionEvent) {
	if ev.CorrectedTask.IsValid() && ev.CorrectedTask != types.TaskUnknown {
		l.rules.Boost(ev.CorrectedTask, l.cfg.WeightStep)
		if orig := ev.Turn.Classification.Task; orig.IsValid() &&
			orig != types.TaskUnknown && orig != ev.CorrectedTask {
			l.rules.Boost(orig, -l.cfg.WeightStep)
		}
	}

	if ev.CorrectedText != "" && ev.CorrectedText != text {
		l.mu.Lock()
		l.rewrites[text] = ev.CorrectedText
		l.mu.Unlock()
		slog.Info("transcript rewrite learned", "from", text, "to", ev.CorrectedText)
	}

	// Energy profile as a weak threshold signal: a noise-padded capture
	// means the gate opened or stayed open too easily, a wall-to-wall one
	// means it may be clipping edges.
	if ev.PeakEnergy > 0 && ev.MeanEnergy > 0 {
		ratio := ev.MeanEnergy / ev.PeakEnergy
		switch {
		case ratio <= trailingNoiseRatio:
			l.tracker.WidenMargin(l.cfg.MarginStep)
		case ratio >= denseSpeechRatio:
			l.tracker.NarrowMargin(l.cfg.MarginStep)
		}
	}
}

func (l *Learner) observeExecFailure(text string, ev types.CorrectionEvent) {
	task := ev.Turn.Classification.Task
	if !task.IsValid() || task == types.TaskUnknown {
		slog.Warn("correction ignored: exec failure without a resolved task", "text", text)
		return
	}
	// A command with a solid dispatch record blipped; the classification is
	// almost certainly fine, so forcing disambiguation would only annoy.
	if l.rates != nil && ev.Turn.Command != nil {
		name := ev.Turn.Command.Action.Name
		if rate, n := l.rates.CommandSuccessRate(name); n >= reliableMinSamples && rate >= reliableRate {
			slog.Info("suspect mark skipped for reliable command",
				"text", text, "command", name, "rate", rate, "samples", n)
			return
		}
	}
	l.mu.Lock()
	l.suspects[text] = task
	l.mu.Unlock()
	slog.Info("task marked suspect after execution failure",
		"text", text, "task", task, "detail", ev.Detail)
}

// applyRepeated widens the threshold margin and raises the per-transcript
// confidence floor, both clamped.
func (l *Learner) applyRepeated(text string) {
	l.tracker.WidenMargin(l.cfg.MarginStep)

	l.mu.Lock()
	delta := l.floorDeltas[text] + floorDeltaStep
	if delta > floorDeltaMax {
		delta = floorDeltaMax
	}
	l.floorDeltas[text] = delta
	l.mu.Unlock()
}

// recordRepeatLocked appends one outcome to the transcript's observation
// window and reports whether the heuristic fires: at least RepeatThreshold
// occurrences inside the window that did not all resolve the same way. The
// window is cleared on fire so one flapping burst triggers a single update.
// Must be called with l.mu held.
func (l *Learner) recordRepeatLocked(text string, outcome types.Outcome, at time.Time) bool {
	cutoff := at.Add(-l.cfg.RepeatWindow())
	window := l.repeats[text]
	kept := window[:0]
	for _, obs := range window {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
		}
	}
	kept = append(kept, repeatObs{outcome: outcome, at: at})
	l.repeats[text] = kept

	if len(kept) < l.cfg.RepeatThreshold {
		return false
	}
	mixed := false
	for _, obs := range kept[1:] {
		if obs.outcome != kept[0].outcome {
			mixed = true
			break
		}
	}
	if !mixed {
		return false
	}
	delete(l.repeats, text)
	return true
}

// persist saves the correction to the attached store, best-effort.
func (l *Learner) persist(ctx context.Context, text string, ev types.CorrectionEvent) {
	if l.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	rec := memory.CorrectionRecord{
		Text:          text,
		Task:          ev.Turn.Classification.Task,
		Reason:        ev.Reason,
		CorrectedTask: ev.CorrectedTask,
		CorrectedText: ev.CorrectedText,
		Detail:        ev.Detail,
		ObservedAt:    ev.ObservedAt,
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = l.now()
	}
	if l.embedder != nil {
		vec, err := l.embedder.Embed(pctx, text)
		if err != nil {
			slog.Warn("correction embedding failed, saving without vector", "error", err)
		} else {
			rec.Embedding = vec
		}
	}
	if err := l.store.SaveCorrection(pctx, rec); err != nil {
		slog.Warn("correction not persisted", "error", err, "text", text)
	}
}
