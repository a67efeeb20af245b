// Package intent maps normalized transcripts to classified tasks.
//
// Classification is two-tier. The remote tier sends the transcript to a
// configured [classify.Provider] under a bounded timeout; its answer is used
// only when it arrives in time with confidence at or above the configured
// floor. Everything else falls through to the deterministic rule tier, which
// never fails: keyword and pattern matching against the fixed task set, with
// TaskUnknown as the terminal default. Remote-tier degradation is absorbed
// here and logged at debug level; the pipeline never sees it as an error.
package intent

import (
	"context"
	"log/slog"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/pkg/provider/classify"
	"github.com/hark-voice/hark/pkg/types"
)

// anaphora phrases inherit the previous turn's classification outright.
var anaphora = map[string]bool{
	"again":            true,
	"do that again":    true,
	"do it again":      true,
	"repeat that":      true,
	"same again":       true,
	"one more time":    true,
	"the same as last": true,
}

// maxRecentForRemote bounds how many prior turns are offered to the remote
// tier for reference resolution.
const maxRecentForRemote = 3

// ContextReader is the read side of the session history consulted during
// classification. Reads never block on writers.
type ContextReader interface {
	// Recent returns up to n most recent non-expired turns, newest first.
	Recent(n int) []types.ContextTurn
}

// Feedback exposes the correction learner's per-transcript state to the
// classifier. A nil Feedback disables both adjustments.
type Feedback interface {
	// SuspectTask returns the task type marked suspect for this exact
	// transcript after a downstream execution failure, if any. The rule
	// tier answers TaskUnknown instead of a suspect task, forcing
	// disambiguation until the mark is cleared.
	SuspectTask(text string) (types.TaskType, bool)

	// FloorDelta returns the extra confidence the remote tier must reach
	// for this transcript. Zero for transcripts without a flapping history.
	FloorDelta(text string) float64
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithFeedback connects the correction learner's per-transcript adjustments.
func WithFeedback(f Feedback) Option {
	return func(c *Classifier) { c.feedback = f }
}

// Classifier is the two-tier intent classifier. Construct with
// [NewClassifier]. Safe for concurrent use.
type Classifier struct {
	remote   classify.Provider
	timeout  time.Duration
	floor    float64
	rules    *Rules
	feedback Feedback
}

// NewClassifier creates a Classifier. remote may be nil, which disables the
// remote tier entirely (rule-based only).
func NewClassifier(cfg config.ClassifierConfig, rules *Rules, remote classify.Provider, opts ...Option) *Classifier {
	c := &Classifier{
		remote:  remote,
		timeout: cfg.Timeout(),
		floor:   cfg.ConfidenceFloor,
		rules:   rules,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify maps one transcript to a ClassificationResult. It never fails:
// every degradation path ends in the rule tier, whose terminal answer is
// TaskUnknown. history may be nil when no session context exists.
func (c *Classifier) Classify(ctx context.Context, tr types.Transcript, history ContextReader) types.ClassificationResult {
	text := tr.Text

	// Bare anaphora inherits the previous turn wholesale; there is nothing
	// for either tier to extract from "do that again".
	if anaphora[text] && history != nil {
		if prior := history.Recent(1); len(prior) > 0 {
			return inherit(prior[0].Classification)
		}
	}

	if c.remote != nil {
		if res, ok := c.classifyRemote(ctx, text, history); ok {
			return res
		}
	}

	res := c.rules.Classify(text)
	if c.feedback != nil {
		if suspect, ok := c.feedback.SuspectTask(text); ok && suspect == res.Task {
			slog.Debug("suspect task forced to unknown",
				"text", text, "suspect", suspect)
			return unknownResult()
		}
	}
	return res
}

// classifyRemote runs the remote tier under its timeout. ok=false means the
// caller falls back to rules: timeout, transport error, invalid task type, or
// confidence under the (possibly learner-raised) floor.
func (c *Classifier) classifyRemote(ctx context.Context, text string, history ContextReader) (types.ClassificationResult, bool) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.remote.Classify(rctx, classify.Request{
		Text:   text,
		Recent: recentTexts(history),
	})
	if err != nil {
		slog.Debug("remote classification degraded, using rules",
			"error", err)
		return types.ClassificationResult{}, false
	}
	if !res.Task.IsValid() {
		slog.Debug("remote classifier returned invalid task, using rules",
			"task", res.Task)
		return types.ClassificationResult{}, false
	}

	floor := c.floor
	if c.feedback != nil {
		floor += c.feedback.FloorDelta(text)
	}
	if res.Confidence < floor {
		slog.Debug("remote confidence below floor, using rules",
			"confidence", res.Confidence, "floor", floor)
		return types.ClassificationResult{}, false
	}

	res.Tier = types.TierRemote
	if res.Slots == nil {
		res.Slots = map[string]string{}
	}
	return res, true
}

// recentTexts flattens the most recent turns into their transcript texts,
// oldest first, for the remote tier's reference resolution.
func recentTexts(history ContextReader) []string {
	if history == nil {
		return nil
	}
	turns := history.Recent(maxRecentForRemote)
	texts := make([]string, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		texts = append(texts, turns[i].Transcript.Text)
	}
	return texts
}

// inherit copies a prior classification for an anaphoric repeat. The copy is
// deliberate: the caller must not alias the stored turn's slot map.
func inherit(prior types.ClassificationResult) types.ClassificationResult {
	slots := make(map[string]string, len(prior.Slots))
	for k, v := range prior.Slots {
		slots[k] = v
	}
	return types.ClassificationResult{
		Task:       prior.Task,
		Complexity: prior.Complexity,
		Confidence: prior.Confidence,
		Slots:      slots,
		Tier:       types.TierRules,
	}
}
