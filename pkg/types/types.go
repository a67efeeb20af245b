// Package types defines the shared types used across all Hark packages.
//
// These types form the lingua franca between the voice gate, the ASR arbiter,
// the intent classifier, the command planner, and the correction learner. Each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// AudioFrame is a fixed-size block of PCM samples flowing through the pipeline.
// Frames are the atomic unit of audio transport — produced by the capture
// collaborator, gated by the voice activity gate, and buffered into utterances.
type AudioFrame struct {
	// PCM is 16-bit signed little-endian mono audio data.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to session start.
	// Monotonic within one capture stream.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is one contiguous span of detected speech between gate-open and
// gate-close. It owns the buffered frames until the ASR arbiter consumes it.
type Utterance struct {
	// Frames holds the buffered audio in capture order.
	Frames []AudioFrame

	// Start and End are the boundary timestamps detected by the gate.
	Start time.Duration
	End   time.Duration

	// PeakEnergy and MeanEnergy are RMS energy statistics over the buffered
	// frames, retained for threshold feedback in the correction learner.
	PeakEnergy float64
	MeanEnergy float64

	// Seq is a monotonically increasing utterance number assigned by the gate.
	// Downstream stages use it to preserve per-utterance ordering.
	Seq uint64
}

// Duration returns the total speech duration between the gate boundaries.
func (u Utterance) Duration() time.Duration {
	return u.End - u.Start
}

// PCM concatenates the buffered frames into one contiguous sample buffer.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.PCM)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.PCM...)
	}
	return out
}

// EngineTag identifies which ASR engine produced a transcript.
type EngineTag string

const (
	// EnginePrimary marks output from the preferred recognizer.
	EnginePrimary EngineTag = "primary"

	// EngineSecondary marks output from the fallback recognizer.
	EngineSecondary EngineTag = "secondary"
)

// Transcript is a normalized speech-to-text result. Immutable once produced.
type Transcript struct {
	// Text is the normalized transcription (trimmed, locale-lowercased,
	// whitespace-collapsed). Identical normalization is applied regardless of
	// which engine answered, so downstream components are engine-agnostic.
	Text string

	// Raw is the engine output before normalization. Preserved for debugging
	// and for the learner's rewrite table.
	Raw string

	// Engine records which recognizer answered.
	Engine EngineTag

	// Confidence is the engine's confidence score (0.0–1.0).
	// HasConfidence is false when the engine does not report one.
	Confidence    float64
	HasConfidence bool

	// Start, End and Seq carry over the source utterance's timing and ordering.
	Start time.Duration
	End   time.Duration
	Seq   uint64
}

// TaskType is one of the fixed task classifications a transcript can map to.
type TaskType string

const (
	TaskAppControl   TaskType = "app-control"
	TaskMessaging    TaskType = "messaging"
	TaskQuery        TaskType = "query"
	TaskFileOp       TaskType = "file-op"
	TaskSystemOp     TaskType = "system-op"
	TaskConversation TaskType = "conversation"
	TaskUnknown      TaskType = "unknown"
)

// IsValid reports whether t is a recognised task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskAppControl, TaskMessaging, TaskQuery, TaskFileOp,
		TaskSystemOp, TaskConversation, TaskUnknown:
		return true
	}
	return false
}

// ClassifierTier identifies which classification tier produced a result.
type ClassifierTier string

const (
	// TierRemote marks results from the remote/heavier classifier.
	TierRemote ClassifierTier = "remote"

	// TierRules marks results from the deterministic rule-based classifier.
	TierRules ClassifierTier = "rules"
)

// ClassificationResult maps a transcript to a task type with extracted slots.
// Task is always set; TaskUnknown is the safe default when confidence falls
// below the configured floor.
type ClassificationResult struct {
	// Task is the classified task type. Never empty.
	Task TaskType

	// Complexity is a bounded score in [0, 1] describing how involved the
	// request is. Rule-based unknown results carry complexity 0.
	Complexity float64

	// Slots maps slot names to extracted values. Keys are unique. The output
	// shape is identical across tiers.
	Slots map[string]string

	// Confidence is the classifier's own confidence in [0, 1].
	Confidence float64

	// Tier records which classifier tier produced this result.
	Tier ClassifierTier
}

// Outcome describes how a completed turn ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAmbiguous Outcome = "ambiguous"
)

// ContextTurn is a completed pipeline cycle stored in the session history.
type ContextTurn struct {
	Transcript     Transcript
	Classification ClassificationResult

	// Command is the resolved command, or nil when the turn ended in
	// disambiguation or an unresolvable intent.
	Command *Command

	Outcome Outcome

	// CreatedAt is the wall-clock insertion time, used for TTL eviction.
	CreatedAt time.Time
}

// Action is a single named executor action with resolved slot values.
type Action struct {
	// Name is the action identifier understood by the executor
	// (e.g., "launch", "close", "send_message", "type_text").
	Name string

	// Slots holds the resolved parameter values for this action.
	Slots map[string]string
}

// Command is the planner's output: a named action, or an ordered sequence of
// sub-actions for multi-step intents. A Command is only emitted once all
// required slots for its task type are resolved.
type Command struct {
	// Task is the task type this command was planned for.
	Task TaskType

	// Action is the primary action. For multi-step commands it is the first step.
	Action Action

	// Steps holds the ordered sub-actions of a multi-step command, including
	// the primary action as the first element. Nil for single-action commands.
	// Each step's preconditions are assumed satisfied only after the prior
	// step's reported success.
	Steps []Action
}

// CorrectionReason tags the trigger source of a correction event.
type CorrectionReason string

const (
	// CorrectionExplicit is a user-stated correction of task type or slots.
	CorrectionExplicit CorrectionReason = "explicit"

	// CorrectionRepeated is the repeated-utterance heuristic: the same
	// normalized transcript resolved differently several times in a short window.
	CorrectionRepeated CorrectionReason = "repeated"

	// CorrectionExecFailure is a downstream execution failure reported by the
	// executor collaborator.
	CorrectionExecFailure CorrectionReason = "exec-failure"
)

// CorrectionEvent describes one observed misclassification. It is consumed
// exactly once by the correction learner and then discarded.
type CorrectionEvent struct {
	// Turn is the turn being corrected.
	Turn ContextTurn

	// Reason tags the trigger source.
	Reason CorrectionReason

	// CorrectedTask and CorrectedSlots carry the user's intended
	// classification for explicit corrections. Zero-valued otherwise.
	CorrectedTask  TaskType
	CorrectedSlots map[string]string

	// CorrectedText is the user's intended transcript text for explicit
	// corrections of a misrecognition, or empty.
	CorrectedText string

	// Detail is optional structured detail from the executor
	// (e.g., "target window not found").
	Detail string

	// MeanEnergy and PeakEnergy carry the source utterance's RMS statistics
	// when the energy profile is still available. Zero when it is not; the
	// learner then skips the threshold feedback signal.
	MeanEnergy float64
	PeakEnergy float64

	// ObservedAt is when the correction was observed.
	ObservedAt time.Time
}
