// Package gate implements the voice activity gate: a frame-driven state
// machine that segments a continuous PCM stream into discrete utterances
// using the adaptive threshold from [noise.Tracker].
//
// The machine has three resting states (Idle, Listening, TrailingSilence)
// and closes an utterance as a transient result of ProcessFrame:
//
//	Idle              -- energy above threshold for debounce_frames --> Listening
//	Listening         -- energy below threshold                    --> TrailingSilence
//	TrailingSilence   -- energy recovers within grace              --> Listening
//	TrailingSilence   -- grace elapses                             --> emit, back to Idle
//
// Utterances shorter than the configured minimum are discarded as noise.
// An utterance exceeding the configured maximum duration is force-emitted so
// a stuck-open microphone cannot buffer unbounded audio.
//
// Frame energies are fed to the noise tracker only while the gate is in Idle
// or TrailingSilence, never while Listening: adapting the floor on speech
// frames would suppress future detection.
//
// The gate is a single-threaded cooperative consumer: ProcessFrame must be
// called from one goroutine (the pipeline's frame loop).
package gate

import (
	"log/slog"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/noise"
	"github.com/hark-voice/hark/pkg/audio"
	"github.com/hark-voice/hark/pkg/types"
)

// State enumerates the gate's resting states.
type State int

const (
	// Idle means no speech is being tracked.
	Idle State = iota

	// Listening means the gate is open and accumulating frames.
	Listening

	// TrailingSilence means energy dropped below threshold and the gate is
	// waiting out the grace window before closing.
	TrailingSilence
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case TrailingSilence:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Gate segments audio frames into utterances. Construct with [New].
type Gate struct {
	cfg     config.GateConfig
	tracker *noise.Tracker

	state    State
	voiceRun int // consecutive above-threshold frames while Idle

	// Utterance accumulation.
	frames     []types.AudioFrame
	start      time.Duration
	peak       float64
	energySum  float64
	speechIdx  int           // frame count before trailing silence began
	speechEnd  time.Duration // timestamp where trailing silence began
	silenceAge time.Duration // accumulated trailing silence

	// debounce holds candidate frames seen while Idle so the utterance
	// includes its own onset once the debounce requirement is met.
	debounce []types.AudioFrame

	seq uint64
}

// New creates a Gate driven by the given tracker.
func New(cfg config.GateConfig, tracker *noise.Tracker) *Gate {
	return &Gate{cfg: cfg, tracker: tracker}
}

// State returns the current resting state.
func (g *Gate) State() State { return g.state }

// ProcessFrame advances the state machine by one frame. When the frame closes
// an utterance (grace elapsed or maximum duration exceeded), the buffered
// utterance is returned with ok=true; otherwise ok is false.
func (g *Gate) ProcessFrame(f types.AudioFrame) (types.Utterance, bool) {
	energy := audio.RMS(f.PCM)

	switch g.state {
	case Idle:
		st := g.tracker.Snapshot()
		if energy <= st.Threshold {
			g.tracker.Update(energy)
			g.voiceRun = 0
			g.debounce = g.debounce[:0]
			return types.Utterance{}, false
		}
		g.voiceRun++
		g.debounce = append(g.debounce, f)
		if g.voiceRun < g.cfg.DebounceFrames {
			return types.Utterance{}, false
		}
		g.open(energy)
		return types.Utterance{}, false

	case Listening:
		st := g.tracker.Snapshot()
		g.frames = append(g.frames, f)
		if energy < st.Threshold {
			g.state = TrailingSilence
			g.speechIdx = len(g.frames) - 1
			g.speechEnd = f.Timestamp
			g.silenceAge = f.Duration()
			if g.silenceAge >= g.cfg.Grace() {
				return g.close(g.speechEnd, g.speechIdx, "grace")
			}
			return types.Utterance{}, false
		}
		g.energySum += energy
		if energy > g.peak {
			g.peak = energy
		}
		if g.elapsed(f) >= g.cfg.MaxUtterance() {
			return g.close(f.Timestamp+f.Duration(), len(g.frames), "max-duration")
		}
		return types.Utterance{}, false

	case TrailingSilence:
		st := g.tracker.Snapshot()
		g.frames = append(g.frames, f)
		if energy >= st.Threshold {
			// Brief dip, resume the same utterance.
			g.state = Listening
			g.energySum += energy
			if energy > g.peak {
				g.peak = energy
			}
			return types.Utterance{}, false
		}
		g.tracker.Update(energy)
		g.silenceAge += f.Duration()
		if g.silenceAge >= g.cfg.Grace() {
			return g.close(g.speechEnd, g.speechIdx, "grace")
		}
		return types.Utterance{}, false
	}

	return types.Utterance{}, false
}

// open transitions Idle → Listening, seeding the buffer with the debounce
// prefix so the utterance onset is not lost.
func (g *Gate) open(energy float64) {
	g.state = Listening
	g.frames = append(g.frames[:0], g.debounce...)
	g.debounce = g.debounce[:0]
	g.voiceRun = 0
	g.start = g.frames[0].Timestamp
	g.peak = energy
	g.energySum = 0
	for _, f := range g.frames {
		e := audio.RMS(f.PCM)
		g.energySum += e
		if e > g.peak {
			g.peak = e
		}
	}
}

// close finalizes the current utterance, truncating any buffered trailing
// silence, and resets to Idle. Utterances below the minimum duration are
// discarded.
func (g *Gate) close(end time.Duration, keep int, cause string) (types.Utterance, bool) {
	frames := make([]types.AudioFrame, keep)
	copy(frames, g.frames[:keep])

	dur := end - g.start
	mean := 0.0
	if len(frames) > 0 {
		mean = g.energySum / float64(len(frames))
	}
	peak := g.peak
	start := g.startOf(frames)
	g.reset()

	if dur < g.cfg.MinUtterance() {
		slog.Debug("gate: discarding short utterance", "duration", dur, "cause", cause)
		return types.Utterance{}, false
	}

	g.seq++
	u := types.Utterance{
		Frames:     frames,
		Start:      start,
		End:        end,
		PeakEnergy: peak,
		MeanEnergy: mean,
		Seq:        g.seq,
	}
	slog.Debug("gate: utterance emitted",
		"seq", u.Seq, "duration", dur, "frames", len(frames), "cause", cause)
	return u, true
}

func (g *Gate) startOf(frames []types.AudioFrame) time.Duration {
	if len(frames) == 0 {
		return g.start
	}
	return frames[0].Timestamp
}

func (g *Gate) reset() {
	g.state = Idle
	g.voiceRun = 0
	g.frames = g.frames[:0]
	g.silenceAge = 0
	g.speechIdx = 0
}

// elapsed returns the utterance duration up to and including frame f.
func (g *Gate) elapsed(f types.AudioFrame) time.Duration {
	return f.Timestamp + f.Duration() - g.start
}
