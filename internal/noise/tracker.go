// Package noise maintains the adaptive noise floor and voice-presence
// threshold used by the voice activity gate.
//
// The tracker keeps an exponentially weighted moving estimate of background
// RMS energy, updated only from frames the gate classified as silence. The
// voice-presence threshold is the floor plus an adaptive margin: the margin
// widens when the correction learner reports misdetections and relaxes slowly
// back toward its configured baseline otherwise. Both floor and margin are
// clamped to configured ranges so feedback can never drive the tracker into a
// zero-threshold or always-closed state.
//
// All methods are safe for concurrent use: the gate updates the tracker from
// the frame loop while the correction learner adjusts the margin from the
// outcome path.
package noise

import (
	"sync"

	"github.com/hark-voice/hark/internal/config"
)

// State is a consistent snapshot of the tracker's adaptive parameters.
type State struct {
	// Floor is the current background-energy estimate.
	Floor float64

	// Margin is the current distance between floor and threshold.
	Margin float64

	// Threshold is Floor + Margin, the level a frame must exceed to count
	// as voice.
	Threshold float64

	// Overridden reports whether adaptation is suspended by a manual override.
	Overridden bool
}

// Tracker is the adaptive noise/threshold model. Construct with [NewTracker].
type Tracker struct {
	cfg config.ThresholdConfig

	mu         sync.Mutex
	floor      float64
	margin     float64
	overridden bool
}

// NewTracker creates a Tracker seeded with the configured initial floor and
// margin. The initial values are clamped like every later update.
func NewTracker(cfg config.ThresholdConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		floor:  clamp(cfg.InitialFloor, cfg.FloorMin, cfg.FloorMax),
		margin: clamp(cfg.InitialMargin, cfg.MarginMin, cfg.MarginMax),
	}
}

// Update folds one silence-classified frame energy into the floor estimate
// and relaxes the margin toward its baseline, returning the new snapshot.
//
// The caller must only feed energies from frames outside an active utterance;
// adapting on speech frames would raise the floor during speech and suppress
// future detection. Updates are ignored while a manual override is active.
func (t *Tracker) Update(frameEnergy float64) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.overridden {
		t.floor = clamp(
			t.floor+(frameEnergy-t.floor)*t.cfg.Decay,
			t.cfg.FloorMin, t.cfg.FloorMax,
		)
		// Relax the margin a small fraction of the way back to its baseline.
		t.margin = clamp(
			t.margin+(t.cfg.InitialMargin-t.margin)*t.cfg.MarginRelax,
			t.cfg.MarginMin, t.cfg.MarginMax,
		)
	}
	return t.snapshotLocked()
}

// Snapshot returns the current state without mutating it.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// WidenMargin moves the margin outward by delta (clamped). Called by the
// correction learner when detections included excess trailing noise or when
// the repeated-utterance heuristic fires. No-op under manual override.
func (t *Tracker) WidenMargin(delta float64) State {
	return t.adjustMargin(delta)
}

// NarrowMargin moves the margin inward by delta (clamped). Called by the
// correction learner when detections were cut short. No-op under manual
// override.
func (t *Tracker) NarrowMargin(delta float64) State {
	return t.adjustMargin(-delta)
}

func (t *Tracker) adjustMargin(delta float64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.overridden {
		t.margin = clamp(t.margin+delta, t.cfg.MarginMin, t.cfg.MarginMax)
	}
	return t.snapshotLocked()
}

// Override pins the floor and margin to explicit values and suspends all
// adaptation until [Tracker.Resume] is called. The values are still clamped.
func (t *Tracker) Override(floor, margin float64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.floor = clamp(floor, t.cfg.FloorMin, t.cfg.FloorMax)
	t.margin = clamp(margin, t.cfg.MarginMin, t.cfg.MarginMax)
	t.overridden = true
	return t.snapshotLocked()
}

// Resume re-enables adaptation after a manual override. The overridden values
// remain in place as the new starting point.
func (t *Tracker) Resume() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overridden = false
	return t.snapshotLocked()
}

// snapshotLocked builds a State. Must be called with t.mu held.
func (t *Tracker) snapshotLocked() State {
	return State{
		Floor:      t.floor,
		Margin:     t.margin,
		Threshold:  t.floor + t.margin,
		Overridden: t.overridden,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
