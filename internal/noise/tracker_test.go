package noise_test

import (
	"testing"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/noise"
)

func testThresholdConfig() config.ThresholdConfig {
	return config.ThresholdConfig{
		InitialFloor:  150,
		InitialMargin: 300,
		Decay:         0.1,
		MarginRelax:   0.01,
		FloorMin:      30,
		FloorMax:      5000,
		MarginMin:     100,
		MarginMax:     2000,
	}
}

func TestTracker_FloorFollowsSilenceEnergy(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())

	var st noise.State
	for range 200 {
		st = tr.Update(400)
	}
	if st.Floor < 390 || st.Floor > 400 {
		t.Errorf("Floor=%v after sustained 400-energy silence, want ~400", st.Floor)
	}
	if st.Threshold != st.Floor+st.Margin {
		t.Errorf("Threshold=%v, want Floor+Margin=%v", st.Threshold, st.Floor+st.Margin)
	}
}

func TestTracker_FloorClamped(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())

	var st noise.State
	for range 1000 {
		st = tr.Update(50_000)
	}
	if st.Floor != 5000 {
		t.Errorf("Floor=%v after runaway energy, want clamp at 5000", st.Floor)
	}

	for range 1000 {
		st = tr.Update(0)
	}
	if st.Floor != 30 {
		t.Errorf("Floor=%v after dead silence, want clamp at 30", st.Floor)
	}
}

func TestTracker_MarginWidenNarrowClamped(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())

	for range 100 {
		tr.WidenMargin(500)
	}
	if got := tr.Snapshot().Margin; got != 2000 {
		t.Errorf("Margin=%v after repeated widening, want clamp at 2000", got)
	}

	for range 100 {
		tr.NarrowMargin(500)
	}
	if got := tr.Snapshot().Margin; got != 100 {
		t.Errorf("Margin=%v after repeated narrowing, want clamp at 100", got)
	}
}

func TestTracker_MarginRelaxesTowardBaseline(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())
	tr.WidenMargin(700) // margin now 1000

	var st noise.State
	for range 2000 {
		st = tr.Update(150)
	}
	if st.Margin > 320 {
		t.Errorf("Margin=%v after long silence, want relaxed toward 300", st.Margin)
	}
	if st.Margin < 300 {
		t.Errorf("Margin=%v relaxed past its baseline of 300", st.Margin)
	}
}

func TestTracker_OverrideSuspendsAdaptation(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())

	st := tr.Override(500, 400)
	if !st.Overridden {
		t.Fatal("Overridden=false after Override")
	}
	if st.Floor != 500 || st.Margin != 400 {
		t.Fatalf("Override state Floor=%v Margin=%v, want 500/400", st.Floor, st.Margin)
	}

	tr.Update(4000)
	tr.WidenMargin(300)
	st = tr.Snapshot()
	if st.Floor != 500 || st.Margin != 400 {
		t.Errorf("state changed under override: Floor=%v Margin=%v", st.Floor, st.Margin)
	}

	st = tr.Resume()
	if st.Overridden {
		t.Fatal("Overridden=true after Resume")
	}
	st = tr.Update(4000)
	if st.Floor == 500 {
		t.Error("Floor did not adapt after Resume")
	}
}

func TestTracker_OverrideValuesClamped(t *testing.T) {
	t.Parallel()

	tr := noise.NewTracker(testThresholdConfig())
	st := tr.Override(-10, 99_999)
	if st.Floor != 30 {
		t.Errorf("Floor=%v, want clamped to 30", st.Floor)
	}
	if st.Margin != 2000 {
		t.Errorf("Margin=%v, want clamped to 2000", st.Margin)
	}
}
