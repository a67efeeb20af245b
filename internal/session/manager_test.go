package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/session"
	"github.com/hark-voice/hark/pkg/types"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func turn(text string, outcome types.Outcome) types.ContextTurn {
	return types.ContextTurn{
		Transcript: types.Transcript{Text: text},
		Classification: types.ClassificationResult{
			Task:  types.TaskAppControl,
			Slots: map[string]string{"action": "launch", "app": text},
		},
		Outcome: outcome,
	}
}

func TestManager_RecentNewestFirst(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 10})
	m.Append(turn("one", types.OutcomeSucceeded))
	m.Append(turn("two", types.OutcomeSucceeded))
	m.Append(turn("three", types.OutcomeSucceeded))

	got := m.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d turns", len(got))
	}
	if got[0].Transcript.Text != "three" || got[1].Transcript.Text != "two" {
		t.Errorf("Recent order = [%s %s], want newest first",
			got[0].Transcript.Text, got[1].Transcript.Text)
	}
}

func TestManager_CapEvictsOldest(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 3})
	for i := range 5 {
		m.Append(turn(fmt.Sprintf("turn-%d", i), types.OutcomeSucceeded))
	}

	if m.Len() != 3 {
		t.Fatalf("Len=%d after overfilling, want 3", m.Len())
	}
	got := m.Recent(3)
	want := []string{"turn-4", "turn-3", "turn-2"}
	for i, w := range want {
		if got[i].Transcript.Text != w {
			t.Errorf("Recent[%d]=%q, want %q", i, got[i].Transcript.Text, w)
		}
	}
}

func TestManager_TTLEviction(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := session.NewManager(
		config.ContextConfig{TTLMs: 1000, MaxTurns: 10},
		session.WithClock(clock.Now),
	)

	m.Append(turn("old", types.OutcomeSucceeded))
	clock.Advance(600 * time.Millisecond)
	m.Append(turn("fresh", types.OutcomeSucceeded))
	clock.Advance(600 * time.Millisecond)

	got := m.Recent(10)
	if len(got) != 1 || got[0].Transcript.Text != "fresh" {
		t.Fatalf("Recent=%v, want only the fresh turn", got)
	}

	clock.Advance(600 * time.Millisecond)
	if m.Len() != 0 {
		t.Errorf("Len=%d after full expiry, want 0", m.Len())
	}
}

func TestManager_RecentReturnsSnapshots(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 10})
	stored := turn("firefox", types.OutcomeSucceeded)
	stored.Command = &types.Command{
		Task:   types.TaskAppControl,
		Action: types.Action{Name: "launch", Slots: map[string]string{"app": "firefox"}},
	}
	m.Append(stored)

	got := m.Recent(1)[0]
	got.Classification.Slots["app"] = "chrome"
	got.Command.Action.Slots["app"] = "chrome"

	again := m.Recent(1)[0]
	if again.Classification.Slots["app"] != "firefox" {
		t.Error("classification slots leaked through the snapshot")
	}
	if again.Command.Action.Slots["app"] != "firefox" {
		t.Error("command slots leaked through the snapshot")
	}
}

func TestManager_SuccessRate(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 2})
	if m.SuccessRate() != 0 {
		t.Errorf("SuccessRate=%v before any turns, want 0", m.SuccessRate())
	}

	m.Append(turn("a", types.OutcomeSucceeded))
	m.Append(turn("b", types.OutcomeFailed))
	m.Append(turn("c", types.OutcomeSucceeded))
	m.Append(turn("d", types.OutcomeAmbiguous))

	// Lifetime rate: 2 of 4 succeeded, unaffected by cap eviction.
	if got := m.SuccessRate(); got != 0.5 {
		t.Errorf("SuccessRate=%v, want 0.5", got)
	}
}

func commandTurn(action string, outcome types.Outcome) types.ContextTurn {
	t := turn(action, outcome)
	t.Command = &types.Command{
		Task:   types.TaskAppControl,
		Action: types.Action{Name: action, Slots: map[string]string{}},
	}
	return t
}

func TestManager_CommandSuccessRate(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 10})
	m.Append(commandTurn("launch", types.OutcomeSucceeded))
	m.Append(commandTurn("launch", types.OutcomeSucceeded))
	m.Append(commandTurn("launch", types.OutcomeFailed))
	m.Append(commandTurn("close", types.OutcomeFailed))
	// Turns without a command never count toward any command's rate.
	m.Append(turn("do the thing", types.OutcomeAmbiguous))

	if rate, n := m.CommandSuccessRate("launch"); n != 3 || rate < 0.66 || rate > 0.67 {
		t.Errorf("launch rate=(%v, %d), want (2/3, 3)", rate, n)
	}
	if rate, n := m.CommandSuccessRate("close"); n != 1 || rate != 0 {
		t.Errorf("close rate=(%v, %d), want (0, 1)", rate, n)
	}
	if rate, n := m.CommandSuccessRate("never-dispatched"); n != 0 || rate != 0 {
		t.Errorf("unknown command rate=(%v, %d), want (0, 0)", rate, n)
	}
}

func TestManager_CommandRateSurvivesEviction(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 2})
	for range 5 {
		m.Append(commandTurn("launch", types.OutcomeSucceeded))
	}

	if m.Len() != 2 {
		t.Fatalf("Len=%d, want capped at 2", m.Len())
	}
	if _, n := m.CommandSuccessRate("launch"); n != 5 {
		t.Errorf("launch samples=%d after eviction, want all 5 counted", n)
	}
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 10})
	m.Append(turn("a", types.OutcomeSucceeded))
	m.Clear()

	if m.Len() != 0 {
		t.Errorf("Len=%d after Clear, want 0", m.Len())
	}
	if m.SuccessRate() != 1.0 {
		t.Errorf("SuccessRate=%v after Clear, want lifetime counters kept", m.SuccessRate())
	}
}

func TestManager_ConcurrentAppendAndRead(t *testing.T) {
	t.Parallel()

	m := session.NewManager(config.ContextConfig{TTLMs: 300_000, MaxTurns: 8})
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 50 {
				m.Append(turn(fmt.Sprintf("w%d-%d", i, j), types.OutcomeSucceeded))
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				for _, tn := range m.Recent(4) {
					_ = tn.Classification.Slots["app"]
				}
			}
		}()
	}
	wg.Wait()

	if m.Len() > 8 {
		t.Errorf("Len=%d exceeds cap", m.Len())
	}
}
