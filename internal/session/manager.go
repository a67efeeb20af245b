// Package session keeps the bounded conversational context consulted by the
// classifier and the planner.
//
// The history is a FIFO of completed turns capped two ways: a maximum turn
// count and a per-turn time-to-live. Appending past the cap evicts the oldest
// turn; expired turns are dropped lazily on every read and append. Readers
// always get snapshots, so a held result is never mutated by a concurrent
// append.
package session

import (
	"sync"
	"time"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/pkg/types"
)

// Manager is the session turn history. Construct with [NewManager]. All
// methods are safe for concurrent use.
type Manager struct {
	ttl      time.Duration
	maxTurns int
	now      func() time.Time

	mu    sync.Mutex
	turns []types.ContextTurn

	appended   uint64
	succeeded  uint64
	perCommand map[string]*commandStats
}

// commandStats counts dispatches of one named command.
type commandStats struct {
	succeeded uint64
	total     uint64
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a turn history bounded by cfg.
func NewManager(cfg config.ContextConfig, opts ...Option) *Manager {
	m := &Manager{
		ttl:        cfg.TTL(),
		maxTurns:   cfg.MaxTurns,
		now:        time.Now,
		perCommand: make(map[string]*commandStats),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Append records a completed turn as the newest history entry. A zero
// CreatedAt is stamped with the current time. When the history is full the
// oldest turn is evicted first, so the cap is never exceeded.
func (m *Manager) Append(turn types.ContextTurn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	if m.maxTurns > 0 && len(m.turns) >= m.maxTurns {
		drop := len(m.turns) - m.maxTurns + 1
		m.turns = append(m.turns[:0], m.turns[drop:]...)
	}
	m.turns = append(m.turns, turn)

	m.appended++
	if turn.Outcome == types.OutcomeSucceeded {
		m.succeeded++
	}
	if turn.Command != nil && turn.Command.Action.Name != "" {
		st := m.perCommand[turn.Command.Action.Name]
		if st == nil {
			st = &commandStats{}
			m.perCommand[turn.Command.Action.Name] = st
		}
		st.total++
		if turn.Outcome == types.OutcomeSucceeded {
			st.succeeded++
		}
	}
}

// Recent returns up to n non-expired turns, newest first. The returned slice
// and its turns are snapshots.
func (m *Manager) Recent(n int) []types.ContextTurn {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	if n > len(m.turns) {
		n = len(m.turns)
	}
	out := make([]types.ContextTurn, 0, n)
	for i := len(m.turns) - 1; i >= len(m.turns)-n; i-- {
		out = append(out, snapshotTurn(m.turns[i]))
	}
	return out
}

// Len returns the number of non-expired turns currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked()
	return len(m.turns)
}

// SuccessRate returns the fraction of appended turns that ended in
// OutcomeSucceeded, over the manager's whole lifetime. Zero before the first
// append.
func (m *Manager) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appended == 0 {
		return 0
	}
	return float64(m.succeeded) / float64(m.appended)
}

// CommandSuccessRate returns the fraction of dispatches of the named command
// that succeeded, along with the number of dispatches observed. Commands
// never dispatched report (0, 0). Like [Manager.SuccessRate] the counters
// cover the manager's whole lifetime, not just the retained turns.
func (m *Manager) CommandSuccessRate(name string) (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.perCommand[name]
	if st == nil || st.total == 0 {
		return 0, 0
	}
	return float64(st.succeeded) / float64(st.total), int(st.total)
}

// Clear drops the whole history. Lifetime counters are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0]
}

// evictExpiredLocked drops turns older than the TTL. Turns are stored in
// insertion order, so expiry only ever removes a prefix.
func (m *Manager) evictExpiredLocked() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	i := 0
	for i < len(m.turns) && m.turns[i].CreatedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.turns = append(m.turns[:0], m.turns[i:]...)
	}
}

// snapshotTurn deep-copies the maps a caller could otherwise mutate through
// the returned turn.
func snapshotTurn(t types.ContextTurn) types.ContextTurn {
	t.Classification.Slots = copyMap(t.Classification.Slots)
	if t.Command != nil {
		cmd := *t.Command
		cmd.Action.Slots = copyMap(cmd.Action.Slots)
		if cmd.Steps != nil {
			steps := make([]types.Action, len(cmd.Steps))
			for i, s := range cmd.Steps {
				s.Slots = copyMap(s.Slots)
				steps[i] = s
			}
			cmd.Steps = steps
		}
		t.Command = &cmd
	}
	return t
}

func copyMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
