// Package resilience provides the failure-isolation primitives used around
// external recognizers and classifier backends: a three-state circuit
// [Breaker] and a [Chain] that fails over between named entries with a
// dedicated breaker per entry.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("breaker open")

// ErrBenign marks failures that must still propagate to the caller — to
// drive failover, say — without counting against the breaker. An error
// wrapping ErrBenign settles as success: a recognizer that ran fine but
// heard nothing is not a broken recognizer.
var ErrBenign = errors.New("benign failure")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// Closed forwards every call.
	Closed BreakerState = iota

	// Open rejects calls with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a limited number of probe calls through. Enough
	// consecutive successes close the breaker; any failure re-opens it.
	HalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take documented defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Trip int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// ProbeQuota is the number of consecutive half-open successes required
	// to close. Default: 2.
	ProbeQuota int
}

// Breaker is a three-state circuit breaker. Construct with [NewBreaker].
type Breaker struct {
	name       string
	trip       int
	cooldown   time.Duration
	probeQuota int

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int // consecutive half-open successes
	openedAt  time.Time
	probing   int // in-flight half-open probes
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 2
	}
	return &Breaker{
		name:       cfg.Name,
		trip:       cfg.Trip,
		cooldown:   cfg.Cooldown,
		probeQuota: cfg.ProbeQuota,
	}
}

// Do runs fn if the breaker admits the call and folds its error into the
// breaker's failure accounting. When the breaker is open, fn is not called and
// [ErrOpen] is returned.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, handling the open → half-open
// transition.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.successes = 0
		b.probing = 0
		slog.Info("breaker probing after cooldown", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probing >= b.probeQuota {
			return ErrOpen
		}
		b.probing++
	}
	return nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(err error) {
	if err != nil && errors.Is(err, ErrBenign) {
		err = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probing--
		if err != nil {
			b.reopenLocked()
			return
		}
		b.successes++
		if b.successes >= b.probeQuota {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed after successful probes", "name", b.name)
		}

	case Closed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.trip {
			b.reopenLocked()
		}

	case Open:
		// A call admitted before the breaker opened is settling late; its
		// outcome no longer matters.
	}
}

// reopenLocked trips the breaker. Must be called with b.mu held.
func (b *Breaker) reopenLocked() {
	b.state = Open
	b.openedAt = time.Now()
	b.successes = 0
	slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
}

// State reports the effective state: an open breaker whose cooldown has
// elapsed reports [HalfOpen] even though the transition happens on the next
// [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.probing = 0
}
