package resilience_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hark-voice/hark/internal/resilience"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func succeeding() error { return nil }

func TestBreaker_OpensAfterTripFailures(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 3})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err=%v, want backend error", i, err)
		}
	}
	if got := b.State(); got != resilience.Open {
		t.Fatalf("State()=%v after trip, want open", got)
	}
	if err := b.Do(succeeding); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err=%v while open, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 3})

	b.Do(failing)
	b.Do(failing)
	b.Do(succeeding)
	b.Do(failing)
	b.Do(failing)
	if got := b.State(); got != resilience.Closed {
		t.Errorf("State()=%v, want closed (success should reset the count)", got)
	}
}

func TestBreaker_ClosesAfterProbeQuota(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:       "test",
		Trip:       1,
		Cooldown:   10 * time.Millisecond,
		ProbeQuota: 2,
	})

	b.Do(failing)
	if got := b.State(); got != resilience.Open {
		t.Fatalf("State()=%v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != resilience.HalfOpen {
		t.Fatalf("State()=%v after cooldown, want half-open", got)
	}

	if err := b.Do(succeeding); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if err := b.Do(succeeding); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := b.State(); got != resilience.Closed {
		t.Errorf("State()=%v after probes, want closed", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:     "test",
		Trip:     1,
		Cooldown: 10 * time.Millisecond,
	})

	b.Do(failing)
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe err=%v, want backend error", err)
	}
	if err := b.Do(succeeding); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err=%v after failed probe, want ErrOpen", err)
	}
}

func TestBreaker_BenignFailurePropagatesWithoutTripping(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 1})
	benign := fmt.Errorf("heard nothing: %w", resilience.ErrBenign)

	// Well past the trip count: benign failures settle as success.
	for i := 0; i < 5; i++ {
		if err := b.Do(func() error { return benign }); !errors.Is(err, resilience.ErrBenign) {
			t.Fatalf("call %d: err=%v, want the benign error propagated", i, err)
		}
	}
	if got := b.State(); got != resilience.Closed {
		t.Errorf("State()=%v after benign failures, want closed", got)
	}

	// And a benign outcome also resets the consecutive-failure count.
	b2 := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 2})
	b2.Do(failing)
	b2.Do(func() error { return benign })
	b2.Do(failing)
	if got := b2.State(); got != resilience.Closed {
		t.Errorf("State()=%v, want closed (benign outcome resets the count)", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 1})
	b.Do(failing)
	b.Reset()
	if got := b.State(); got != resilience.Closed {
		t.Fatalf("State()=%v after Reset, want closed", got)
	}
	if err := b.Do(succeeding); err != nil {
		t.Errorf("err=%v after Reset, want nil", err)
	}
}
