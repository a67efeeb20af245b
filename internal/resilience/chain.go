package resilience

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrExhausted is returned when every entry of a [Chain] either failed or had
// an open breaker.
var ErrExhausted = errors.New("all chain entries failed")

// chainEntry pairs a value with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds an ordered list of interchangeable backends, each guarded by
// its own [Breaker]. Calls run against the first entry whose breaker admits
// them and that succeeds; later entries are tried in order otherwise.
//
// Entries must be added before the chain is used; after that, Chain is safe
// for concurrent use.
type Chain[T any] struct {
	breaker BreakerConfig
	entries []chainEntry[T]

	mu         sync.Mutex
	lastServed string
}

// NewChain creates an empty chain whose per-entry breakers inherit cfg
// (the Name field is replaced by each entry's name).
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{breaker: cfg}
}

// Add appends an entry. Entries are tried in insertion order.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Len returns the number of entries.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Names returns the entry names in order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// LastServed returns the name of the entry that served the most recent
// successful call, or "" if none has succeeded yet.
func (c *Chain[T]) LastServed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastServed
}

// Try runs fn against each entry of the chain in order until one succeeds and
// returns its result along with the serving entry's name. Entries with open
// breakers are skipped. When every entry fails, the zero R is returned with
// an error joining [ErrExhausted] and the last failure, so callers can still
// match the underlying cause with errors.Is.
//
// This is a package-level function because methods cannot introduce the
// result type parameter.
func Try[T, R any](c *Chain[T], fn func(name string, v T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		e := &c.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.name, e.value)
			return callErr
		})
		if err == nil {
			c.mu.Lock()
			c.lastServed = e.name
			c.mu.Unlock()
			return result, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("chain entry skipped, breaker open", "entry", e.name)
		} else {
			slog.Warn("chain entry failed, trying next", "entry", e.name, "error", err)
		}
	}
	return zero, "", errors.Join(ErrExhausted, lastErr)
}
