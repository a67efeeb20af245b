package memory

import (
	"time"

	"github.com/hark-voice/hark/pkg/types"
)

// queryOptions accumulates filters for [Store.Corrections]. Unexported;
// callers configure it via [QueryOpt] functional options.
type queryOptions struct {
	reasons []types.CorrectionReason
	since   time.Time
	limit   int
}

// QueryOpt is a functional option for [Store.Corrections].
type QueryOpt func(*queryOptions)

// WithReasons restricts results to corrections with one of the given trigger
// reasons. An empty list (the default) returns all reasons.
func WithReasons(reasons ...types.CorrectionReason) QueryOpt {
	return func(o *queryOptions) {
		o.reasons = append(o.reasons, reasons...)
	}
}

// WithSince filters corrections observed after t (exclusive). A zero time
// disables the bound.
func WithSince(t time.Time) QueryOpt {
	return func(o *queryOptions) { o.since = t }
}

// WithLimit caps the number of records returned. A value of 0 means the
// backend may apply its own default.
func WithLimit(n int) QueryOpt {
	return func(o *queryOptions) { o.limit = n }
}

// ApplyQueryOpts resolves the options into a concrete filter. Exported for
// backend implementations in sub-packages.
func ApplyQueryOpts(opts []QueryOpt) (reasons []types.CorrectionReason, since time.Time, limit int) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.reasons, o.since, o.limit
}
