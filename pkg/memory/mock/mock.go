// Package mock provides an in-memory test double for the memory.Store
// interface.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hark-voice/hark/pkg/memory"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is an in-memory memory.Store. Similarity lookup uses exact cosine
// distance over the stored embeddings. Set Err to force every method to fail.
type Store struct {
	mu      sync.Mutex
	records []memory.CorrectionRecord
	next    int64

	// Err, if non-nil, is returned by every method.
	Err error
}

// SaveCorrection implements [memory.Store].
func (s *Store) SaveCorrection(_ context.Context, rec memory.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.next++
	rec.ID = s.next
	if rec.Embedding != nil {
		rec.Embedding = append([]float32(nil), rec.Embedding...)
	}
	s.records = append(s.records, rec)
	return nil
}

// Corrections implements [memory.Store].
func (s *Store) Corrections(_ context.Context, text string, opts ...memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	reasons, since, limit := memory.ApplyQueryOpts(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	out := []memory.CorrectionRecord{}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Text != text {
			continue
		}
		if !since.IsZero() && !r.ObservedAt.After(since) {
			continue
		}
		if len(reasons) > 0 && !reasonIn(reasons, r.Reason) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RecentCorrections implements [memory.Store].
func (s *Store) RecentCorrections(_ context.Context, opts ...memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	reasons, since, limit := memory.ApplyQueryOpts(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	out := []memory.CorrectionRecord{}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !since.IsZero() && !r.ObservedAt.After(since) {
			continue
		}
		if len(reasons) > 0 && !reasonIn(reasons, r.Reason) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SimilarCorrections implements [memory.Store].
func (s *Store) SimilarCorrections(_ context.Context, embedding []float32, topK int) ([]memory.CorrectionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	matches := []memory.CorrectionMatch{}
	for _, r := range s.records {
		if r.Embedding == nil {
			continue
		}
		matches = append(matches, memory.CorrectionMatch{
			Record:   r,
			Distance: cosineDistance(embedding, r.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Rewrites implements [memory.Store].
func (s *Store) Rewrites(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	rewrites := make(map[string]string)
	for _, r := range s.records {
		if r.Reason == types.CorrectionExplicit && r.CorrectedText != "" {
			rewrites[r.Text] = r.CorrectedText
		}
	}
	return rewrites, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset clears all stored records.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.next = 0
}

func reasonIn(reasons []types.CorrectionReason, r types.CorrectionReason) bool {
	for _, want := range reasons {
		if want == r {
			return true
		}
	}
	return false
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
