// Package file provides an append-only JSONL implementation of the learning
// store, suitable for single-user desktop deployments without a database.
//
// Records are one JSON object per line. The whole file is read on queries;
// the store targets the scale of one user's correction history, not a fleet.
// Similarity lookup is unsupported and returns empty results.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/hark-voice/hark/pkg/memory"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// record is the JSONL wire form of a correction.
type record struct {
	ID            int64                  `json:"id"`
	Text          string                 `json:"text"`
	Task          types.TaskType         `json:"task,omitempty"`
	Reason        types.CorrectionReason `json:"reason"`
	CorrectedTask types.TaskType         `json:"corrected_task,omitempty"`
	CorrectedText string                 `json:"corrected_text,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
	ObservedAt    time.Time              `json:"observed_at"`
}

// Store persists corrections as JSON lines in a local file. Thread-safe for
// concurrent use within one process; the file is not locked across processes.
type Store struct {
	mu   sync.Mutex
	path string
	next int64
}

// NewStore creates a Store writing to path. The file is created on first
// save; an existing file is scanned once to continue the ID sequence.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, next: 1}
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID >= s.next {
			s.next = r.ID + 1
		}
	}
	return s, nil
}

// SaveCorrection implements [memory.Store].
func (s *Store) SaveCorrection(_ context.Context, rec memory.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := record{
		ID:            s.next,
		Text:          rec.Text,
		Task:          rec.Task,
		Reason:        rec.Reason,
		CorrectedTask: rec.CorrectedTask,
		CorrectedText: rec.CorrectedText,
		Detail:        rec.Detail,
		ObservedAt:    rec.ObservedAt,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file store: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("file store: write: %w", err)
	}
	s.next++
	return nil
}

// Corrections implements [memory.Store].
func (s *Store) Corrections(_ context.Context, text string, opts ...memory.QueryOpt) ([]memory.CorrectionRecord, error) {
	reasons, since, limit := memory.ApplyQueryOpts(opts)

	s.mu.Lock()
	records, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := []memory.CorrectionRecord{}
	// Newest first: the file is append-ordered, so walk it backwards.
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Text != text {
			continue
		}
		if !since.IsZero() && !r.ObservedAt.After(since) {
			continue
		}
		if len(reasons) > 0 && !containsReason(reasons, r.Reason) {
			continue
		}
		out = append(out, memory.CorrectionRecord{
			ID:            r.ID,
			Text:          r.Text,
			Task:          r.Task,
			Reason:        r.Reason,
			CorrectedTask: r.CorrectedTask,
			CorrectedText: r.CorrectedText,
			Detail:        r.Detail,
			ObservedAt:    r.ObservedAt,
		})
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
	records, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := []memory.CorrectionRecord{}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if !since.IsZero() && !r.ObservedAt.After(since) {
			continue
		}
		if len(reasons) > 0 && !containsReason(reasons, r.Reason) {
			continue
		}
		out = append(out, memory.CorrectionRecord{
			ID:            r.ID,
			Text:          r.Text,
			Task:          r.Task,
			Reason:        r.Reason,
			CorrectedTask: r.CorrectedTask,
			CorrectedText: r.CorrectedText,
			Detail:        r.Detail,
			ObservedAt:    r.ObservedAt,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SimilarCorrections implements [memory.Store]. The file backend has no
// vector index.
func (s *Store) SimilarCorrections(context.Context, []float32, int) ([]memory.CorrectionMatch, error) {
	return []memory.CorrectionMatch{}, nil
}

// Rewrites implements [memory.Store].
func (s *Store) Rewrites(context.Context) (map[string]string, error) {
	s.mu.Lock()
	records, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rewrites := make(map[string]string)
	for _, r := range records {
		if r.Reason == types.CorrectionExplicit && r.CorrectedText != "" {
			rewrites[r.Text] = r.CorrectedText
		}
	}
	return rewrites, nil
}

// readAll loads every record in file order. A missing file is an empty store.
func (s *Store) readAll() ([]record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("file store: open: %w", err)
	}
	defer f.Close()

	var records []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("file store: parse line: %w", err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	return records, nil
}

func containsReason(reasons []types.CorrectionReason, r types.CorrectionReason) bool {
	for _, want := range reasons {
		if want == r {
			return true
		}
	}
	return false
}
