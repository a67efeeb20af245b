package file_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hark-voice/hark/pkg/memory"
	"github.com/hark-voice/hark/pkg/memory/file"
	"github.com/hark-voice/hark/pkg/types"
)

func testStore(t *testing.T) *file.Store {
	t.Helper()
	s, err := file.NewStore(filepath.Join(t.TempDir(), "corrections.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func rec(text string, reason types.CorrectionReason, at time.Time) memory.CorrectionRecord {
	return memory.CorrectionRecord{
		Text:       text,
		Task:       types.TaskAppControl,
		Reason:     reason,
		ObservedAt: at,
	}
}

func TestStore_SaveAndQuery(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"open notepad", "open notepad", "lock the screen"} {
		if err := s.SaveCorrection(ctx, rec(text, types.CorrectionExecFailure, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Corrections(ctx, "open notepad")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[0].ObservedAt.After(got[1].ObservedAt) {
		t.Error("records not newest first")
	}

	none, err := s.Corrections(ctx, "never said")
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("got %v for unknown text, want empty non-nil slice", none)
	}
}

func TestStore_QueryFilters(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	if err := s.SaveCorrection(ctx, rec("open it", types.CorrectionExplicit, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCorrection(ctx, rec("open it", types.CorrectionRepeated, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCorrection(ctx, rec("open it", types.CorrectionRepeated, base.Add(2*time.Minute))); err != nil {
		t.Fatal(err)
	}

	byReason, err := s.Corrections(ctx, "open it", memory.WithReasons(types.CorrectionRepeated))
	if err != nil {
		t.Fatal(err)
	}
	if len(byReason) != 2 {
		t.Errorf("reason filter returned %d records, want 2", len(byReason))
	}

	since, err := s.Corrections(ctx, "open it", memory.WithSince(base.Add(30*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("since filter returned %d records, want 2", len(since))
	}

	limited, err := s.Corrections(ctx, "open it", memory.WithLimit(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d records, want 1", len(limited))
	}
}

func TestStore_Rewrites(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	first := rec("open note pad", types.CorrectionExplicit, base)
	first.CorrectedText = "open notepad"
	second := rec("open note pad", types.CorrectionExplicit, base.Add(time.Minute))
	second.CorrectedText = "open notepad++"
	noText := rec("lock the screen", types.CorrectionExplicit, base)

	for _, r := range []memory.CorrectionRecord{first, second, noText} {
		if err := s.SaveCorrection(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rewrites, err := s.Rewrites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rewrites) != 1 {
		t.Fatalf("rewrites=%v, want one entry", rewrites)
	}
	if rewrites["open note pad"] != "open notepad++" {
		t.Errorf("rewrite=%q, want the later correction to win", rewrites["open note pad"])
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrections.jsonl")
	ctx := context.Background()

	s1, err := file.NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.SaveCorrection(ctx, rec("open notepad", types.CorrectionExecFailure, time.Now())); err != nil {
		t.Fatal(err)
	}

	s2, err := file.NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.SaveCorrection(ctx, rec("open notepad", types.CorrectionExecFailure, time.Now())); err != nil {
		t.Fatal(err)
	}

	got, err := s2.Corrections(ctx, "open notepad")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records after reopen, want 2", len(got))
	}
	if got[0].ID == got[1].ID {
		t.Error("ID sequence did not continue across reopen")
	}
}

func TestStore_SimilarUnsupported(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	matches, err := s.SimilarCorrections(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if matches == nil || len(matches) != 0 {
		t.Errorf("matches=%v, want empty non-nil slice", matches)
	}
}
