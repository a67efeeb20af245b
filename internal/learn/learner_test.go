package learn_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/intent"
	"github.com/hark-voice/hark/internal/learn"
	"github.com/hark-voice/hark/internal/noise"
	"github.com/hark-voice/hark/internal/observe"
	memorymock "github.com/hark-voice/hark/pkg/memory/mock"
	embmock "github.com/hark-voice/hark/pkg/provider/embeddings/mock"
	"github.com/hark-voice/hark/pkg/types"
)

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

func testLearnerConfig() config.LearnerConfig {
	return config.LearnerConfig{
		RepeatThreshold: 3,
		RepeatWindowMs:  10_000,
		WeightMin:       0.5,
		WeightMax:       3.0,
		WeightStep:      0.2,
		MarginStep:      50,
	}
}

func testTracker() *noise.Tracker {
	return noise.NewTracker(config.ThresholdConfig{
		InitialFloor:  150,
		InitialMargin: 300,
		Decay:         0.05,
		MarginRelax:   0.002,
		FloorMin:      30,
		FloorMax:      5000,
		MarginMin:     100,
		MarginMax:     500,
	})
}

type fixture struct {
	rules   *intent.Rules
	tracker *noise.Tracker
	learner *learn.Learner
	clock   *fakeClock
	store   *memorymock.Store
}

func newFixture(opts ...learn.Option) *fixture {
	f := &fixture{
		rules:   intent.NewRules(nil, 0.5, 3.0),
		tracker: testTracker(),
		clock:   newFakeClock(),
		store:   &memorymock.Store{},
	}
	all := append([]learn.Option{learn.WithClock(f.clock.Now)}, opts...)
	f.learner = learn.New(testLearnerConfig(), f.rules, f.tracker, all...)
	return f
}

func turn(text string, task types.TaskType, outcome types.Outcome, at time.Time) types.ContextTurn {
	return types.ContextTurn{
		Transcript: types.Transcript{Text: text, Raw: text},
		Classification: types.ClassificationResult{
			Task:  task,
			Slots: map[string]string{},
			Tier:  types.TierRules,
		},
		Outcome:   outcome,
		CreatedAt: at,
	}
}

func TestObserve_ExplicitBoostsCorrectedTask(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.learner.Observe(context.Background(), types.CorrectionEvent{
		Turn:          turn("text bob hello", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedTask: types.TaskMessaging,
	})

	if got := f.rules.Weight(types.TaskMessaging); got != 1.2 {
		t.Errorf("messaging weight=%v, want boosted to 1.2", got)
	}
	if got := f.rules.Weight(types.TaskAppControl); got != 0.8 {
		t.Errorf("app-control weight=%v, want penalized to 0.8", got)
	}
}

func TestObserve_ExplicitLearnsRewrite(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.learner.Observe(context.Background(), types.CorrectionEvent{
		Turn:          turn("open node pad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedText: "open notepad",
	})

	if got := f.learner.Rewrite("open node pad"); got != "open notepad" {
		t.Errorf("Rewrite=%q, want the learned correction", got)
	}
	if got := f.learner.Rewrite("open firefox"); got != "open firefox" {
		t.Errorf("Rewrite=%q, unknown text must pass through", got)
	}
}

func TestObserve_ExplicitEnergyWidensMargin(t *testing.T) {
	t.Parallel()

	f := newFixture()
	before := f.tracker.Snapshot().Margin

	// Mean far below peak: the capture was mostly noise padding.
	f.learner.Observe(context.Background(), types.CorrectionEvent{
		Turn:       turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:     types.CorrectionExplicit,
		MeanEnergy: 200,
		PeakEnergy: 2000,
	})

	after := f.tracker.Snapshot().Margin
	if after != before+50 {
		t.Errorf("margin %v -> %v, want widened by the margin step", before, after)
	}
}

func TestObserve_ExecFailureMarksSuspect(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	f.learner.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionExecFailure,
		Detail: "target window not found",
	})

	task, ok := f.learner.SuspectTask("open notepad")
	if !ok || task != types.TaskAppControl {
		t.Fatalf("SuspectTask=(%q,%v), want app-control marked", task, ok)
	}
	if _, ok := f.learner.SuspectTask("other text"); ok {
		t.Error("suspect mark leaked to an unrelated transcript")
	}

	// A later successful turn for the same input clears the mark.
	f.learner.ObserveTurn(ctx, turn("open notepad", types.TaskAppControl, types.OutcomeSucceeded, f.clock.Now()))
	if _, ok := f.learner.SuspectTask("open notepad"); ok {
		t.Error("suspect mark not cleared by a successful classification")
	}
}

func TestObserveTurn_RepeatedHeuristic(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	marginBefore := f.tracker.Snapshot().Margin

	// Same transcript, flapping outcomes, inside the window.
	outcomes := []types.Outcome{types.OutcomeSucceeded, types.OutcomeFailed}
	for i := range 3 {
		f.learner.ObserveTurn(ctx, turn("open it", types.TaskAppControl, outcomes[i%2], f.clock.Now()))
		f.clock.Advance(time.Second)
	}

	if got := f.learner.FloorDelta("open it"); got != 0.05 {
		t.Errorf("FloorDelta=%v after flapping, want one step", got)
	}
	if got := f.tracker.Snapshot().Margin; got != marginBefore+50 {
		t.Errorf("margin=%v, want widened once", got)
	}
	if got := f.learner.FloorDelta("open notepad"); got != 0 {
		t.Errorf("FloorDelta=%v for unrelated text, want 0", got)
	}
}

func TestObserveTurn_ConsistentOutcomesNeverFire(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	for range 5 {
		f.learner.ObserveTurn(ctx, turn("open it", types.TaskAppControl, types.OutcomeSucceeded, f.clock.Now()))
		f.clock.Advance(time.Second)
	}
	if got := f.learner.FloorDelta("open it"); got != 0 {
		t.Errorf("FloorDelta=%v for consistent outcomes, want 0", got)
	}
}

func TestObserveTurn_WindowExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	// Two flapping turns, then a long gap: the third must not complete a
	// window that has already aged out.
	f.learner.ObserveTurn(ctx, turn("open it", types.TaskAppControl, types.OutcomeSucceeded, f.clock.Now()))
	f.clock.Advance(time.Second)
	f.learner.ObserveTurn(ctx, turn("open it", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()))
	f.clock.Advance(time.Minute)
	f.learner.ObserveTurn(ctx, turn("open it", types.TaskAppControl, types.OutcomeSucceeded, f.clock.Now()))

	if got := f.learner.FloorDelta("open it"); got != 0 {
		t.Errorf("FloorDelta=%v after the window expired, want 0", got)
	}
}

func TestObserve_MonotoneBounded(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	// Hammer every update path far past its clamp.
	for range 50 {
		f.learner.Observe(ctx, types.CorrectionEvent{
			Turn:          turn("open notepad", types.TaskMessaging, types.OutcomeFailed, f.clock.Now()),
			Reason:        types.CorrectionExplicit,
			CorrectedTask: types.TaskAppControl,
			MeanEnergy:    100,
			PeakEnergy:    2000,
		})
		f.learner.Observe(ctx, types.CorrectionEvent{
			Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
			Reason: types.CorrectionRepeated,
		})
	}

	if got := f.rules.Weight(types.TaskAppControl); got != 3.0 {
		t.Errorf("boosted weight=%v, want clamped at 3.0", got)
	}
	if got := f.rules.Weight(types.TaskMessaging); got != 0.5 {
		t.Errorf("penalized weight=%v, want clamped at 0.5", got)
	}
	if got := f.tracker.Snapshot().Margin; got != 500 {
		t.Errorf("margin=%v, want clamped at its max", got)
	}
	if got := f.learner.FloorDelta("open notepad"); got != 0.3 {
		t.Errorf("FloorDelta=%v, want clamped at 0.3", got)
	}
}

func TestObserve_MalformedEventsSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	// No transcript and an unknown reason: both must be dropped quietly.
	f.learner.Observe(ctx, types.CorrectionEvent{Reason: types.CorrectionExplicit})
	f.learner.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: "telepathy",
	})

	if got := f.rules.Weight(types.TaskAppControl); got != 1 {
		t.Errorf("weight=%v after malformed events, want untouched", got)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d records from malformed events, want 0", f.store.Len())
	}
}

func TestObserve_PersistsToStore(t *testing.T) {
	t.Parallel()

	f := newFixture()
	learner := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))

	ctx := context.Background()
	learner.Observe(ctx, types.CorrectionEvent{
		Turn:          turn("open node pad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedText: "open notepad",
	})

	if f.store.Len() != 1 {
		t.Fatalf("store has %d records, want 1", f.store.Len())
	}

	recs, err := f.store.Corrections(ctx, "open node pad")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].CorrectedText != "open notepad" {
		t.Errorf("stored record %+v, want the correction carried", recs)
	}
}

func TestObserve_StoreFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.Err = context.DeadlineExceeded
	learner := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))

	learner.Observe(context.Background(), types.CorrectionEvent{
		Turn:          turn("open notepad", types.TaskMessaging, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedTask: types.TaskAppControl,
	})

	// The in-memory update still lands even though persistence failed.
	if got := f.rules.Weight(types.TaskAppControl); got != 1.2 {
		t.Errorf("weight=%v, want in-memory update applied", got)
	}
}

func TestRestore_LoadsRewrites(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	seed := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:          turn("open node pad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedText: "open notepad",
	})

	fresh := learn.New(testLearnerConfig(), intent.NewRules(nil, 0.5, 3.0), testTracker(),
		learn.WithStore(f.store))
	if err := fresh.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fresh.Rewrite("open node pad"); got != "open notepad" {
		t.Errorf("Rewrite=%q after restore, want the persisted correction", got)
	}
}

func TestRestore_ReplaysRecentCorrections(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	seed := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionExecFailure,
		Detail: "target window not found",
	})
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open it", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionRepeated,
	})

	fresh := learn.New(testLearnerConfig(), intent.NewRules(nil, 0.5, 3.0), testTracker(),
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	if err := fresh.Restore(ctx); err != nil {
		t.Fatal(err)
	}

	task, ok := fresh.SuspectTask("open notepad")
	if !ok || task != types.TaskAppControl {
		t.Errorf("SuspectTask=(%q,%v) after restore, want the persisted mark rebuilt", task, ok)
	}
	if got := fresh.FloorDelta("open it"); got != 0.05 {
		t.Errorf("FloorDelta=%v after restore, want the persisted raise rebuilt", got)
	}
}

func TestRestore_IgnoresStaleCorrections(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	seed := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionExecFailure,
	})

	// Two days later the mark has aged out of the replay window.
	f.clock.Advance(48 * time.Hour)
	fresh := learn.New(testLearnerConfig(), intent.NewRules(nil, 0.5, 3.0), testTracker(),
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	if err := fresh.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.SuspectTask("open notepad"); ok {
		t.Error("stale correction replayed into a suspect mark")
	}
}

func TestObserveTurn_RecallsPersistedCorrection(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	seed := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionExecFailure,
		Detail: "target window not found",
	})

	// A fresh learner that never ran Restore: the first failure for the same
	// transcript pulls the mark back out of the store.
	fresh := learn.New(testLearnerConfig(), intent.NewRules(nil, 0.5, 3.0), testTracker(),
		learn.WithClock(f.clock.Now), learn.WithStore(f.store))
	fresh.ObserveTurn(ctx, turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()))

	task, ok := fresh.SuspectTask("open notepad")
	if !ok || task != types.TaskAppControl {
		t.Errorf("SuspectTask=(%q,%v), want the persisted correction recalled", task, ok)
	}
}

func TestObserveTurn_SeedsFloorFromSimilarCorrection(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	emb := &embmock.Provider{Vectors: map[string][]float32{
		"open note pad":     {1, 0, 0, 0},
		"open the note pad": {1, 0.05, 0, 0},
	}}
	seed := learn.New(testLearnerConfig(), f.rules, f.tracker,
		learn.WithClock(f.clock.Now), learn.WithStore(f.store), learn.WithEmbedder(emb))
	seed.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("open note pad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: types.CorrectionExecFailure,
		Detail: "no matching app",
	})

	// A near-duplicate transcript never corrected verbatim: no exact match,
	// so the vector index seeds the confidence floor instead.
	fresh := learn.New(testLearnerConfig(), intent.NewRules(nil, 0.5, 3.0), testTracker(),
		learn.WithClock(f.clock.Now), learn.WithStore(f.store), learn.WithEmbedder(emb))
	fresh.ObserveTurn(ctx, turn("open the note pad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()))

	if got := fresh.FloorDelta("open the note pad"); got != 0.05 {
		t.Errorf("FloorDelta=%v, want seeded from the similar correction", got)
	}
	if _, ok := fresh.SuspectTask("open the note pad"); ok {
		t.Error("similarity recall must seed the floor, not a suspect mark")
	}
}

type fixedRates struct {
	rate    float64
	samples int
}

func (r fixedRates) CommandSuccessRate(string) (float64, int) { return r.rate, r.samples }

func TestObserve_ExecFailureSkippedForReliableCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	event := func(f *fixture) types.CorrectionEvent {
		tn := turn("open notepad", types.TaskAppControl, types.OutcomeFailed, f.clock.Now())
		tn.Command = &types.Command{
			Task:   types.TaskAppControl,
			Action: types.Action{Name: "launch", Slots: map[string]string{"app": "notepad"}},
		}
		return types.CorrectionEvent{
			Turn:   tn,
			Reason: types.CorrectionExecFailure,
			Detail: "window vanished",
		}
	}

	reliable := newFixture(learn.WithSuccessRates(fixedRates{rate: 0.9, samples: 10}))
	reliable.learner.Observe(ctx, event(reliable))
	if _, ok := reliable.learner.SuspectTask("open notepad"); ok {
		t.Error("suspect marked although the command's dispatch record is solid")
	}

	// Too few samples to trust the rate: the mark still lands.
	sparse := newFixture(learn.WithSuccessRates(fixedRates{rate: 0.9, samples: 2}))
	sparse.learner.Observe(ctx, event(sparse))
	if _, ok := sparse.learner.SuspectTask("open notepad"); !ok {
		t.Error("suspect not marked for a command with a thin dispatch record")
	}
}

func TestObserve_RecordsLearnerUpdates(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(learn.WithMetrics(met))
	ctx := context.Background()
	f.learner.Observe(ctx, types.CorrectionEvent{
		Turn:          turn("text bob hello", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason:        types.CorrectionExplicit,
		CorrectedTask: types.TaskMessaging,
	})
	// Unknown reasons are dropped before any counter increment.
	f.learner.Observe(ctx, types.CorrectionEvent{
		Turn:   turn("text bob hello", types.TaskAppControl, types.OutcomeFailed, f.clock.Now()),
		Reason: "telepathy",
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hark.learner.updates" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("hark.learner.updates is not an int64 sum")
			}
			for _, dp := range sum.DataPoints {
				if r, _ := dp.Attributes.Value(attribute.Key("reason")); r.AsString() == string(types.CorrectionExplicit) {
					total += dp.Value
				} else {
					t.Errorf("unexpected reason %q counted", r.AsString())
				}
			}
		}
	}
	if total != 1 {
		t.Errorf("learner updates for explicit = %d, want 1", total)
	}
}
