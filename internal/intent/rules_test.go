package intent_test

import (
	"reflect"
	"testing"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/intent"
	"github.com/hark-voice/hark/pkg/types"
)

func testRules() *intent.Rules {
	return intent.NewRules(intent.NewAppMatcher(config.DefaultAppAliases()), 0.5, 3.0)
}

func TestRules_Classify(t *testing.T) {
	t.Parallel()

	r := testRules()
	cases := []struct {
		text  string
		task  types.TaskType
		slots map[string]string
	}{
		{
			text:  "open notepad",
			task:  types.TaskAppControl,
			slots: map[string]string{"action": "launch", "app": "notepad"},
		},
		{
			text:  "please close firefox",
			task:  types.TaskAppControl,
			slots: map[string]string{"action": "close", "app": "firefox"},
		},
		{
			text:  "switch to the browser",
			task:  types.TaskAppControl,
			slots: map[string]string{"action": "focus", "app": "firefox"},
		},
		{
			// Pronoun target: no app slot, the planner inherits from context.
			text:  "open it",
			task:  types.TaskAppControl,
			slots: map[string]string{"action": "launch"},
		},
		{
			text:  "send a message to alice saying running late",
			task:  types.TaskMessaging,
			slots: map[string]string{"contact": "alice", "message": "running late"},
		},
		{
			text:  "text bob",
			task:  types.TaskMessaging,
			slots: map[string]string{"contact": "bob"},
		},
		{
			text:  "delete the file report.txt",
			task:  types.TaskFileOp,
			slots: map[string]string{"operation": "delete", "path": "report.txt"},
		},
		{
			text:  "make a folder projects",
			task:  types.TaskFileOp,
			slots: map[string]string{"operation": "create", "path": "projects"},
		},
		{
			text:  "turn up the volume",
			task:  types.TaskSystemOp,
			slots: map[string]string{"operation": "volume-up"},
		},
		{
			text:  "lock the screen",
			task:  types.TaskSystemOp,
			slots: map[string]string{"operation": "lock"},
		},
		{
			text:  "what time is it",
			task:  types.TaskQuery,
			slots: map[string]string{"query": "what time is it"},
		},
		{
			text:  "search for coffee near me",
			task:  types.TaskQuery,
			slots: map[string]string{"query": "coffee near me"},
		},
		{
			text:  "thank you",
			task:  types.TaskConversation,
			slots: map[string]string{},
		},
		{
			text:  "blorp the zibble",
			task:  types.TaskUnknown,
			slots: map[string]string{},
		},
		{
			text:  "",
			task:  types.TaskUnknown,
			slots: map[string]string{},
		},
	}

	for _, c := range cases {
		got := r.Classify(c.text)
		if got.Task != c.task {
			t.Errorf("Classify(%q).Task=%q, want %q", c.text, got.Task, c.task)
			continue
		}
		if !reflect.DeepEqual(got.Slots, c.slots) {
			t.Errorf("Classify(%q).Slots=%v, want %v", c.text, got.Slots, c.slots)
		}
		if got.Tier != types.TierRules {
			t.Errorf("Classify(%q).Tier=%q, want rules", c.text, got.Tier)
		}
	}
}

func TestRules_Deterministic(t *testing.T) {
	t.Parallel()

	r := testRules()
	first := r.Classify("open notepad")
	for range 10 {
		if got := r.Classify("open notepad"); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification drifted: %+v vs %+v", got, first)
		}
	}
}

func TestRules_UnknownHasZeroComplexity(t *testing.T) {
	t.Parallel()

	got := testRules().Classify("blorp the zibble")
	if got.Task != types.TaskUnknown || got.Complexity != 0 || got.Confidence != 0 {
		t.Errorf("unknown result %+v, want zero complexity and confidence", got)
	}
}

func TestRules_BoostClamped(t *testing.T) {
	t.Parallel()

	r := intent.NewRules(nil, 0.5, 3.0)
	for range 100 {
		r.Boost(types.TaskAppControl, 0.2)
	}
	if got := r.Weight(types.TaskAppControl); got != 3.0 {
		t.Errorf("Weight=%v after repeated boosts, want clamp at 3.0", got)
	}
	for range 100 {
		r.Boost(types.TaskAppControl, -0.2)
	}
	if got := r.Weight(types.TaskAppControl); got != 0.5 {
		t.Errorf("Weight=%v after repeated penalties, want clamp at 0.5", got)
	}
}

func TestRules_WeightBreaksTies(t *testing.T) {
	t.Parallel()

	// This phrasing satisfies both the messaging and app-control patterns
	// with one trigger hit each; the weighted score decides the contest.
	const text = "open whatsapp and message bob"

	r := testRules()
	if got := r.Classify(text); got.Task != types.TaskMessaging {
		t.Fatalf("Task=%q before boost, want messaging (earlier pattern wins ties)", got.Task)
	}

	r.Boost(types.TaskAppControl, 1.0)
	if got := r.Classify(text); got.Task != types.TaskAppControl {
		t.Errorf("Task=%q after app-control boost, want app-control", got.Task)
	}
}
