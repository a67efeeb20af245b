package intent

import (
	"regexp"
	"strings"
	"sync"

	"github.com/hark-voice/hark/pkg/types"
)

// pronouns never survive as slot values; a pronoun slot is omitted so the
// planner inherits the referent from context.
var pronouns = map[string]bool{
	"it": true, "that": true, "this": true, "them": true,
	"that one": true, "the same": true, "the same one": true,
}

// launchVerbs maps spoken app-control verbs to the canonical action slot.
var launchVerbs = map[string]string{
	"open": "launch", "launch": "launch", "start": "launch", "run": "launch",
	"close": "close", "quit": "close", "kill": "close", "exit": "close",
	"switch to": "focus", "go to": "focus", "focus": "focus",
}

var (
	reAppControl = regexp.MustCompile(`^(?:please\s+)?(open|launch|start|run|close|quit|kill|exit|switch to|go to|focus)\s+(?:the\s+|my\s+)?(.+)$`)
	reMessaging  = regexp.MustCompile(`(?:send\s+(?:a\s+)?message\s+to|message|text|tell)\s+([a-z]+)(?:\s+(?:saying|that|to say)\s+(.+))?$`)
	reFileOp     = regexp.MustCompile(`^(?:please\s+)?(create|make|delete|remove|move|rename|copy)\s+(?:the\s+|a\s+|that\s+)?(?:file|folder|directory)\s*(.*)$`)
	reQuery      = regexp.MustCompile(`^(?:search\s+for|look\s+up|google)\s+(.+)$`)
)

// systemOps maps trigger phrases to the canonical system operation. Longer
// phrases come first so "unmute" is tested before "mute".
var systemOps = []struct {
	phrase string
	op     string
}{
	{"turn up the volume", "volume-up"},
	{"volume up", "volume-up"},
	{"turn down the volume", "volume-down"},
	{"volume down", "volume-down"},
	{"unmute", "unmute"},
	{"mute", "mute"},
	{"lock the screen", "lock"},
	{"lock screen", "lock"},
	{"lock my computer", "lock"},
	{"shut down", "shutdown"},
	{"shutdown", "shutdown"},
	{"power off", "shutdown"},
	{"restart", "restart"},
	{"reboot", "restart"},
	{"brightness up", "brightness-up"},
	{"brightness down", "brightness-down"},
	{"go to sleep", "sleep"},
}

var queryLeads = []string{
	"what ", "what's", "who ", "who's", "where ", "when ", "why ", "how ",
	"search for ", "look up ", "google ",
}

var conversationTriggers = []string{
	"hello", "hi ", "hey", "good morning", "good evening",
	"thanks", "thank you", "how are you", "never mind", "goodbye",
}

// pattern is one rule-tier classification rule.
type pattern struct {
	task       types.TaskType
	confidence float64
	complexity float64

	// triggers are substrings of the normalized transcript that activate
	// the pattern; the number of hits times the per-task weight ranks
	// competing matches.
	triggers []string

	// extract produces the slot map, or ok=false when the transcript does
	// not actually fit the pattern despite a trigger hit.
	extract func(text string) (slots map[string]string, ok bool)
}

// Rules is the deterministic rule-based classification tier. It never fails:
// a transcript matching nothing yields TaskUnknown with complexity 0.
//
// Per-task trigger weights are mutable at runtime; the correction learner
// nudges them within the configured clamp range. All methods are safe for
// concurrent use.
type Rules struct {
	apps     *AppMatcher
	patterns []pattern

	mu        sync.RWMutex
	weights   map[types.TaskType]float64
	weightMin float64
	weightMax float64
}

// NewRules creates the rule tier. apps resolves spoken application names to
// their canonical form; weightMin/weightMax clamp learner adjustments.
func NewRules(apps *AppMatcher, weightMin, weightMax float64) *Rules {
	if weightMin <= 0 {
		weightMin = 0.5
	}
	if weightMax < weightMin {
		weightMax = weightMin
	}
	r := &Rules{
		apps:      apps,
		weights:   make(map[types.TaskType]float64),
		weightMin: weightMin,
		weightMax: weightMax,
	}
	r.patterns = r.buildPatterns()
	return r
}

// Weight returns the current trigger weight for task (default 1).
func (r *Rules) Weight(task types.TaskType) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weightLocked(task)
}

func (r *Rules) weightLocked(task types.TaskType) float64 {
	if w, ok := r.weights[task]; ok {
		return w
	}
	return 1
}

// Boost shifts a task's trigger weight by delta, clamped to the configured
// range. The correction learner calls this with positive deltas for tasks the
// user confirmed and negative deltas for tasks that misfired.
func (r *Rules) Boost(task types.TaskType, delta float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.weightLocked(task) + delta
	if w < r.weightMin {
		w = r.weightMin
	}
	if w > r.weightMax {
		w = r.weightMax
	}
	r.weights[task] = w
	return w
}

// Classify maps a normalized transcript to a ClassificationResult. It is
// deterministic for a fixed weight state: identical input yields identical
// output.
func (r *Rules) Classify(text string) types.ClassificationResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return unknownResult()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      types.ClassificationResult
		bestScore float64
		found     bool
	)
	for _, p := range r.patterns {
		hits := 0
		for _, trig := range p.triggers {
			if strings.Contains(text, trig) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		slots, ok := p.extract(text)
		if !ok {
			continue
		}
		score := float64(hits) * r.weightLocked(p.task)
		if !found || score > bestScore {
			found = true
			bestScore = score
			best = types.ClassificationResult{
				Task:       p.task,
				Complexity: p.complexity,
				Confidence: p.confidence,
				Slots:      slots,
				Tier:       types.TierRules,
			}
		}
	}
	if !found {
		return unknownResult()
	}
	return best
}

func (r *Rules) buildPatterns() []pattern {
	return []pattern{
		{
			task:       types.TaskSystemOp,
			confidence: 0.9,
			complexity: 0.2,
			triggers:   systemOpTriggers(),
			extract:    extractSystemOp,
		},
		{
			task:       types.TaskFileOp,
			confidence: 0.8,
			complexity: 0.5,
			triggers:   []string{"file", "folder", "directory"},
			extract:    extractFileOp,
		},
		{
			task:       types.TaskMessaging,
			confidence: 0.8,
			complexity: 0.6,
			triggers:   []string{"message", "text ", "tell "},
			extract:    extractMessaging,
		},
		{
			task:       types.TaskAppControl,
			confidence: 0.9,
			complexity: 0.3,
			triggers: []string{
				"open", "launch", "start", "run", "close", "quit",
				"kill", "exit", "switch to", "go to", "focus",
			},
			extract: r.extractAppControl,
		},
		{
			task:       types.TaskQuery,
			confidence: 0.8,
			complexity: 0.4,
			triggers:   queryLeads,
			extract:    extractQuery,
		},
		{
			task:       types.TaskConversation,
			confidence: 0.8,
			complexity: 0.1,
			triggers:   conversationTriggers,
			extract: func(string) (map[string]string, bool) {
				return map[string]string{}, true
			},
		},
	}
}

func extractSystemOp(text string) (map[string]string, bool) {
	for _, s := range systemOps {
		if strings.Contains(text, s.phrase) {
			return map[string]string{"operation": s.op}, true
		}
	}
	return nil, false
}

func extractFileOp(text string) (map[string]string, bool) {
	m := reFileOp.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	slots := map[string]string{"operation": canonicalFileOp(m[1])}
	if path := strings.TrimSpace(m[2]); path != "" && !pronouns[path] {
		slots["path"] = path
	}
	return slots, true
}

func extractMessaging(text string) (map[string]string, bool) {
	m := reMessaging.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	slots := map[string]string{}
	if c := strings.TrimSpace(m[1]); c != "" && !pronouns[c] && c != "me" && c != "us" {
		slots["contact"] = c
	}
	if msg := strings.TrimSpace(m[2]); msg != "" {
		slots["message"] = msg
	}
	return slots, true
}

// extractAppControl extracts the action and resolved app name. A pronoun
// target yields no app slot so the planner can inherit it from context.
func (r *Rules) extractAppControl(text string) (map[string]string, bool) {
	m := reAppControl.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	slots := map[string]string{"action": launchVerbs[m[1]]}
	target := strings.TrimSpace(m[2])
	if target == "" || pronouns[target] {
		return slots, true
	}
	if r.apps != nil {
		if canonical, ok := r.apps.Resolve(target); ok {
			target = canonical
		}
	}
	slots["app"] = target
	return slots, true
}

func extractQuery(text string) (map[string]string, bool) {
	if m := reQuery.FindStringSubmatch(text); m != nil {
		return map[string]string{"query": strings.TrimSpace(m[1])}, true
	}
	return map[string]string{"query": text}, true
}

func systemOpTriggers() []string {
	out := make([]string, len(systemOps))
	for i, s := range systemOps {
		out[i] = s.phrase
	}
	return out
}

func canonicalFileOp(verb string) string {
	switch verb {
	case "make":
		return "create"
	case "remove":
		return "delete"
	default:
		return verb
	}
}

func unknownResult() types.ClassificationResult {
	return types.ClassificationResult{
		Task:       types.TaskUnknown,
		Complexity: 0,
		Confidence: 0,
		Slots:      map[string]string{},
		Tier:       types.TierRules,
	}
}
