// Package planner turns classified intents into executable commands.
//
// Planning is pure resolution, no execution: the planner checks that every
// slot the task type requires is present, inheriting missing values from the
// most recent context turn when the task types match, and emits either a
// [types.Command] or a [DisambiguationRequest] naming exactly what is still
// missing. It never guesses a slot value.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/pkg/types"
)

// ErrUnresolvableIntent is returned when the classification is unknown and no
// context inheritance applies. The caller surfaces it as a clarification
// prompt; it never terminates the session.
var ErrUnresolvableIntent = errors.New("unresolvable intent")

// DisambiguationRequest asks the voice interface for one more user input.
// It is a normal planning outcome, not a failure: the caller prompts the user
// and re-enters the pipeline with the answer merged as additional slots.
type DisambiguationRequest struct {
	// Task is the classified task type awaiting completion.
	Task types.TaskType

	// Missing names exactly the required slots that could not be resolved,
	// sorted for deterministic prompts.
	Missing []string

	// Prompt is the rendered question for the speech output collaborator.
	Prompt string
}

// ContextReader is the read side of the session history consulted for slot
// inheritance.
type ContextReader interface {
	// Recent returns up to n most recent non-expired turns, newest first.
	Recent(n int) []types.ContextTurn
}

// Planner resolves classifications into commands using the configured task
// catalogue. Construct with [New]. Read-only after construction and safe for
// concurrent use.
type Planner struct {
	tasks map[types.TaskType]config.TaskConfig
}

// New creates a Planner. Task types absent from cfg.Tasks fall back to the
// built-in catalogue.
func New(cfg config.PlannerConfig) *Planner {
	tasks := config.DefaultTasks()
	for task, tc := range cfg.Tasks {
		tasks[task] = tc
	}
	return &Planner{tasks: tasks}
}

// Plan resolves one classification against the session context. Exactly one
// of the command and the disambiguation request is non-nil on a nil error.
// history may be nil when no session context exists.
func (p *Planner) Plan(cls types.ClassificationResult, history ContextReader) (*types.Command, *DisambiguationRequest, error) {
	if cls.Task == types.TaskUnknown || !cls.Task.IsValid() {
		// Slot inheritance is predicated on a matching prior task type,
		// which an unknown classification can never satisfy.
		return nil, nil, ErrUnresolvableIntent
	}

	tc := p.tasks[cls.Task]
	slots, missing := p.resolveSlots(cls, tc, history)
	if len(missing) > 0 {
		return nil, &DisambiguationRequest{
			Task:    cls.Task,
			Missing: missing,
			Prompt:  renderPrompt(cls.Task, missing),
		}, nil
	}

	cmd := buildCommand(cls.Task, slots, tc.MultiStep)
	return cmd, nil, nil
}

// resolveSlots returns the resolved slot map and the sorted names of required
// slots that remain missing after context inheritance.
func (p *Planner) resolveSlots(cls types.ClassificationResult, tc config.TaskConfig, history ContextReader) (map[string]string, []string) {
	slots := make(map[string]string, len(cls.Slots))
	for k, v := range cls.Slots {
		slots[k] = v
	}

	var prior *types.ContextTurn
	priorLoaded := false
	loadPrior := func() *types.ContextTurn {
		if !priorLoaded {
			priorLoaded = true
			if history != nil {
				if recent := history.Recent(1); len(recent) > 0 {
					prior = &recent[0]
				}
			}
		}
		return prior
	}

	var missing []string
	for _, name := range tc.RequiredSlots {
		if slots[name] != "" {
			continue
		}
		if t := loadPrior(); t != nil && t.Classification.Task == cls.Task {
			if v := inheritedSlot(t, name); v != "" {
				slots[name] = v
				continue
			}
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return slots, missing
}

// inheritedSlot looks a slot up in the prior turn, preferring the planned
// command's resolved values over the raw classification slots.
func inheritedSlot(t *types.ContextTurn, name string) string {
	if t.Command != nil {
		if v := t.Command.Action.Slots[name]; v != "" {
			return v
		}
		for _, step := range t.Command.Steps {
			if v := step.Slots[name]; v != "" {
				return v
			}
		}
	}
	return t.Classification.Slots[name]
}

// buildCommand maps a fully resolved task to its executor action(s).
func buildCommand(task types.TaskType, slots map[string]string, multiStep bool) *types.Command {
	cmd := &types.Command{Task: task}
	switch task {
	case types.TaskAppControl:
		action := slots["action"]
		if action == "" {
			action = "launch"
		}
		cmd.Action = types.Action{
			Name:  action,
			Slots: map[string]string{"app": slots["app"]},
		}

	case types.TaskMessaging:
		open := types.Action{
			Name:  "open_conversation",
			Slots: map[string]string{"contact": slots["contact"]},
		}
		send := types.Action{
			Name: "send_message",
			Slots: map[string]string{
				"contact": slots["contact"],
				"message": slots["message"],
			},
		}
		cmd.Action = open
		if multiStep {
			cmd.Steps = []types.Action{open, send}
		} else {
			cmd.Action = send
		}

	case types.TaskQuery:
		cmd.Action = types.Action{
			Name:  "web_search",
			Slots: map[string]string{"query": slots["query"]},
		}

	case types.TaskFileOp:
		op := slots["operation"]
		if op == "" {
			op = "create"
		}
		cmd.Action = types.Action{
			Name:  op,
			Slots: map[string]string{"path": slots["path"]},
		}

	case types.TaskSystemOp:
		cmd.Action = types.Action{Name: slots["operation"], Slots: map[string]string{}}

	case types.TaskConversation:
		cmd.Action = types.Action{Name: "respond", Slots: copySlots(slots)}
	}
	return cmd
}

// renderPrompt phrases the clarification question sent to speech output.
func renderPrompt(task types.TaskType, missing []string) string {
	questions := make([]string, len(missing))
	for i, slot := range missing {
		switch slot {
		case "app":
			questions[i] = "which application"
		case "contact":
			questions[i] = "who to send it to"
		case "message":
			questions[i] = "what the message should say"
		case "path":
			questions[i] = "which file or folder"
		case "operation":
			questions[i] = "what to do"
		case "query":
			questions[i] = "what to search for"
		default:
			questions[i] = fmt.Sprintf("the %s", slot)
		}
	}
	return fmt.Sprintf("For %s, please tell me %s.", task, strings.Join(questions, " and "))
}

func copySlots(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
