// Package dispatch hands planned commands to the external automation
// executor and disambiguation prompts to the speech output collaborator.
//
// The pipeline never talks to the executor directly: it emits intent, this
// package routes it and reports the outcome back. Multi-step commands run
// their sub-actions strictly in order; a step's preconditions are assumed
// satisfied only after the prior step reported success, so the first failure
// aborts the remainder.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/hark-voice/hark/pkg/types"
)

// Result is the executor's verdict on one action. Success=false with a
// Detail is an application-level failure (e.g. "target window not found");
// transport and protocol failures travel in the error return instead.
type Result struct {
	Success bool
	Detail  string
}

// Executor runs a single resolved action. Implementations must be safe for
// concurrent use.
type Executor interface {
	Execute(ctx context.Context, action types.Action) (Result, error)
}

// SpeechOutput renders text to the user. Fire-and-forget from the pipeline's
// perspective: failures are logged by the caller, never retried.
type SpeechOutput interface {
	Say(ctx context.Context, text string) error
}

// Dispatcher routes commands to an executor. Construct with [New].
type Dispatcher struct {
	exec Executor
}

// New creates a Dispatcher over exec.
func New(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec}
}

// Dispatch runs the command and reports how the turn ended. All failures are
// folded into OutcomeFailed with a detail string; the session keeps running
// regardless of what the executor did.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd types.Command) (types.Outcome, string) {
	actions := cmd.Steps
	if len(actions) == 0 {
		actions = []types.Action{cmd.Action}
	}

	for i, action := range actions {
		res, err := d.exec.Execute(ctx, action)
		if err != nil {
			slog.Warn("executor transport failure",
				"task", cmd.Task, "action", action.Name, "step", i, "error", err)
			return types.OutcomeFailed, err.Error()
		}
		if !res.Success {
			slog.Info("executor reported action failure",
				"task", cmd.Task, "action", action.Name, "step", i, "detail", res.Detail)
			return types.OutcomeFailed, res.Detail
		}
		slog.Debug("action executed",
			"task", cmd.Task, "action", action.Name, "step", i)
	}
	return types.OutcomeSucceeded, ""
}
