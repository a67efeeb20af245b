package dispatch

import (
	"context"
	"log/slog"

	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface checks.
var (
	_ Executor     = (*LogExecutor)(nil)
	_ SpeechOutput = (*LogSpeech)(nil)
)

// LogExecutor is the fallback executor used when no MCP server is
// configured. Every action is logged and reported successful, which keeps
// the session loop and the context history exercisable without automation.
type LogExecutor struct{}

// Execute implements [Executor].
func (LogExecutor) Execute(_ context.Context, action types.Action) (Result, error) {
	slog.Info("dry-run action", "action", action.Name, "slots", action.Slots)
	return Result{Success: true}, nil
}

// LogSpeech is the fallback speech output: prompts land in the log instead
// of a synthesizer.
type LogSpeech struct{}

// Say implements [SpeechOutput].
func (LogSpeech) Say(_ context.Context, text string) error {
	slog.Info("speech output", "text", text)
	return nil
}
