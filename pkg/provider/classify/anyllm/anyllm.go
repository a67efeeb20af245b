// Package anyllm implements classify.Provider on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface.
// The model is prompted to answer with a single JSON object describing the
// task type, complexity, confidence and slots.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "llama3.2:3b")
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/hark-voice/hark/pkg/provider/classify"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time assertion that Provider satisfies classify.Provider.
var _ classify.Provider = (*Provider)(nil)

// systemPrompt instructs the model to classify into the fixed task set and
// answer with JSON only. Keeping the contract this narrow makes the response
// parseable without any tool-calling support, which matters for small local
// models served through Ollama or llama.cpp.
const systemPrompt = `You classify voice commands for a desktop assistant.
Map the user's utterance to exactly one task type:
  app-control   open, close or switch applications
  messaging     send a message to a contact
  query         answer a question or look something up
  file-op       create, move, delete or open files
  system-op     volume, brightness, lock, shutdown and similar
  conversation  small talk with the assistant
  unknown       anything you cannot confidently place

Respond with a single JSON object and nothing else:
{"task":"<type>","complexity":<0..1>,"confidence":<0..1>,"slots":{"<name>":"<value>"}}

Slot names by task: app-control uses "app" and "action"; messaging uses
"contact" and "message"; file-op uses "path" and "operation"; system-op uses
"operation"; query uses "query". Omit slots you cannot extract. Use the
earlier turns only to resolve references like "it" or "that one".`

// Provider implements classify.Provider by wrapping any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the given LLM backend name: one of
// "openai", "anthropic", "gemini", "ollama", "llamacpp".
//
// model is the specific model to use (e.g., "gpt-4o-mini", "llama3.2:3b").
// opts are any-llm-go options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL; without an API key option the backend falls back to
// its usual environment variable.
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, llamacpp", name)
	}
}

// Classify implements classify.Provider.
func (p *Provider) Classify(ctx context.Context, req classify.Request) (types.ClassificationResult, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return types.ClassificationResult{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.ClassificationResult{}, fmt.Errorf("anyllm: empty choices in response")
	}
	return parseResult(resp.Choices[0].Message.ContentString())
}

// buildParams assembles the completion request: system prompt, recent turns
// as prior user messages, then the transcript to classify.
func (p *Provider) buildParams(req classify.Request) anyllmlib.CompletionParams {
	messages := []anyllmlib.Message{{
		Role:    anyllmlib.RoleSystem,
		Content: systemPrompt,
	}}
	for _, prior := range req.Recent {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleUser,
			Content: "(earlier) " + prior,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Text,
	})

	temperature := 0.0
	return anyllmlib.CompletionParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: &temperature,
	}
}

// wireResult is the JSON shape the model is prompted to produce.
type wireResult struct {
	Task       string            `json:"task"`
	Complexity float64           `json:"complexity"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots"`
}

// parseResult extracts and validates the JSON object from the model's reply.
// Models wrapped in chat templates occasionally fence the JSON in markdown or
// prepend prose, so the parser scans for the outermost braces.
func parseResult(content string) (types.ClassificationResult, error) {
	raw := extractJSON(content)
	if raw == "" {
		return types.ClassificationResult{}, fmt.Errorf("anyllm: no JSON object in response %q", truncate(content, 120))
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return types.ClassificationResult{}, fmt.Errorf("anyllm: parse response JSON: %w", err)
	}

	task := types.TaskType(wire.Task)
	if !task.IsValid() {
		return types.ClassificationResult{}, fmt.Errorf("anyllm: model returned unknown task type %q", wire.Task)
	}

	slots := wire.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	return types.ClassificationResult{
		Task:       task,
		Complexity: clamp01(wire.Complexity),
		Confidence: clamp01(wire.Confidence),
		Slots:      slots,
		Tier:       types.TierRemote,
	}, nil
}

// extractJSON returns the substring from the first '{' to the matching final
// '}', or "" when the content holds no braces.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
