package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names early instead of
// failing at registry lookup during startup.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper-native", "whisper-server", "mock"},
	// Remote classifiers are registered per backend, so the valid names are
	// the backend names, not "anyllm".
	"classify":   {"openai", "anthropic", "gemini", "ollama", "llamacpp", "mock"},
	"embeddings": {"openai", "ollama", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is below the 8000 Hz minimum", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs <= 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range (0, 100]", cfg.Audio.FrameMs))
	}

	// Threshold clamp coherence.
	if cfg.Threshold.FloorMin >= cfg.Threshold.FloorMax {
		errs = append(errs, fmt.Errorf("threshold.floor_min %.0f must be below threshold.floor_max %.0f", cfg.Threshold.FloorMin, cfg.Threshold.FloorMax))
	}
	if cfg.Threshold.MarginMin >= cfg.Threshold.MarginMax {
		errs = append(errs, fmt.Errorf("threshold.margin_min %.0f must be below threshold.margin_max %.0f", cfg.Threshold.MarginMin, cfg.Threshold.MarginMax))
	}
	if cfg.Threshold.Decay <= 0 || cfg.Threshold.Decay > 1 {
		errs = append(errs, fmt.Errorf("threshold.decay %.3f is out of range (0, 1]", cfg.Threshold.Decay))
	}

	// Gate timing coherence.
	if cfg.Gate.MinUtteranceMs >= cfg.Gate.MaxUtteranceMs {
		errs = append(errs, fmt.Errorf("gate.min_utterance_ms %d must be below gate.max_utterance_ms %d", cfg.Gate.MinUtteranceMs, cfg.Gate.MaxUtteranceMs))
	}
	if cfg.Gate.DebounceFrames < 1 {
		errs = append(errs, fmt.Errorf("gate.debounce_frames %d must be at least 1", cfg.Gate.DebounceFrames))
	}

	if cfg.ASR.Primary.Name == "" {
		errs = append(errs, errors.New("asr.primary.name is required"))
	}
	validateProviderName("stt", cfg.ASR.Primary.Name)
	validateProviderName("stt", cfg.ASR.Secondary.Name)
	validateProviderName("classify", cfg.Classifier.Remote.Name)
	validateProviderName("embeddings", cfg.Learner.Embeddings.Name)

	if cfg.ASR.Secondary.Name == "" {
		slog.Warn("asr.secondary is not configured; a primary engine failure will drop the utterance")
	}
	if cfg.Classifier.Remote.Name == "" {
		slog.Warn("classifier.remote is not configured; classification will be rule-based only")
	}
	if cfg.Classifier.ConfidenceFloor < 0 || cfg.Classifier.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("classifier.confidence_floor %.2f is out of range [0, 1]", cfg.Classifier.ConfidenceFloor))
	}

	if cfg.Context.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("context.max_turns %d must be at least 1", cfg.Context.MaxTurns))
	}

	// Planner task catalogue.
	for task := range cfg.Planner.Tasks {
		if !task.IsValid() {
			errs = append(errs, fmt.Errorf("planner.tasks contains unknown task type %q", task))
		}
	}

	// Learner clamp coherence.
	if cfg.Learner.WeightMin >= cfg.Learner.WeightMax {
		errs = append(errs, fmt.Errorf("learner.weight_min %.2f must be below learner.weight_max %.2f", cfg.Learner.WeightMin, cfg.Learner.WeightMax))
	}
	if cfg.Learner.RepeatThreshold < 2 {
		errs = append(errs, fmt.Errorf("learner.repeat_threshold %d must be at least 2", cfg.Learner.RepeatThreshold))
	}
	if cfg.Learner.PostgresDSN != "" && cfg.Learner.Embeddings.Name == "" {
		slog.Warn("learner.postgres_dsn is set without learner.embeddings; similar-transcript lookup will be disabled")
	}

	// Executor transport is exclusive.
	if cfg.Executor.MCP.Command != "" && cfg.Executor.MCP.URL != "" {
		errs = append(errs, errors.New("executor.mcp.command and executor.mcp.url are mutually exclusive"))
	}

	return errors.Join(errs...)
}

// validateProviderName warns (does not error) when a non-empty provider name
// is not in the known list. Unknown names may still be registered by tests.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	for _, known := range ValidProviderNames[kind] {
		if name == known {
			return
		}
	}
	slog.Warn("unrecognised provider name", "kind", kind, "name", name)
}
