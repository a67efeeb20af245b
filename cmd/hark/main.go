// Command hark runs the voice-command decision pipeline: it reads raw PCM
// from stdin, gates it into utterances, recognizes, classifies, plans and
// dispatches commands, and learns from corrections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hark-voice/hark/internal/asr"
	"github.com/hark-voice/hark/internal/capture"
	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/internal/dispatch"
	"github.com/hark-voice/hark/internal/gate"
	"github.com/hark-voice/hark/internal/intent"
	"github.com/hark-voice/hark/internal/learn"
	"github.com/hark-voice/hark/internal/monitor"
	"github.com/hark-voice/hark/internal/noise"
	"github.com/hark-voice/hark/internal/observe"
	"github.com/hark-voice/hark/internal/pipeline"
	"github.com/hark-voice/hark/internal/planner"
	"github.com/hark-voice/hark/internal/session"
	"github.com/hark-voice/hark/pkg/memory"
	filestore "github.com/hark-voice/hark/pkg/memory/file"
	pgstore "github.com/hark-voice/hark/pkg/memory/postgres"
	"github.com/hark-voice/hark/pkg/provider/classify"
	"github.com/hark-voice/hark/pkg/provider/classify/anyllm"
	"github.com/hark-voice/hark/pkg/provider/embeddings"
	ollamaembed "github.com/hark-voice/hark/pkg/provider/embeddings/ollama"
	oaembed "github.com/hark-voice/hark/pkg/provider/embeddings/openai"
	"github.com/hark-voice/hark/pkg/provider/stt"
	"github.com/hark-voice/hark/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "hark.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hark: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hark: %v\n", err)
		}
		return 1
	}
	if err := capture.Validate(cfg.Audio); err != nil {
		fmt.Fprintf(os.Stderr, "hark: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("hark starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hark"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	metrics := observe.DefaultMetrics()

	// ── Adaptive threshold and gate ───────────────────────────────────────────
	tracker := noise.NewTracker(cfg.Threshold)
	voiceGate := gate.New(cfg.Gate, tracker)

	// ── Recognition engines ───────────────────────────────────────────────────
	primary, err := reg.CreateSTT(cfg.ASR.Primary)
	if err != nil {
		slog.Error("failed to create primary engine", "name", cfg.ASR.Primary.Name, "err", err)
		return 1
	}
	var secondary stt.Engine
	if cfg.ASR.Secondary.Name != "" {
		secondary, err = reg.CreateSTT(cfg.ASR.Secondary)
		if err != nil {
			slog.Error("failed to create secondary engine", "name", cfg.ASR.Secondary.Name, "err", err)
			return 1
		}
	}

	// ── Learning store and correction learner ────────────────────────────────
	store, storeChecker, closeStore, err := buildStore(ctx, cfg.Learner)
	if err != nil {
		slog.Error("failed to open learning store", "err", err)
		return 1
	}
	defer closeStore()

	rules := intent.NewRules(
		intent.NewAppMatcher(cfg.Planner.AppAliases),
		cfg.Learner.WeightMin, cfg.Learner.WeightMax,
	)

	history := session.NewManager(cfg.Context)

	learnOpts := []learn.Option{
		learn.WithSuccessRates(history),
		learn.WithMetrics(metrics),
	}
	if store != nil {
		learnOpts = append(learnOpts, learn.WithStore(store))
	}
	if cfg.Learner.Embeddings.Name != "" {
		embedder, err := reg.CreateEmbeddings(cfg.Learner.Embeddings)
		if err != nil {
			slog.Error("failed to create embeddings provider", "name", cfg.Learner.Embeddings.Name, "err", err)
			return 1
		}
		learnOpts = append(learnOpts, learn.WithEmbedder(embedder))
	}
	learner := learn.New(cfg.Learner, rules, tracker, learnOpts...)
	if err := learner.Restore(ctx); err != nil {
		slog.Warn("could not restore learned rewrites", "err", err)
	}

	arbiter := asr.New(cfg.ASR, cfg.Audio, primary, secondary,
		asr.WithRewriter(learner), asr.WithMetrics(metrics))

	// ── Classifier and planner ────────────────────────────────────────────────
	var remote classify.Provider
	if cfg.Classifier.Remote.Name != "" {
		remote, err = reg.CreateClassify(cfg.Classifier.Remote)
		if err != nil {
			slog.Error("failed to create remote classifier", "name", cfg.Classifier.Remote.Name, "err", err)
			return 1
		}
	}
	classifier := intent.NewClassifier(cfg.Classifier, rules, remote, intent.WithFeedback(learner))
	taskPlanner := planner.New(cfg.Planner)

	// ── Dispatcher ────────────────────────────────────────────────────────────
	var exec dispatch.Executor = dispatch.LogExecutor{}
	if cfg.Executor.MCP.Command != "" || cfg.Executor.MCP.URL != "" {
		mcpExec, err := dispatch.NewMCPExecutor(ctx, cfg.Executor.MCP)
		if err != nil {
			slog.Error("failed to connect MCP executor", "err", err)
			return 1
		}
		defer mcpExec.Close()
		exec = mcpExec
		slog.Info("mcp executor connected",
			"command", cfg.Executor.MCP.Command, "url", cfg.Executor.MCP.URL)
	} else {
		slog.Info("no executor configured, dispatching dry-run")
	}
	dispatcher := dispatch.New(exec)

	// ── Pipeline options ──────────────────────────────────────────────────────
	pipeOpts := []pipeline.Option{
		pipeline.WithLearner(learner),
		pipeline.WithMetrics(metrics),
	}

	// ── Monitor server (optional) ─────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		var monOpts []monitor.Option
		if storeChecker != nil {
			monOpts = append(monOpts, monitor.WithCheckers(*storeChecker))
		}
		mon := monitor.New(cfg.Server, tracker, history, monOpts...)
		pipeOpts = append(pipeOpts, pipeline.WithNotifier(mon.Hub()))

		go func() {
			if err := mon.Start(); err != nil {
				slog.Error("monitor server error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mon.Shutdown(sctx); err != nil {
				slog.Warn("monitor shutdown error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg)

	pipe := pipeline.New(voiceGate, arbiter, classifier, taskPlanner, dispatcher, history, pipeOpts...)

	// ── Run ───────────────────────────────────────────────────────────────────
	frames := capture.NewReader(os.Stdin, cfg.Audio).Frames(ctx)

	slog.Info("pipeline ready — feed 16-bit mono PCM on stdin, Ctrl+C to shut down")
	if err := pipe.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pipeline error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// remoteBackends lists the any-llm backends the remote classifier can run on.
var remoteBackends = []string{"openai", "anthropic", "gemini", "ollama", "llamacpp"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("whisper-server", func(entry config.ProviderEntry) (stt.Engine, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	// ── Remote classifier ─────────────────────────────────────────────────────
	// All any-llm backends share the same pattern: optional APIKey + BaseURL.
	for _, backend := range remoteBackends {
		reg.RegisterClassify(backend, func(entry config.ProviderEntry) (classify.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildStore opens the configured learning store. Postgres wins when both
// backends are configured. The returned checker, when non-nil, is the
// readiness probe for the store.
func buildStore(ctx context.Context, cfg config.LearnerConfig) (memory.Store, *monitor.Checker, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		s, err := pgstore.NewStore(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("learning store ready", "backend", "postgres")
		checker := &monitor.Checker{Name: "store", Check: s.Ping}
		return s, checker, s.Close, nil

	case cfg.FilePath != "":
		s, err := filestore.NewStore(cfg.FilePath)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("learning store ready", "backend", "file", "path", cfg.FilePath)
		return s, nil, func() {}, nil

	default:
		slog.Info("no learning store configured, corrections are session-local")
		return nil, nil, func() {}, nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Hark — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Primary ASR", cfg.ASR.Primary.Name, cfg.ASR.Primary.Model)
	printProvider("Secondary ASR", cfg.ASR.Secondary.Name, cfg.ASR.Secondary.Model)
	printProvider("Classifier", cfg.Classifier.Remote.Name, cfg.Classifier.Remote.Model)
	printProvider("Embeddings", cfg.Learner.Embeddings.Name, cfg.Learner.Embeddings.Model)
	switch {
	case cfg.Learner.PostgresDSN != "":
		printProvider("Store", "postgres", "")
	case cfg.Learner.FilePath != "":
		printProvider("Store", "file", "")
	default:
		printProvider("Store", "", "")
	}
	switch {
	case cfg.Executor.MCP.Command != "":
		printProvider("Executor", "mcp/stdio", "")
	case cfg.Executor.MCP.URL != "":
		printProvider("Executor", "mcp/http", "")
	default:
		printProvider("Executor", "dry-run", "")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Monitor        : %-20s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-13s  : %-20s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
