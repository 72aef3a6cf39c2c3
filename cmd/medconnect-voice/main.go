// Command medconnect-voice serves voice booking sessions over WebSocket.
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

	"github.com/MrWong99/medconnect/internal/app"
	"github.com/MrWong99/medconnect/internal/config"
	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/internal/dialogue/rest"
	"github.com/MrWong99/medconnect/internal/observe"
	"github.com/MrWong99/medconnect/internal/resilience"
	"github.com/MrWong99/medconnect/pkg/provider/stt"
	"github.com/MrWong99/medconnect/pkg/provider/stt/deepgram"
	"github.com/MrWong99/medconnect/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "medconnect-voice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medconnect-voice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(observe.ParseLevel(string(cfg.Server.LogLevel)))
	handler, closeLog, err := observe.NewLogHandler(string(cfg.Server.LogFormat), os.Stderr, &level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "medconnect-voice: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(slog.New(handler))

	slog.Info("medconnect-voice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if ms, ok := optInt(entry.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if ms, ok := optInt(entry.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	slog.Debug("registered stt providers", "names", reg.STTNames())
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	backend, err := buildDialogue(cfg.Dialogue)
	if err != nil {
		return nil, err
	}
	ps := &app.Providers{Dialogue: backend}

	if cfg.Providers.STT.Name == "" {
		return ps, nil
	}
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	if len(cfg.Providers.STTFallbacks) == 0 {
		ps.STT = primary
		return ps, nil
	}

	group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
	}
	slog.Info("stt fallback chain", "order", group.Names())
	ps.STT = group
	return ps, nil
}

func buildDialogue(dc config.DialogueConfig) (dialogue.Backend, error) {
	opts := []rest.Option{rest.WithTimeout(dc.Timeout), rest.WithUserAgent("medconnect-voice/" + version)}
	if dc.Token != "" {
		opts = append(opts, rest.WithToken(dc.Token))
	}

	primary, err := rest.New(dc.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create dialogue client: %w", err)
	}
	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  dc.CircuitBreaker.MaxFailures,
		ResetTimeout: dc.CircuitBreaker.ResetTimeout,
	}
	group := resilience.NewDialogueFallback(primary, primary.BaseURL(), resilience.FallbackConfig{CircuitBreaker: breaker})
	for _, u := range dc.FallbackURLs {
		c, err := rest.New(u, opts...)
		if err != nil {
			return nil, fmt.Errorf("create dialogue fallback client: %w", err)
		}
		group.AddFallback(c.BaseURL(), c)
	}
	slog.Info("dialogue backend configured", "replicas", group.Names())
	return group, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString returns opts[key] if it is a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt returns opts[key] if it is a whole number. YAML decodes integers
// as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	default:
		return 0, false
	}
}
