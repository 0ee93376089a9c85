// Command visage serves audio-driven facial animation over HTTP.
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

	"github.com/MrWong99/visage/internal/app"
	"github.com/MrWong99/visage/internal/config"
	"github.com/MrWong99/visage/pkg/provider/inference"
	"github.com/MrWong99/visage/pkg/provider/inference/onnx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "visage: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "visage: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("visage starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Inference backend ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	loader, err := reg.CreateLoader(cfg.Model)
	if err != nil {
		slog.Error("failed to create inference backend", "backend", cfg.Model.Backend, "err", err)
		return 1
	}
	defer func() {
		if err := onnx.Shutdown(); err != nil {
			slog.Warn("onnx runtime shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, loader)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.ApplyConfig(ctx, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down", "addr", application.Addr().String())

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the inference backends that ship with visage.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend("onnx", func(m config.ModelConfig) (inference.Loader, error) {
		if err := onnx.Init(m.LibraryPath); err != nil {
			return nil, err
		}
		return &onnx.Loader{}, nil
	})

	for _, name := range reg.Backends() {
		slog.Debug("registered inference backend", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          visage: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Model.Path)
	printRow("Backend", cfg.Model.Backend)
	provider := string(inference.ProviderCPU)
	if cfg.Model.PreferAccelerated {
		provider = string(cfg.Model.Provider) + " → cpu"
	}
	printRow("Provider", provider)
	printRow("Smoothing", fmt.Sprintf("%.2f", cfg.Pipeline.SmoothingFactor()))
	printRow("Input rate", fmt.Sprintf("%d Hz", cfg.Pipeline.InputSampleRate))
	printRow("Max streams", fmt.Sprintf("%d", cfg.Server.MaxStreams))
	if cfg.Telemetry.DisableMetrics {
		printRow("Metrics", "(disabled)")
	} else {
		printRow("Metrics", "/metrics")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = "…" + string(r[len(r)-18:])
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
