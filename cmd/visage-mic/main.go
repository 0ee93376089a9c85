// Command visage-mic animates from the default microphone in real time and
// logs the jaw opening and the strongest blendshape of every new window.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/visage/internal/capture"
	"github.com/MrWong99/visage/internal/config"
	"github.com/MrWong99/visage/pkg/face"
	"github.com/MrWong99/visage/pkg/provider/inference/onnx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "optional YAML config; model and pipeline sections are used")
	modelPath := flag.String("model", "", "path to the ONNX model (overrides the config)")
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "visage-mic: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	config.ApplyDefaults(cfg)
	if cfg.Model.Path == "" {
		cfg.Model.Path = "network_actual.onnx"
	}

	lvl := slog.LevelInfo
	if cfg.Server.LogLevel == config.LogDebug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	// ── Model ─────────────────────────────────────────────────────────────────
	model, err := os.ReadFile(cfg.Model.Path)
	if err != nil {
		slog.Error("failed to read model", "path", cfg.Model.Path, "err", err)
		return 1
	}
	if err := onnx.Init(cfg.Model.LibraryPath); err != nil {
		slog.Error("failed to initialise onnx runtime", "err", err)
		return 1
	}
	defer onnx.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := face.New(face.WithSmoothing(cfg.Pipeline.SmoothingFactor()))
	if err := p.Load(ctx, &onnx.Loader{}, model, cfg.Model.LoadOptions()); err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	defer p.Dispose()

	// ── Capture ───────────────────────────────────────────────────────────────
	// The pipeline is owned by this goroutine; capture hands chunks over.
	chunks := make(chan []float32, 64)
	mic, err := capture.New(func(samples []float32) {
		select {
		case chunks <- samples:
		default:
			slog.Debug("pipeline behind, dropping microphone chunk")
		}
	})
	if err != nil {
		slog.Error("failed to open audio backend", "err", err)
		return 1
	}
	defer mic.Close()

	if err := mic.Start(); err != nil {
		slog.Error("failed to start microphone", "err", err)
		return 1
	}
	slog.Info("listening; press Ctrl+C to stop")

	var seen uint64
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopped", "dropped_periods", mic.Dropped())
			return 0
		case samples := <-chunks:
			frame, err := p.ProcessChunk(ctx, samples)
			if err != nil {
				slog.Warn("window failed", "err", err)
				continue
			}
			if !freshWindow(p, &seen) {
				continue
			}
			strongest, _ := frame.Blendshapes.Strongest()
			slog.Info("frame",
				"window", seen,
				"jaw", fmt.Sprintf("%.3f", frame.Jaw),
				"strongest", strongest.Name,
				"weight", fmt.Sprintf("%.3f", strongest.Value),
			)
		}
	}
}

// freshWindow reports whether p produced a new streaming window since the
// count stored in seen, and advances seen. Repeated frames and the empty frame
// returned before the first window are not fresh.
func freshWindow(p *face.Pipeline, seen *uint64) bool {
	n := p.Streamed()
	if n == *seen {
		return false
	}
	*seen = n
	return true
}
