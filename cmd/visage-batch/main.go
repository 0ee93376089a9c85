// Command visage-batch converts a raw mono recording into one aggregate
// animation pose and writes it as JSON.
//
// Usage:
//
//	visage-batch -model network.onnx -in speech.f32 -rate 48000 -out pose.json
//
// The input is headerless PCM: little-endian float32 (-format f32, default) or
// signed 16-bit (-format s16).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/visage/pkg/audio"
	"github.com/MrWong99/visage/pkg/face"
	"github.com/MrWong99/visage/pkg/provider/inference"
	"github.com/MrWong99/visage/pkg/provider/inference/onnx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	modelPath := flag.String("model", "network_actual.onnx", "path to the ONNX model")
	inPath := flag.String("in", "", "raw mono PCM input file (- for stdin)")
	format := flag.String("format", "f32", "input sample format: f32 or s16")
	rate := flag.Int("rate", audio.TargetSampleRate, "input sample rate in Hz")
	outPath := flag.String("out", "", "output JSON file (default stdout)")
	cpuOnly := flag.Bool("cpu", false, "disable GPU/NPU execution providers")
	libPath := flag.String("lib", "", "ONNX Runtime shared library path")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "visage-batch: -in is required")
		flag.Usage()
		return 2
	}
	if err := audio.CheckSampleRate(*rate); err != nil {
		fmt.Fprintf(os.Stderr, "visage-batch: -rate: %v\n", err)
		return 2
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	samples, err := readSamples(*inPath, *format)
	if err != nil {
		slog.Error("failed to read input", "path", *inPath, "err", err)
		return 1
	}

	model, err := os.ReadFile(*modelPath)
	if err != nil {
		slog.Error("failed to read model", "path", *modelPath, "err", err)
		return 1
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	if err := onnx.Init(*libPath); err != nil {
		slog.Error("failed to initialise onnx runtime", "err", err)
		return 1
	}
	defer onnx.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := face.New()
	opts := inference.LoadOptions{PreferAccelerated: !*cpuOnly, Provider: inference.ProviderAuto}
	if err := p.Load(ctx, &onnx.Loader{}, model, opts); err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	defer p.Dispose()

	// ── Process ───────────────────────────────────────────────────────────────
	start := time.Now()
	agg, err := p.ProcessFile(ctx, samples, *rate)
	if err != nil {
		slog.Error("processing failed", "err", err)
		return 1
	}
	slog.Info("recording processed",
		"samples", len(samples),
		"seconds", float64(len(samples))/float64(*rate),
		"frames", agg.FrameCount,
		"duration", time.Since(start),
	)

	if err := writeJSON(*outPath, agg); err != nil {
		slog.Error("failed to write output", "err", err)
		return 1
	}
	return 0
}

func readSamples(path, format string) ([]float32, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	switch format {
	case "f32":
		return audio.DecodeFloat32LE(data)
	case "s16":
		if len(data)%2 != 0 {
			return nil, errors.New("s16 input has an odd number of bytes")
		}
		return audio.Int16ToFloat32(data), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want f32 or s16)", format)
	}
}

func writeJSON(path string, v any) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
