package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/visage/internal/config"
	"github.com/MrWong99/visage/pkg/provider/inference"
	"github.com/MrWong99/visage/pkg/provider/inference/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  max_streams: 2
  max_body_bytes: 1048576

model:
  path: models/network_actual.onnx
  backend: onnx
  library_path: /usr/lib/libonnxruntime.so
  prefer_accelerated: true
  provider: cuda
  num_threads: 4

pipeline:
  input_sample_rate: 48000
  smoothing: 0.5

telemetry:
  service_name: visage-test
`

func load(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(yaml))
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.MaxStreams != 2 {
		t.Errorf("server.max_streams: got %d, want 2", cfg.Server.MaxStreams)
	}
	if cfg.Model.Provider != inference.ProviderCUDA {
		t.Errorf("model.provider: got %q, want cuda", cfg.Model.Provider)
	}
	opts := cfg.Model.LoadOptions()
	if !opts.PreferAccelerated || opts.NumThreads != 4 {
		t.Errorf("LoadOptions: got %+v", opts)
	}
	if cfg.Pipeline.InputSampleRate != 48000 {
		t.Errorf("pipeline.input_sample_rate: got %d, want 48000", cfg.Pipeline.InputSampleRate)
	}
	if got := cfg.Pipeline.SmoothingFactor(); got != 0.5 {
		t.Errorf("pipeline.smoothing: got %v, want 0.5", got)
	}
	if cfg.Telemetry.ServiceName != "visage-test" {
		t.Errorf("telemetry.service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "model:\n  path: model.onnx\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.MaxStreams != config.DefaultMaxStreams {
		t.Errorf("max_streams: got %d, want %d", cfg.Server.MaxStreams, config.DefaultMaxStreams)
	}
	if cfg.Model.Backend != config.DefaultBackend {
		t.Errorf("backend: got %q, want %q", cfg.Model.Backend, config.DefaultBackend)
	}
	if cfg.Model.Provider != inference.ProviderAuto {
		t.Errorf("provider: got %q, want auto", cfg.Model.Provider)
	}
	if cfg.Pipeline.InputSampleRate != 16000 {
		t.Errorf("input_sample_rate: got %d, want 16000", cfg.Pipeline.InputSampleRate)
	}
	if got := cfg.Pipeline.SmoothingFactor(); got != 0.3 {
		t.Errorf("smoothing: got %v, want 0.3", got)
	}
}

func TestLoadFromReader_ExplicitZeroSmoothing(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "model:\n  path: m.onnx\npipeline:\n  smoothing: 0\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Pipeline.SmoothingFactor(); got != 0 {
		t.Errorf("smoothing: got %v, want 0 (explicit zero disables smoothing)", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := load(t, "model:\n  path: m.onnx\n  colour: blue\n")
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing model path", "server:\n  log_level: info\n", "model.path"},
		{"invalid log level", "model:\n  path: m\nserver:\n  log_level: verbose\n", "log_level"},
		{"invalid provider", "model:\n  path: m\n  provider: tpu\n", "model.provider"},
		{"negative threads", "model:\n  path: m\n  num_threads: -1\n", "num_threads"},
		{"smoothing too high", "model:\n  path: m\npipeline:\n  smoothing: 1.5\n", "pipeline.smoothing"},
		{"negative smoothing", "model:\n  path: m\npipeline:\n  smoothing: -0.1\n", "pipeline.smoothing"},
		{"negative sample rate", "model:\n  path: m\npipeline:\n  input_sample_rate: -8000\n", "input_sample_rate"},
		{"negative streams", "model:\n  path: m\nserver:\n  max_streams: -1\n", "max_streams"},
		{"incomplete tls", "model:\n  path: m\nserver:\n  tls:\n    cert_file: a.pem\n", "tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tt.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := load(t, "server:\n  log_level: loud\nmodel:\n  provider: tpu\n")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "model.path", "model.provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLoader(config.ModelConfig{Backend: "tensorrt"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_RegisteredBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &mock.Loader{}
	var gotCfg config.ModelConfig
	reg.RegisterBackend("mock", func(m config.ModelConfig) (inference.Loader, error) {
		gotCfg = m
		return want, nil
	})

	l, err := reg.CreateLoader(config.ModelConfig{Backend: "mock", LibraryPath: "/lib"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != want {
		t.Error("CreateLoader returned a different loader")
	}
	if gotCfg.LibraryPath != "/lib" {
		t.Errorf("factory got %+v", gotCfg)
	}
	if names := reg.Backends(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("Backends() = %v, want [mock]", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	errLib := errors.New("library not found")
	reg := config.NewRegistry()
	reg.RegisterBackend("onnx", func(config.ModelConfig) (inference.Loader, error) {
		return nil, errLib
	})
	_, err := reg.CreateLoader(config.ModelConfig{Backend: "onnx"})
	if !errors.Is(err, errLib) {
		t.Errorf("err = %v, want %v", err, errLib)
	}
}
