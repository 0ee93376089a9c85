package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/visage/internal/app"
	"github.com/MrWong99/visage/internal/config"
	"github.com/MrWong99/visage/pkg/face"
	"github.com/MrWong99/visage/pkg/provider/inference"
	"github.com/MrWong99/visage/pkg/provider/inference/mock"
)

// testConfig returns a config pointing at a fake model file on an ephemeral
// port, with metrics disabled so tests do not touch global providers.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.onnx")
	if err := os.WriteFile(path, []byte("not really onnx"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	smoothing := 0.3
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Model:     config.ModelConfig{Path: path},
		Pipeline:  config.PipelineConfig{Smoothing: &smoothing},
		Telemetry: config.TelemetryConfig{DisableMetrics: true},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testSession() *mock.Session {
	return &mock.Session{
		Inputs:  []string{"audio", "emotion"},
		Outputs: []string{"blendshapes"},
		Result: map[string]inference.Tensor{
			"blendshapes": inference.Zeros(1, face.NumBlendshapes),
		},
	}
}

func newApp(t *testing.T, cfg *config.Config, loader inference.Loader) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, loader)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_LoadsModel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	loader := &mock.Loader{Session: testSession()}
	a := newApp(t, cfg, loader)

	if !a.Server().ModelLoaded() {
		t.Fatal("model not loaded after New")
	}
	calls := loader.Calls()
	if len(calls) != 1 {
		t.Fatalf("Load calls = %d, want 1", len(calls))
	}
	if calls[0].ModelSize != len("not really onnx") {
		t.Errorf("ModelSize = %d, want the model file size", calls[0].ModelSize)
	}
}

func TestNew_AcceleratedFallsBackToCPU(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Model.PreferAccelerated = true
	loader := &mock.Loader{Session: testSession(), AcceleratedErr: errors.New("no CUDA device")}
	a := newApp(t, cfg, loader)

	if !a.Server().ModelLoaded() {
		t.Fatal("model not loaded after CPU fallback")
	}
	calls := loader.Calls()
	if len(calls) != 2 {
		t.Fatalf("Load calls = %d, want 2", len(calls))
	}
	if calls[1].Opts.PreferAccelerated || calls[1].Opts.Provider != inference.ProviderCPU {
		t.Errorf("fallback opts = %+v, want CPU only", calls[1].Opts)
	}
}

func TestNew_LoadFailureStillServes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := newApp(t, cfg, &mock.Loader{LoadErr: errors.New("corrupt model")})

	if a.Server().ModelLoaded() {
		t.Error("ModelLoaded() = true after a failed load")
	}
	if a.Addr() == nil {
		t.Error("listener not bound")
	}
}

func TestNew_MissingModelFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Model.Path = filepath.Join(t.TempDir(), "missing.onnx")

	_, err := app.New(context.Background(), cfg, &mock.Loader{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &mock.Loader{Session: testSession()})
	a.ApplyConfig(context.Background(), config.ConfigDiff{SmoothingChanged: true, NewSmoothing: 0.9})

	if got := a.Server().Smoothing(); got != 0.9 {
		t.Errorf("Smoothing() = %v, want 0.9", got)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	sess := testSession()
	a := newApp(t, testConfig(t), &mock.Loader{Session: sess})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	resp, err := http.Get("http://" + a.Addr().String() + "/api/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /api/health: %v", err)
	}
	var body struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"modelLoaded"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || !body.ModelLoaded {
		t.Errorf("health = %+v, want ok and modelLoaded", body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !sess.Closed() {
		t.Error("model session was not closed on shutdown")
	}
}

// Not parallel: InitProvider replaces the global OpenTelemetry providers.
func TestApp_ServesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.DisableMetrics = false
	a := newApp(t, cfg, &mock.Loader{Session: testSession()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	base := "http://" + a.Addr().String()
	resp, err := http.Post(base+"/process", "application/octet-stream", strings.NewReader(strings.Repeat("\x00", 4*16640)))
	if err != nil {
		t.Fatalf("POST /process: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /process status = %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "visage_windows") {
		t.Errorf("/metrics missing visage_windows:\n%s", data)
	}
}
