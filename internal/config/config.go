// Package config provides the configuration schema, loader and hot-reload
// watcher for the visage animation server.
package config

import "github.com/MrWong99/visage/pkg/provider/inference"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8765"
	DefaultMaxStreams      = 8
	DefaultMaxBodyBytes    = 50 << 20
	DefaultInputSampleRate = 16000
	DefaultSmoothing       = 0.3
	DefaultServiceName     = "visage"
	DefaultBackend         = "onnx"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network, admission and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxStreams caps concurrent WebSocket streams. Each stream owns its own
	// inference session.
	MaxStreams int `yaml:"max_streams"`

	// MaxBodyBytes caps the size of POSTed audio.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ModelConfig locates the model and selects how it is executed.
type ModelConfig struct {
	// Path is the model file. Required.
	Path string `yaml:"path"`

	// Backend selects the registered inference backend that loads the
	// model. Default: "onnx".
	Backend string `yaml:"backend"`

	// LibraryPath is the ONNX Runtime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string `yaml:"library_path"`

	// PreferAccelerated tries a GPU/NPU execution provider first and falls
	// back to the CPU once if that fails.
	PreferAccelerated bool `yaml:"prefer_accelerated"`

	// Provider selects the accelerator: auto, cpu, cuda or coreml.
	Provider inference.ExecutionProvider `yaml:"provider"`

	// NumThreads bounds intra-op parallelism. Zero keeps the engine default.
	NumThreads int `yaml:"num_threads"`
}

// LoadOptions converts the model settings into inference.LoadOptions.
func (m ModelConfig) LoadOptions() inference.LoadOptions {
	return inference.LoadOptions{
		PreferAccelerated: m.PreferAccelerated,
		Provider:          m.Provider,
		NumThreads:        m.NumThreads,
	}
}

// PipelineConfig tunes audio processing.
type PipelineConfig struct {
	// InputSampleRate is assumed for uploaded recordings that do not state
	// their rate.
	InputSampleRate int `yaml:"input_sample_rate"`

	// Smoothing is the weight of the previous frame for streaming output,
	// in [0, 1]. Hot-reloadable. Nil means [DefaultSmoothing].
	Smoothing *float64 `yaml:"smoothing"`
}

// SmoothingFactor returns the configured smoothing or the default.
func (p PipelineConfig) SmoothingFactor() float32 {
	if p.Smoothing == nil {
		return DefaultSmoothing
	}
	return float32(*p.Smoothing)
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name resource.
	ServiceName string `yaml:"service_name"`

	// DisableMetrics turns off the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxStreams == 0 {
		cfg.Server.MaxStreams = DefaultMaxStreams
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = DefaultBackend
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = inference.ProviderAuto
	}
	if cfg.Pipeline.InputSampleRate == 0 {
		cfg.Pipeline.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
