package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxStreams < 0 {
		errs = append(errs, fmt.Errorf("server.max_streams %d must not be negative", cfg.Server.MaxStreams))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Model
	if cfg.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if cfg.Model.Provider != "" && !cfg.Model.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("model.provider %q is invalid; valid values: auto, cpu, cuda, coreml", cfg.Model.Provider))
	}
	if cfg.Model.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("model.num_threads %d must not be negative", cfg.Model.NumThreads))
	}
	if !cfg.Model.PreferAccelerated && cfg.Model.Provider != "" && cfg.Model.Provider != "auto" && cfg.Model.Provider != "cpu" {
		slog.Warn("model.provider is ignored because model.prefer_accelerated is false",
			"provider", cfg.Model.Provider)
	}

	// Pipeline
	if cfg.Pipeline.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.input_sample_rate %d must be positive", cfg.Pipeline.InputSampleRate))
	}
	if s := cfg.Pipeline.Smoothing; s != nil && (*s < 0 || *s > 1) {
		errs = append(errs, fmt.Errorf("pipeline.smoothing %.2f is out of range [0, 1]", *s))
	}

	return errors.Join(errs...)
}
