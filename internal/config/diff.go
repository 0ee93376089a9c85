package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// requires a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SmoothingChanged bool
	NewSmoothing     float32

	// RestartRequired lists config sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if o, n := old.Pipeline.SmoothingFactor(), new.Pipeline.SmoothingFactor(); o != n {
		d.SmoothingChanged = true
		d.NewSmoothing = n
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MaxStreams != new.Server.MaxStreams ||
		old.Server.MaxBodyBytes != new.Server.MaxBodyBytes ||
		!sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Model != new.Model {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if old.Pipeline.InputSampleRate != new.Pipeline.InputSampleRate {
		d.RestartRequired = append(d.RestartRequired, "pipeline.input_sample_rate")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
