// Package observe provides application-wide observability primitives for
// visage: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/visage/pkg/face"
)

// meterName is the instrumentation scope name used for all visage metrics.
const meterName = "github.com/MrWong99/visage"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InferenceDuration tracks the latency of a single window's model run.
	// Use with attribute.String("mode", ...).
	InferenceDuration metric.Float64Histogram

	// Windows counts processed analysis windows. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	Windows metric.Int64Counter

	// InferenceErrors counts failed model runs by mode.
	InferenceErrors metric.Int64Counter

	// ActiveStreams tracks the number of open WebSocket streams.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var _ face.Recorder = (*Metrics)(nil)

// latencyBuckets defines histogram bucket boundaries (in seconds) for a
// single 520 ms window. Anything past 0.5 s cannot keep up with live audio.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("visage.inference.duration",
		metric.WithDescription("Latency of a single window inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Windows, err = m.Int64Counter("visage.windows",
		metric.WithDescription("Total analysis windows processed by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("visage.inference.errors",
		metric.WithDescription("Total failed window inferences by mode."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("visage.active_streams",
		metric.WithDescription("Number of open streaming connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("visage.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWindow implements [face.Recorder]. It records latency for every
// window and counts it as "ok" or "error".
func (m *Metrics) RecordWindow(ctx context.Context, mode face.Mode, latency time.Duration, err error) {
	modeAttr := attribute.String("mode", string(mode))
	status := "ok"
	if err != nil {
		status = "error"
		m.InferenceErrors.Add(ctx, 1, metric.WithAttributes(modeAttr))
	}
	m.InferenceDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(modeAttr))
	m.Windows.Add(ctx, 1, metric.WithAttributes(modeAttr, attribute.String("status", status)))
}

// StreamOpened increments the active stream gauge.
func (m *Metrics) StreamOpened(ctx context.Context) { m.ActiveStreams.Add(ctx, 1) }

// StreamClosed decrements the active stream gauge.
func (m *Metrics) StreamClosed(ctx context.Context) { m.ActiveStreams.Add(ctx, -1) }
