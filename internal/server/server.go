// Package server exposes face pipelines over HTTP.
//
// Routes:
//
//	POST /process         whole recording (float32 LE mono) → Aggregate JSON
//	POST /process-chunk   streaming chunk on the shared pipeline → Frame JSON
//	GET  /stream          WebSocket; one private pipeline per connection
//	GET  /health          model state for browser clients
//	GET  /healthz, /readyz
//	GET  /metrics         Prometheus scrape endpoint, when configured
//
// The /process, /process-chunk, /stream and /health routes are also served
// under /api. Requests on the shared pipeline are serialised; each stream
// owns its session so streams run in parallel up to a configured limit.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/visage/internal/health"
	"github.com/MrWong99/visage/internal/observe"
	"github.com/MrWong99/visage/internal/resilience"
	"github.com/MrWong99/visage/pkg/audio"
	"github.com/MrWong99/visage/pkg/face"
	"github.com/MrWong99/visage/pkg/provider/inference"
)

// Defaults used when [Config] fields are zero.
const (
	DefaultMaxBodyBytes    = 50 << 20
	DefaultMaxStreams      = 8
	DefaultInputSampleRate = audio.TargetSampleRate
)

// Config holds the request limits of a [Server].
type Config struct {
	// MaxBodyBytes caps POST bodies and WebSocket messages.
	MaxBodyBytes int64

	// MaxStreams caps concurrent WebSocket streams.
	MaxStreams int

	// InputSampleRate is assumed for /process bodies without ?sample_rate=.
	InputSampleRate int

	// Smoothing is the initial smoothing factor for every pipeline. Zero
	// disables smoothing.
	Smoothing float32

	// InsecureSkipVerify disables the WebSocket origin check.
	InsecureSkipVerify bool
}

func (c *Config) applyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxStreams <= 0 {
		c.MaxStreams = DefaultMaxStreams
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputSampleRate
	}
}

// SessionFactory creates a fresh inference session for a new stream.
type SessionFactory func(ctx context.Context) (inference.Session, error)

// Option configures a [Server].
type Option func(*Server)

// WithSessionFactory enables /stream. Without it the route answers 503.
func WithSessionFactory(f SessionFactory) Option {
	return func(s *Server) { s.newSession = f }
}

// WithMetrics records windows and HTTP requests to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithBreaker overrides the circuit breaker guarding shared inference.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Server) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// Server owns the shared streaming and batch pipeline and the set of open
// streams. All methods are safe for concurrent use.
type Server struct {
	cfg Config

	shared   *face.Pipeline
	sharedMu *semaphore.Weighted
	ready    atomic.Bool

	// smoothing holds math.Float32bits of the current factor so streams
	// can pick up changes between chunks.
	smoothing atomic.Uint32

	streams        *StreamManager
	newSession     SessionFactory
	breaker        *resilience.CircuitBreaker
	metrics        *observe.Metrics
	metricsHandler http.Handler
	checkers       []health.Checker
	health         *health.Handler
}

// New creates a Server with no model bound. Call [Server.Bind] once a session
// is available; until then inference routes answer 503.
func New(cfg Config, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:      cfg,
		sharedMu: semaphore.NewWeighted(1),
		streams:  NewStreamManager(cfg.MaxStreams),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "inference",
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
			},
		}),
	}
	s.smoothing.Store(math.Float32bits(cfg.Smoothing))
	for _, opt := range opts {
		opt(s)
	}

	var popts []face.Option
	popts = append(popts, face.WithSmoothing(cfg.Smoothing))
	if s.metrics != nil {
		popts = append(popts, face.WithRecorder(s.metrics))
	}
	s.shared = face.New(popts...)
	s.health = health.New(s.ready.Load, s.checkers...)
	return s
}

// Bind attaches sess to the shared pipeline, replacing any previous session.
func (s *Server) Bind(ctx context.Context, sess inference.Session) error {
	if err := s.sharedMu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sharedMu.Release(1)
	s.shared.Bind(sess)
	s.ready.Store(true)
	return nil
}

// ModelLoaded reports whether the shared pipeline has a session.
func (s *Server) ModelLoaded() bool { return s.ready.Load() }

// Streams returns the stream registry.
func (s *Server) Streams() *StreamManager { return s.streams }

// SetSmoothing changes the smoothing factor of the shared pipeline and of
// every open and future stream. It waits for the shared pipeline to be idle.
func (s *Server) SetSmoothing(ctx context.Context, alpha float32) error {
	s.smoothing.Store(math.Float32bits(alpha))
	if err := s.sharedMu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sharedMu.Release(1)
	s.shared.SetSmoothing(alpha)
	return nil
}

// Smoothing returns the current smoothing factor.
func (s *Server) Smoothing() float32 { return math.Float32frombits(s.smoothing.Load()) }

// Close disposes the shared pipeline. Open streams keep their own sessions
// until their connections end.
func (s *Server) Close() error {
	if err := s.sharedMu.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.sharedMu.Release(1)
	s.ready.Store(false)
	return s.shared.Dispose()
}

// Handler returns the root handler with all routes registered, wrapped in
// the observability middleware when metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/process", s.handleProcess)
		mux.HandleFunc("POST "+prefix+"/process-chunk", s.handleProcessChunk)
		mux.HandleFunc("GET "+prefix+"/stream", s.handleStream)
	}
	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, r, face.ErrNotBound)
		return
	}
	rate, err := s.sampleRate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	samples, err := s.readSamples(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, span := observe.StartAudioSpan(r.Context(), "process_file", len(samples), rate)
	var agg face.Aggregate
	err = s.withShared(ctx, func(p *face.Pipeline) (err error) {
		agg, err = p.ProcessFile(ctx, samples, rate)
		return err
	})
	observe.EndSpan(span, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleProcessChunk(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, r, face.ErrNotBound)
		return
	}
	samples, err := s.readSamples(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, span := observe.StartAudioSpan(r.Context(), "process_chunk", len(samples), audio.TargetSampleRate)
	var frame face.Frame
	err = s.withShared(ctx, func(p *face.Pipeline) (err error) {
		frame, err = p.ProcessChunk(ctx, samples)
		return err
	})
	observe.EndSpan(span, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

// withShared runs fn on the shared pipeline under its lock and the circuit
// breaker. Failures caused by the caller going away do not trip the breaker.
func (s *Server) withShared(ctx context.Context, fn func(*face.Pipeline) error) error {
	if err := s.sharedMu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sharedMu.Release(1)

	if s.shared.State() != face.StateReady {
		return face.ErrNotBound
	}

	var runErr error
	err := s.breaker.Execute(func() error {
		runErr = fn(s.shared)
		if runErr != nil && ctx.Err() == nil && face.IsInferenceFailure(runErr) {
			return runErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	return runErr
}

func (s *Server) sampleRate(r *http.Request) (int, error) {
	v := r.URL.Query().Get("sample_rate")
	if v == "" {
		return s.cfg.InputSampleRate, nil
	}
	rate, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: sample_rate %q", face.ErrUnsupportedSource, v)
	}
	if err := audio.CheckSampleRate(rate); err != nil {
		return 0, fmt.Errorf("%w: sample_rate: %w", face.ErrUnsupportedSource, err)
	}
	return rate, nil
}

// readSamples decodes the request body as little-endian float32 PCM.
func (s *Server) readSamples(w http.ResponseWriter, r *http.Request) ([]float32, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("server: read body: %w", err)
	}
	samples, err := audio.DecodeFloat32LE(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", face.ErrUnsupportedSource, err)
	}
	return samples, nil
}
