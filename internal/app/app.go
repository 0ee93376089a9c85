// Package app wires all visage subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the model, sets up
// telemetry and binds the listener, Run serves HTTP until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options ([WithMetrics]) and a
// mock [inference.Loader].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/visage/internal/config"
	"github.com/MrWong99/visage/internal/observe"
	"github.com/MrWong99/visage/internal/server"
	"github.com/MrWong99/visage/pkg/provider/inference"
)

// Version is reported as the telemetry service.version.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg    *config.Config
	loader inference.Loader
	model  []byte

	telemetry *observe.Provider
	metrics   *observe.Metrics
	server    *server.Server
	httpSrv   *http.Server
	listener  net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects metric instruments instead of initialising the
// OpenTelemetry SDK. No /metrics route is served.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The loader comes from
// main.go via the config registry.
//
// A model that fails to load is logged and does not fail New: the server
// starts anyway, reports modelLoaded=false and answers inference routes with
// 503. A missing model file, a telemetry failure or a listener that cannot
// bind are returned as errors.
func New(ctx context.Context, cfg *config.Config, loader inference.Loader, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, loader: loader}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Model file ────────────────────────────────────────────────────
	model, err := os.ReadFile(cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("app: read model: %w", err)
	}
	a.model = model

	// ── 2. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 3. Server ────────────────────────────────────────────────────────
	sopts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithSessionFactory(a.newSession),
	}
	if a.telemetry != nil {
		sopts = append(sopts, server.WithMetricsHandler(a.telemetry.Handler()))
	}
	a.server = server.New(server.Config{
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		MaxStreams:      cfg.Server.MaxStreams,
		InputSampleRate: cfg.Pipeline.InputSampleRate,
		Smoothing:       cfg.Pipeline.SmoothingFactor(),
	}, sopts...)
	a.closers = append(a.closers, a.server.Close)

	// ── 4. Model session ─────────────────────────────────────────────────
	a.loadModel(ctx)

	// ── 5. Listener ──────────────────────────────────────────────────────
	l, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	a.listener = l
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OpenTelemetry SDK with the Prometheus bridge.
// With metrics disabled the instruments are no-ops so the request middleware
// still traces and logs.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	if a.cfg.Telemetry.DisableMetrics {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return err
		}
		a.metrics = m
		return nil
	}

	tp, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.telemetry = tp
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// loadModel builds the shared session and binds it to the server.
func (a *App) loadModel(ctx context.Context) {
	start := time.Now()
	sess, err := a.newSession(ctx)
	if err != nil {
		slog.Error("failed to load model; inference routes will answer 503",
			"path", a.cfg.Model.Path, "err", err)
		return
	}
	if err := a.server.Bind(ctx, sess); err != nil {
		_ = sess.Close()
		slog.Error("failed to bind model", "err", err)
		return
	}
	slog.Info("model loaded",
		"path", a.cfg.Model.Path,
		"bytes", len(a.model),
		"inputs", sess.InputNames(),
		"outputs", sess.OutputNames(),
		"duration", time.Since(start),
	)
}

// newSession loads a fresh session from the model bytes. Used for the shared
// pipeline and for every stream.
func (a *App) newSession(ctx context.Context) (inference.Session, error) {
	return inference.LoadWithFallback(ctx, a.loader, a.model, a.cfg.Model.LoadOptions())
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the bound listener address.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Server returns the HTTP server component.
func (a *App) Server() *server.Server { return a.server }

// ApplyConfig applies the hot-reloadable parts of a config change.
func (a *App) ApplyConfig(ctx context.Context, d config.ConfigDiff) {
	if d.SmoothingChanged {
		if err := a.server.SetSmoothing(ctx, d.NewSmoothing); err != nil {
			slog.Warn("failed to apply smoothing", "err", err)
			return
		}
		slog.Info("smoothing updated", "smoothing", d.NewSmoothing)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// When ctx is done, in-flight requests get a grace period and Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.listener.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
